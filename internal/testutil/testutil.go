// Package testutil provides shared test helpers for vaults, ledgers and a fake
// language model.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/starford/steward/internal/ledger"
	"github.com/starford/steward/internal/llm"
	"github.com/starford/steward/internal/models"
	"github.com/starford/steward/internal/vault"
)

// TestVault creates a temporary vault holding files (relative path -> content).
func TestVault(t *testing.T, files map[string]string) (string, *vault.Reader) {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		WriteFile(t, dir, rel, content)
	}
	r, err := vault.NewReader(dir, vault.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return dir, r
}

// WriteFile writes content at rel under root, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestLedger opens a ledger in a temporary directory.
func TestLedger(t *testing.T) *ledger.DB {
	t.Helper()
	db, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// FakeLLM is an llm.Client returning canned output. It records every
// conversation it receives.
type FakeLLM struct {
	mu        sync.Mutex
	Reply     string
	Fragments []string
	// StreamErr ends a stream after Fragments.
	StreamErr error
	Err       error
	Healthy   bool
	Calls     [][]models.Message
}

var _ llm.Client = (*FakeLLM)(nil)

func (f *FakeLLM) record(msgs []models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, append([]models.Message(nil), msgs...))
}

// CallCount returns how many requests were made.
func (f *FakeLLM) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// LastCall returns the most recent conversation, or nil.
func (f *FakeLLM) LastCall() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Calls) == 0 {
		return nil
	}
	return f.Calls[len(f.Calls)-1]
}

func (f *FakeLLM) Complete(_ context.Context, msgs []models.Message) (string, error) {
	f.record(msgs)
	if f.Err != nil {
		return "", f.Err
	}
	return f.Reply, nil
}

func (f *FakeLLM) Stream(_ context.Context, msgs []models.Message) (*llm.Stream, error) {
	f.record(msgs)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.StreamErr != nil {
		return llm.StreamFailing(f.StreamErr, f.Fragments...), nil
	}
	return llm.StreamOf(f.Fragments...), nil
}

func (f *FakeLLM) Health(context.Context) bool { return f.Healthy }

func (f *FakeLLM) Model() string { return "fake-model" }
