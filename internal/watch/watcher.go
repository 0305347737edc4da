// Package watch reports changes to markdown files in the vault.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/steward/internal/vault"
)

// Change kinds passed to EventCallback.
const (
	Created = "created"
	Updated = "updated"
	Deleted = "deleted"
)

const reconcileDelay = 200 * time.Millisecond

// EventCallback is called for every observed change to a vault .md file.
// path is slash-separated and relative to the vault root.
type EventCallback func(kind string, path string)

// Vault is the part of the vault reader the watcher needs.
type Vault interface {
	vault.Provider
	Root() string
	IsIgnored(name string) bool
}

// Watch starts an fsnotify watcher on the vault root and reports changes until
// ctx is cancelled. Directories created at runtime are watched too. Renames
// trigger a debounced reconciliation against a fresh listing, since fsnotify
// reports only the old name.
func Watch(ctx context.Context, v Vault, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	root := v.Root()
	if err := addDirsRecursive(w, root, v.IsIgnored); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}

	known := make(map[string]struct{})
	if files, err := v.List(ctx); err == nil {
		for _, f := range files {
			known[f.Path] = struct{}{}
		}
	}

	emit := func(kind, rel string) {
		switch kind {
		case Deleted:
			delete(known, rel)
		default:
			known[rel] = struct{}{}
		}
		logger.Debug("watcher: change", slog.String("path", rel), slog.String("op", kind))
		if cb != nil {
			cb(kind, rel)
		}
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time
	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(ctx, v, known, logger, emit)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if v.IsIgnored(filepath.Base(absPath)) {
						continue
					}
					if addErr := addDirsRecursive(w, absPath, v.IsIgnored); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					// Files may have landed before the directory was watched.
					scheduleReconcile()
					continue
				}
			}

			if !vault.IsMarkdown(absPath) {
				continue
			}
			relOS, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			rel := filepath.ToSlash(relOS)

			switch {
			case ev.Op&fsnotify.Create != 0:
				emit(Created, rel)
			case ev.Op&fsnotify.Write != 0:
				if _, seen := known[rel]; seen {
					emit(Updated, rel)
				} else {
					emit(Created, rel)
				}
			case ev.Op&fsnotify.Remove != 0:
				emit(Deleted, rel)
			case ev.Op&fsnotify.Rename != 0:
				emit(Deleted, rel)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reconcile diffs the known set against a fresh listing.
func reconcile(ctx context.Context, v Vault, known map[string]struct{}, logger *slog.Logger, emit func(kind, rel string)) {
	files, err := v.List(ctx)
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}
	disk := make(map[string]struct{}, len(files))
	for _, f := range files {
		disk[f.Path] = struct{}{}
		if _, ok := known[f.Path]; !ok {
			emit(Created, f.Path)
		}
	}
	for p := range known {
		if _, ok := disk[p]; !ok {
			emit(Deleted, p)
		}
	}
}

// addDirsRecursive adds root and all its non-ignored subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string, ignored func(string) bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignored(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
