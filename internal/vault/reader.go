package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/starford/steward/internal/apperr"
	"github.com/starford/steward/internal/models"
)

// DefaultExcerptLength bounds search excerpts, in runes.
const DefaultExcerptLength = 200

// Options tunes a Reader. The zero value is usable.
type Options struct {
	// ExcerptLength caps search excerpts in runes. Zero means DefaultExcerptLength.
	ExcerptLength int
	// IgnoredDirs are directory names skipped during walks (e.g. ".obsidian").
	IgnoredDirs []string
	Logger      *slog.Logger
}

// Reader implements Provider backed by the local file system.
// Nothing is cached: every call walks or reads the disk.
type Reader struct {
	root       string // absolute path as configured, symlinks not yet resolved
	excerptLen int
	ignored    map[string]struct{}
	logger     *slog.Logger
}

// NewReader creates a Reader rooted at root. The root does not have to exist
// yet; operations report apperr.ErrVaultUnavailable until it does.
func NewReader(root string, opts Options) (*Reader, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("vault: resolve root: %w", err)
	}
	r := &Reader{
		root:       abs,
		excerptLen: opts.ExcerptLength,
		ignored:    make(map[string]struct{}, len(opts.IgnoredDirs)),
		logger:     opts.Logger,
	}
	if r.excerptLen <= 0 {
		r.excerptLen = DefaultExcerptLength
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	for _, d := range opts.IgnoredDirs {
		r.ignored[d] = struct{}{}
	}
	return r, nil
}

// Root returns the configured absolute root.
func (r *Reader) Root() string {
	return r.root
}

// IsIgnored reports whether a directory with the given name is skipped by walks.
func (r *Reader) IsIgnored(name string) bool {
	_, ok := r.ignored[name]
	return ok
}

// Available reports whether the vault root currently exists and is a directory.
func (r *Reader) Available() error {
	_, err := r.canonicalRoot()
	return err
}

// canonicalRoot resolves symlinks in the root and checks it is a directory.
func (r *Reader) canonicalRoot() (string, error) {
	resolved, err := filepath.EvalSymlinks(r.root)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", apperr.ErrVaultUnavailable, r.root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", apperr.ErrVaultUnavailable, r.root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: root is not a directory: %s", apperr.ErrVaultUnavailable, r.root)
	}
	return resolved, nil
}

// Resolve turns a vault-relative path into a canonical absolute path that is
// guaranteed to be the root or a descendant of it. Every file access goes
// through here.
func (r *Reader) Resolve(rel string) (string, error) {
	root, err := r.canonicalRoot()
	if err != nil {
		return "", err
	}
	return resolveWithin(root, rel)
}

// resolveWithin implements the traversal guard against an already canonical root.
// The lexical check runs before anything on the unresolved path is touched.
func resolveWithin(root, rel string) (string, error) {
	cleaned := filepath.FromSlash(rel)
	if filepath.IsAbs(cleaned) || filepath.VolumeName(cleaned) != "" {
		return "", fmt.Errorf("%w: absolute paths not allowed: %s", apperr.ErrAccessDenied, rel)
	}
	joined := filepath.Join(root, cleaned)
	if !within(root, joined) {
		return "", fmt.Errorf("%w: path escapes vault root: %s", apperr.ErrAccessDenied, rel)
	}
	resolved, err := evalExisting(joined)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "", fmt.Errorf("%w: %s", apperr.ErrAccessDenied, rel)
		}
		return "", fmt.Errorf("vault: resolve %s: %w", rel, err)
	}
	if !within(root, resolved) {
		return "", fmt.Errorf("%w: symlink escapes vault root: %s", apperr.ErrAccessDenied, rel)
	}
	return resolved, nil
}

// evalExisting resolves symlinks in the longest existing prefix of p and
// re-appends the part that does not exist yet.
func evalExisting(p string) (string, error) {
	var tail []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if errors.Is(err, fs.ErrPermission) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}

func within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	return strings.HasPrefix(p, prefix)
}

// Read returns the full text of the file at rel.
func (r *Reader) Read(_ context.Context, rel string) (string, error) {
	abs, err := r.Resolve(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", classify(rel, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", apperr.ErrNotFound, rel)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", classify(rel, err)
	}
	return string(data), nil
}

// classify maps filesystem errors onto the vault sentinels. A path that runs
// through a regular file (ENOTDIR) does not exist either.
func classify(rel string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, rel)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", apperr.ErrAccessDenied, rel)
	default:
		return fmt.Errorf("vault: read %s: %w", rel, err)
	}
}

// List walks the vault and returns every .md file sorted by path.
func (r *Reader) List(ctx context.Context) ([]models.VaultFile, error) {
	files := []models.VaultFile{}
	err := r.walk(ctx, func(rel, _ string, _ fs.DirEntry) error {
		files = append(files, newVaultFile(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(files, func(a, b models.VaultFile) int {
		return strings.Compare(a.Path, b.Path)
	})
	return files, nil
}

// Recent returns up to limit files ordered by modification time descending.
// A non-positive limit yields an empty slice.
func (r *Reader) Recent(ctx context.Context, limit int) ([]models.RecentFile, error) {
	if limit <= 0 {
		return []models.RecentFile{}, nil
	}
	files := []models.RecentFile{}
	err := r.walk(ctx, func(rel, abs string, d fs.DirEntry) error {
		info, err := os.Stat(abs)
		if err != nil {
			r.logger.Debug("vault: stat failed", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}
		files = append(files, models.RecentFile{VaultFile: newVaultFile(rel), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(files, func(a, b models.RecentFile) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	if len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

// Search scans every markdown file for lines containing query, ignoring case.
// A blank query yields no hits. Files that are not valid UTF-8 are skipped.
func (r *Reader) Search(ctx context.Context, query string) ([]models.SearchHit, error) {
	hits := []models.SearchHit{}
	if strings.TrimSpace(query) == "" {
		return hits, nil
	}
	needle := strings.ToLower(query)

	err := r.walk(ctx, func(rel, abs string, _ fs.DirEntry) error {
		data, err := os.ReadFile(abs)
		if err != nil {
			r.logger.Debug("vault: search read failed", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}
		if !utf8.Valid(data) {
			r.logger.Debug("vault: search skipped non-text file", slog.String("path", rel))
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if !strings.Contains(strings.ToLower(line), needle) {
				continue
			}
			hits = append(hits, models.SearchHit{
				Path:    rel,
				Line:    i + 1,
				Excerpt: excerpt(line, r.excerptLen),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// walkFunc receives the slash-separated relative path and the absolute,
// guard-checked path of each markdown file.
type walkFunc func(rel, abs string, d fs.DirEntry) error

// walk visits markdown files in lexical order, skipping ignored directories
// and symlinks that resolve outside the root.
func (r *Reader) walk(ctx context.Context, fn walkFunc) error {
	root, err := r.canonicalRoot()
	if err != nil {
		return err
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return fmt.Errorf("%w: %w", apperr.ErrVaultUnavailable, walkErr)
			}
			r.logger.Debug("vault: skip unreadable entry", slog.String("path", p), slog.String("error", walkErr.Error()))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && r.IsIgnored(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !IsMarkdown(d.Name()) {
			return nil
		}
		relOS, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(relOS)
		abs := p
		if d.Type()&fs.ModeSymlink != 0 {
			abs, err = resolveWithin(root, relOS)
			if err != nil {
				r.logger.Debug("vault: skip symlink", slog.String("path", rel), slog.String("error", err.Error()))
				return nil
			}
		}
		return fn(rel, abs, d)
	})
}

// IsMarkdown reports whether name has the .md extension.
func IsMarkdown(name string) bool {
	return strings.HasSuffix(name, ".md")
}

func newVaultFile(rel string) models.VaultFile {
	folder := path.Dir(rel)
	if folder == "." {
		folder = ""
	}
	return models.VaultFile{
		Path:   rel,
		Name:   path.Base(rel),
		Folder: folder,
	}
}

// excerpt trims whitespace and caps the line at limit runes.
func excerpt(line string, limit int) string {
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= limit {
		return line
	}
	runes := []rune(line)
	return string(runes[:limit])
}
