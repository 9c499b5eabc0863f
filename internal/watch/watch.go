// Package watch mirrors a directory on disk into a branch. Scan records the
// whole directory as one commit; Watch then commits every file write and
// removal as it happens.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	verr "relgit/internal/errors"
	"relgit/internal/logging"
	"relgit/internal/repo"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultIgnore names directories that are never mirrored.
var DefaultIgnore = []string{".git", ".relgit", "node_modules", "vendor"}

type Options struct {
	Ignore []string
	Logger *logging.Logger
	// OnCommit is called after each commit Watch makes.
	OnCommit func(path string, deleted bool, oid string)
}

type Watcher struct {
	root   string
	branch *repo.Branch
	ignore map[string]bool
	logger *logging.Logger
	notify func(string, bool, string)
}

func New(root string, b *repo.Branch, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("accessing %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, verr.ValidationError(root+" is not a directory", nil)
	}
	if opts.Ignore == nil {
		opts.Ignore = DefaultIgnore
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	ignore := make(map[string]bool, len(opts.Ignore))
	for _, name := range opts.Ignore {
		ignore[name] = true
	}
	return &Watcher{root: abs, branch: b, ignore: ignore, logger: opts.Logger, notify: opts.OnCommit}, nil
}

// ShouldIgnore reports whether rel, relative to the root, is skipped.
func (w *Watcher) ShouldIgnore(rel string) bool {
	if rel == "" || rel == "." {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if w.ignore[part] {
			return true
		}
	}
	return false
}

func (w *Watcher) rel(abs string) (string, error) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return "", fmt.Errorf("getting relative path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// Scan makes the branch match the directory in a single commit: new and
// changed files are written and files gone from disk are deleted. It
// returns "" when nothing differs.
func (w *Watcher) Scan(ctx context.Context) (string, error) {
	onDisk := map[string][]byte{}
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := w.rel(p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel != "." && w.ShouldIgnore(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || w.ShouldIgnore(rel) {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		onDisk[rel] = content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", w.root, err)
	}

	entries, err := w.branch.List(ctx, repo.ListOptions{Recursive: true})
	if err != nil {
		return "", err
	}
	tracked := make(map[string]string, len(entries))
	for _, e := range entries {
		tracked[e.Path] = e.BlobOID
	}

	h := w.branch.Store().Hasher()
	var edits []repo.Edit
	for _, e := range entries {
		if _, ok := onDisk[e.Path]; !ok && !w.ShouldIgnore(e.Path) {
			edits = append(edits, repo.Edit{Path: e.Path, Delete: true})
		}
	}
	for p, content := range onDisk {
		if oid, ok := tracked[p]; ok && oid == h.HashBlob(content) {
			continue
		}
		edits = append(edits, repo.Edit{Path: p, Content: content})
	}
	if len(edits) == 0 {
		return "", nil
	}

	var oid string
	err = w.branch.Batch(ctx, func(wr *repo.Writer) error {
		c, err := wr.Commit(fmt.Sprintf("Scan %d paths", len(edits)), sortEdits(edits)...)
		if err != nil {
			return err
		}
		oid = c.OID
		return nil
	})
	if err != nil {
		return "", err
	}
	w.logger.Info("scanned directory",
		zap.String("root", w.root),
		zap.String("branch", w.branch.String()),
		zap.Int("edits", len(edits)),
		zap.String("commit", oid),
	)
	return oid, nil
}

// Watch commits filesystem changes under the root until ctx is done.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching directory", zap.String("root", w.root), zap.String("branch", w.branch.String()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if err := w.handle(ctx, fw, event); err != nil {
				w.logger.Error("handling file event",
					zap.String("path", event.Name),
					zap.String("op", event.Op.String()),
					zap.Error(err),
				)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := w.rel(p)
		if err != nil {
			return err
		}
		if rel != "." && w.ShouldIgnore(rel) {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("adding directory to watcher: %w", err)
		}
		return nil
	})
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) error {
	rel, err := w.rel(event.Name)
	if err != nil {
		return err
	}
	if w.ShouldIgnore(rel) {
		return nil
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := w.addTree(fw, event.Name); err != nil {
				return err
			}
			// Files may have landed before the directory was watched.
			_, err := w.Scan(ctx)
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return w.save(ctx, rel, event.Name)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return w.remove(ctx, rel)
	}
	return nil
}

func (w *Watcher) save(ctx context.Context, rel, abs string) error {
	content, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	cur, err := w.branch.Find(ctx, rel)
	if err == nil && cur.OID == w.branch.Store().Hasher().HashBlob(content) {
		return nil
	}
	if err != nil && !errors.Is(err, verr.ErrPathNotFound) {
		return err
	}
	c, err := w.branch.Upsert(ctx, rel, content)
	if err != nil {
		return err
	}
	w.committed(rel, false, c.OID)
	return nil
}

// remove deletes rel. A directory goes with everything under it; a path
// the branch never had is ignored.
func (w *Watcher) remove(ctx context.Context, rel string) error {
	c, err := w.branch.Delete(ctx, rel)
	if errors.Is(err, verr.ErrPathNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	w.committed(rel, true, c.OID)
	return nil
}

// sortEdits orders writes by path, then deletions by path, so a scan of the
// same directory always builds the same tree.
func sortEdits(edits []repo.Edit) []repo.Edit {
	sort.Slice(edits, func(i, j int) bool {
		if edits[i].Delete != edits[j].Delete {
			return !edits[i].Delete
		}
		return edits[i].Path < edits[j].Path
	})
	return edits
}

func (w *Watcher) committed(rel string, deleted bool, oid string) {
	w.logger.Debug("autosaved",
		zap.String("path", rel),
		zap.Bool("deleted", deleted),
		zap.String("commit", oid),
	)
	if w.notify != nil {
		w.notify(rel, deleted, oid)
	}
}
