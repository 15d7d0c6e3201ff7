package patch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofixd/internal/gamecfg"
)

// DocStore keeps configuration documents as JSON files under a root
// directory. Parsed documents are cached until the file changes on disk.
type DocStore struct {
	root   string
	logger *zap.Logger

	mu      sync.Mutex
	cache   map[string]gamecfg.Document // keyed by absolute path
	watched map[string]bool             // directories added to the watcher

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// NewDocStore creates a store rooted at root, creating the directory if
// needed.
func NewDocStore(root string, logger *zap.Logger) (*DocStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving document root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating document root: %w", err)
	}
	return &DocStore{
		root:    abs,
		logger:  logger,
		cache:   make(map[string]gamecfg.Document),
		watched: make(map[string]bool),
	}, nil
}

// Root returns the absolute root directory.
func (s *DocStore) Root() string { return s.root }

func (s *DocStore) resolve(target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	p := filepath.Join(s.root, filepath.FromSlash(target))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}
	return p, nil
}

// LoadDocument implements DocumentLoader.
func (s *DocStore) LoadDocument(_ context.Context, target string) (gamecfg.Document, error) {
	p, err := s.resolve(target)
	if err != nil {
		return gamecfg.Default(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(p)
}

func (s *DocStore) loadLocked(p string) (gamecfg.Document, error) {
	if doc, ok := s.cache[p]; ok {
		return doc.Clone(), nil
	}
	s.watchDirLocked(filepath.Dir(p))

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return gamecfg.Default(), nil
	}
	if err != nil {
		return gamecfg.Default(), fmt.Errorf("reading %s: %w", p, err)
	}
	doc, err := gamecfg.ParseOrDefault(data)
	if err != nil {
		return doc, fmt.Errorf("parsing %s: %w", p, err)
	}
	s.cache[p] = doc
	return doc.Clone(), nil
}

// ApplyDocumentPatch merges doc into the stored document and writes the
// result atomically. Keys absent from doc are preserved.
func (s *DocStore) ApplyDocumentPatch(ctx context.Context, target string, doc gamecfg.Document) error {
	_, err := s.PatchDocument(ctx, target, doc)
	return err
}

// PatchDocument is ApplyDocumentPatch returning the merged document that
// was written.
func (s *DocStore) PatchDocument(_ context.Context, target string, doc gamecfg.Document) (gamecfg.Document, error) {
	p, err := s.resolve(target)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, loadErr := s.loadLocked(p)
	if loadErr != nil {
		s.logger.Warn("replacing unreadable document",
			zap.String("target", target),
			zap.Error(loadErr))
	}
	merged := gamecfg.Merge(current, doc)

	data, err := merged.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", target, err)
	}
	if err := writeFileAtomic(p, data); err != nil {
		return nil, fmt.Errorf("writing %s: %w", target, err)
	}
	s.cache[p] = merged
	s.watchDirLocked(filepath.Dir(p))

	s.logger.Debug("document patched", zap.String("target", target))
	return merged.Clone(), nil
}

func writeFileAtomic(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Watch starts dropping cached documents when their files change on disk.
// It returns once the watcher is running; Close stops it.
func (s *DocStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating document watcher: %w", err)
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		_ = w.Close()
		return nil
	}
	s.watcher = w
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.watched = make(map[string]bool)
	s.watchDirLocked(s.root)
	for p := range s.cache {
		s.watchDirLocked(filepath.Dir(p))
	}
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go s.processEvents(ctx, w, stop, done)
	return nil
}

// watchDirLocked adds dir to the watcher if watching is active.
func (s *DocStore) watchDirLocked(dir string) {
	if s.watcher == nil || s.watched[dir] {
		return
	}
	if err := s.watcher.Add(dir); err != nil {
		s.logger.Debug("cannot watch document directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	s.watched[dir] = true
}

func (s *DocStore) processEvents(ctx context.Context, w *fsnotify.Watcher, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.invalidate(ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("document watcher error", zap.Error(err))
		}
	}
}

func (s *DocStore) invalidate(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[p]; ok {
		delete(s.cache, p)
		s.logger.Debug("document changed on disk", zap.String("path", p))
	}
}

// Close stops the watcher. It is safe to call more than once.
func (s *DocStore) Close() error {
	s.mu.Lock()
	w, stop, done := s.watcher, s.stop, s.done
	s.watcher = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	close(stop)
	err := w.Close()
	<-done
	return err
}
