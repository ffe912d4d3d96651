package chatbot

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/dearie-app/dearie/internal/metrics"
)

const reloadDebounce = 250 * time.Millisecond

// CatalogSource holds the active catalog. When backed by a file it can
// watch the file and swap in new content as it changes; sessions read the
// catalog per operation and pick up reloads immediately.
type CatalogSource struct {
	path    string
	current atomic.Pointer[Catalog]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewStaticSource serves a fixed catalog.
func NewStaticSource(c *Catalog) *CatalogSource {
	s := &CatalogSource{logger: slog.Default()}
	s.current.Store(c)
	return s
}

// NewFileSource loads path, or the built-in catalog when path is empty.
func NewFileSource(path string, m *metrics.Metrics, logger *slog.Logger) (*CatalogSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &CatalogSource{path: path, metrics: m, logger: logger}
	if path == "" {
		s.current.Store(DefaultCatalog())
		return s, nil
	}
	c, err := LoadCatalog(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load catalog %s", path)
	}
	s.current.Store(c)
	return s, nil
}

// Catalog returns the active catalog.
func (s *CatalogSource) Catalog() *Catalog {
	return s.current.Load()
}

// Reload re-reads the backing file. On error the active catalog is kept.
func (s *CatalogSource) Reload() error {
	if s.path == "" {
		return nil
	}
	c, err := LoadCatalog(s.path)
	s.metrics.IncCatalogReloads(err == nil)
	if err != nil {
		return errors.Wrapf(err, "reload catalog %s", s.path)
	}
	s.current.Store(c)
	s.logger.Info("Chat catalog reloaded", "path", s.path, "responses", len(c.Responses))
	return nil
}

// Watch reloads the catalog whenever its file changes until ctx is done.
// Editors that replace the file are handled by watching the directory.
func (s *CatalogSource) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create catalog watcher")
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "watch catalog directory")
	}

	target := filepath.Clean(s.path)
	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				debounce.Stop()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(reloadDebounce)
				}
			case <-debounce.C:
				if err := s.Reload(); err != nil {
					s.logger.Error("Chat catalog reload failed", "error", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Error("Catalog watch error", "error", err)
			}
		}
	}()
	return nil
}
