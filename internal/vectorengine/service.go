package vectorengine

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"intelhub/internal/hubtypes"
	"intelhub/internal/obs"
)

// Status is the façade's three-state lifecycle.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
)

// Service is the long-lived holder of the embedding model and the
// on-disk vector index client (C3). It loads both in a background
// initializer and exposes status as observable and awaitable.
type Service struct {
	embedder Embedder
	index    VectorIndex
	dbPath   string

	mu    sync.Mutex // coarse lock: serializes structural mutations
	repos map[string]*Repository

	statusMu  sync.RWMutex
	status    Status
	statusErr error

	ready    chan struct{} // closed exactly once, on success or failure
	readyOne sync.Once

	log obs.Logger
}

// NewService starts the background initializer and returns immediately
// in the "initializing" state.
func NewService(ctx context.Context, embedder Embedder, buildIndex func() (VectorIndex, error), dbPath string, log obs.Logger) *Service {
	if log == nil {
		log = obs.NewNoopLogger()
	}
	s := &Service{
		embedder: embedder,
		dbPath:   dbPath,
		repos:    make(map[string]*Repository),
		status:   StatusInitializing,
		ready:    make(chan struct{}),
		log:      log,
	}
	go s.initialize(ctx, buildIndex)
	return s
}

func (s *Service) initialize(ctx context.Context, buildIndex func() (VectorIndex, error)) {
	idx, err := buildIndex()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.setStatus(StatusError, err)
		s.log.Error("vectorengine: initialization failed", map[string]any{"error": err.Error()})
		return
	}
	if err := s.embedder.Ping(ctx); err != nil {
		s.setStatus(StatusError, err)
		s.log.Error("vectorengine: embedder unreachable", map[string]any{"error": err.Error()})
		return
	}
	s.index = idx
	s.setStatus(StatusReady, nil)
	s.log.Info("vectorengine: ready", nil)
}

func (s *Service) setStatus(status Status, err error) {
	s.statusMu.Lock()
	s.status = status
	s.statusErr = err
	s.statusMu.Unlock()
	s.readyOne.Do(func() { close(s.ready) })
}

// GetStatus returns the current lifecycle state and, if StatusError, the
// failure.
func (s *Service) GetStatus() (Status, error) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status, s.statusErr
}

// WaitUntilReady blocks until the initializer completes (ready or error)
// or timeout elapses, whichever comes first.
func (s *Service) WaitUntilReady(timeout time.Duration) (Status, error) {
	select {
	case <-s.ready:
	case <-time.After(timeout):
	}
	return s.GetStatus()
}

// ReadyCh exposes the edge-triggered readiness event for callers that
// want to select on it alongside other channels (e.g. the hub's
// vector-init worker).
func (s *Service) ReadyCh() <-chan struct{} { return s.ready }

// Repository returns the named repository, creating it under the coarse
// lock with chunkSize/chunkOverlap if it does not already exist.
func (s *Service) Repository(ctx context.Context, name string, opt ChunkingOptions) (*Repository, error) {
	status, err := s.GetStatus()
	if status != StatusReady {
		if err != nil {
			return nil, fmt.Errorf("vectorengine: %w: %v", hubtypes.ErrServiceUnavailable, err)
		}
		return nil, hubtypes.ErrServiceUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.repos[name]; ok {
		return r, nil
	}
	if err := s.index.EnsureCollection(ctx, name, s.embedder.Dimension()); err != nil {
		return nil, err
	}
	r := newRepository(name, s.index, s.embedder, opt)
	s.repos[name] = r
	return r, nil
}

// Backup acquires the coarse lock and produces a timestamped zip of the
// on-disk index directory.
func (s *Service) Backup(destDir string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("vectordb-backup-%s.zip", time.Now().UTC().Format("20060102T150405Z"))
	destPath := filepath.Join(destDir, name)
	if err := zipDir(s.dbPath, destPath); err != nil {
		return "", fmt.Errorf("vectorengine: backup: %w", err)
	}
	return destPath, nil
}

// Restore acquires the coarse lock, drops all repository handles, wipes
// and recreates the on-disk directory from zipPath, and reopens the
// index client.
func (s *Service) Restore(ctx context.Context, zipPath string, reopen func() (VectorIndex, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.repos = make(map[string]*Repository)
	if s.index != nil {
		_ = s.index.Close()
	}
	if err := os.RemoveAll(s.dbPath); err != nil {
		return fmt.Errorf("vectorengine: restore: clear dir: %w", err)
	}
	if err := os.MkdirAll(s.dbPath, 0o755); err != nil {
		return fmt.Errorf("vectorengine: restore: recreate dir: %w", err)
	}
	if err := unzipTo(zipPath, s.dbPath); err != nil {
		return fmt.Errorf("vectorengine: restore: unzip: %w", err)
	}
	idx, err := reopen()
	if err != nil {
		s.setStatus(StatusError, err)
		return fmt.Errorf("vectorengine: restore: reopen: %w", err)
	}
	s.index = idx
	return nil
}

func zipDir(srcDir, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	defer zw.Close()

	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
}

func unzipTo(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		dest := filepath.Join(destDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(dest)
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(out, src)
		src.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
