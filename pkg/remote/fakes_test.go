package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
)

// fakeManager stages files under a temp root and records submissions.
type fakeManager struct {
	root string

	mu        sync.Mutex
	submitted map[string]LaunchConfig
	cancelled map[string]bool
}

func newFakeManager(root string) *fakeManager {
	return &fakeManager{
		root:      root,
		submitted: make(map[string]LaunchConfig),
		cancelled: make(map[string]bool),
	}
}

func (m *fakeManager) jobDir(jobID string) string { return filepath.Join(m.root, jobID) }

func (m *fakeManager) Setup(_ context.Context, jobID, _ string) (SetupResult, error) {
	dir := m.jobDir(jobID)
	if err := os.MkdirAll(filepath.Join(dir, "outputs"), 0o755); err != nil {
		return SetupResult{}, err
	}
	return SetupResult{
		JobID:            jobID,
		WorkingDirectory: filepath.Join(dir, "working"),
		InputsDirectory:  filepath.Join(dir, "inputs"),
		OutputsDirectory: filepath.Join(dir, "outputs"),
		SystemProperties: SystemProperties{Separator: "/"},
	}, nil
}

func (m *fakeManager) Submit(_ context.Context, jobID string, launch LaunchConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submitted[jobID]; ok {
		return core.ErrAlreadySubmitted
	}
	m.submitted[jobID] = launch
	return nil
}

func (m *fakeManager) Status(_ context.Context, jobID string) (StatusResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submitted[jobID]; !ok {
		return StatusResult{}, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	code := 0
	return StatusResult{JobID: jobID, Status: StatusComplete, Complete: true, ReturnCode: &code}, nil
}

func (m *fakeManager) Cancel(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[jobID] = true
	return nil
}

func (m *fakeManager) Clean(_ context.Context, jobID string) error {
	return os.RemoveAll(m.jobDir(jobID))
}

func (m *fakeManager) StageFile(ctx context.Context, jobID string, kind FileKind, name string, r io.Reader) (string, error) {
	p, err := m.FilePath(ctx, jobID, kind, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return p, os.WriteFile(p, data, 0o644)
}

func (m *fakeManager) FilePath(_ context.Context, jobID string, kind FileKind, name string) (string, error) {
	return filepath.Join(m.jobDir(jobID), string(kind)+"s", name), nil
}

// memStore is an in-memory ObjectStore.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (s *memStore) get(id string) ([]byte, error) {
	b, ok := s.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrObjectNotFound, id)
	}
	return b, nil
}

func (s *memStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[id]
	return ok, nil
}

func (s *memStore) FileReady(ctx context.Context, id string) (bool, error) { return s.Exists(ctx, id) }

func (s *memStore) Create(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		s.objects[id] = nil
	}
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[id]
	delete(s.objects, id)
	return ok, nil
}

func (s *memStore) GetData(_ context.Context, id string, start, count int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if start > int64(len(b)) {
		return nil, nil
	}
	b = b[start:]
	if count >= 0 && count < int64(len(b)) {
		b = b[:count]
	}
	return bytes.Clone(b), nil
}

func (s *memStore) GetFilename(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.get(id); err != nil {
		return "", err
	}
	return "/objects/" + id, nil
}

func (s *memStore) UpdateFromFile(_ context.Context, id string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = data
	return nil
}

func (s *memStore) Size(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(id)
	return int64(len(b)), err
}

func (s *memStore) Empty(ctx context.Context, id string) (bool, error) {
	n, err := s.Size(ctx, id)
	return n == 0, err
}

func (s *memStore) UsagePercent(context.Context) (float64, error) { return 12.5, nil }
