package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/remote"
	"github.com/jdziat/simple-remote-jobs/pkg/security"
)

// DiskStore keeps objects as files named dataset_<id>.dat below a root
// directory.
type DiskStore struct {
	root string
}

var _ remote.ObjectStore = (*DiskStore)(nil)

// NewDiskStore creates root if needed.
func NewDiskStore(root string) (*DiskStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("jobs: resolve object store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("jobs: create object store root: %w", err)
	}
	return &DiskStore{root: abs}, nil
}

// ValidateID rejects object ids that cannot name a single file.
func ValidateID(id string) error {
	if err := security.ValidateFileName(id); err != nil || strings.ContainsRune(id, '/') {
		return fmt.Errorf("%w: object id %q", core.ErrInvalidFileName, id)
	}
	return nil
}

func (s *DiskStore) path(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, "dataset_"+id+".dat"), nil
}

func (s *DiskStore) stat(id string) (os.FileInfo, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", core.ErrObjectNotFound, id)
	}
	return info, err
}

func (s *DiskStore) Exists(_ context.Context, id string) (bool, error) {
	_, err := s.stat(id)
	if errors.Is(err, core.ErrObjectNotFound) {
		return false, nil
	}
	return err == nil, err
}

// FileReady reports whether the object exists; updates are atomic renames so
// an existing object is always complete.
func (s *DiskStore) FileReady(ctx context.Context, id string) (bool, error) {
	return s.Exists(ctx, id)
}

// Create makes an empty object unless it already exists.
func (s *DiskStore) Create(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("jobs: create object %s: %w", id, err)
	}
	return f.Close()
}

func (s *DiskStore) Delete(_ context.Context, id string) (bool, error) {
	p, err := s.path(id)
	if err != nil {
		return false, err
	}
	err = os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("jobs: delete object %s: %w", id, err)
	}
	return true, nil
}

func (s *DiskStore) GetData(_ context.Context, id string, start, count int64) ([]byte, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", core.ErrObjectNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return nil, fmt.Errorf("jobs: read object %s: %w", id, err)
		}
	}
	var r io.Reader = f
	if count >= 0 {
		r = io.LimitReader(f, count)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("jobs: read object %s: %w", id, err)
	}
	return data, nil
}

func (s *DiskStore) GetFilename(_ context.Context, id string) (string, error) {
	if _, err := s.stat(id); err != nil {
		return "", err
	}
	return s.path(id)
}

// UpdateFromFile replaces the object's contents with r.
func (s *DiskStore) UpdateFromFile(_ context.Context, id string, r io.Reader) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.root, ".update-*")
	if err != nil {
		return fmt.Errorf("jobs: update object %s: %w", id, err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("jobs: update object %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("jobs: update object %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("jobs: update object %s: %w", id, err)
	}
	return nil
}

func (s *DiskStore) Size(_ context.Context, id string) (int64, error) {
	info, err := s.stat(id)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *DiskStore) Empty(ctx context.Context, id string) (bool, error) {
	n, err := s.Size(ctx, id)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// UsagePercent reports how full the filesystem holding the root is.
func (s *DiskStore) UsagePercent(context.Context) (float64, error) {
	return diskUsagePercent(s.root)
}
