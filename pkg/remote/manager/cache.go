package manager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/remote"
)

const pendingSuffix = ".pending"

// DefaultPendingTimeout is how long a reservation may go without an insert
// before another caller can take it over.
const DefaultPendingTimeout = 10 * time.Minute

// FileCache keeps input files shared between jobs on disk. Entries are keyed
// by the submitting host's address and its local path; the token is the hex
// SHA-256 of both.
type FileCache struct {
	root           string
	pendingTimeout time.Duration
	logger         *slog.Logger
}

var _ remote.FileCache = (*FileCache)(nil)

// NewFileCache creates a cache rooted at dir.
func NewFileCache(dir string, opts ...CacheOption) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jobs: create file cache: %w", err)
	}
	c := &FileCache{root: dir, pendingTimeout: DefaultPendingTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt.applyCache(c)
	}
	return c, nil
}

// Token returns the cache key for a file.
func Token(ip, path string) string {
	sum := sha256.Sum256([]byte(ip + "\x00" + path))
	return hex.EncodeToString(sum[:])
}

func validToken(token string) bool {
	if len(token) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

func (c *FileCache) entry(token string) string { return filepath.Join(c.root, token) }

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FileAvailable reports the token and whether the file has been inserted.
func (c *FileCache) FileAvailable(_ context.Context, ip, path string) (remote.CacheStatus, error) {
	token := Token(ip, path)
	return remote.CacheStatus{Token: token, Ready: exists(c.entry(token))}, nil
}

// CacheRequired reserves the entry. It returns true to exactly one caller,
// which is then expected to CacheInsert the file. A reservation older than
// the pending timeout is taken over.
func (c *FileCache) CacheRequired(_ context.Context, ip, path string) (bool, error) {
	entry := c.entry(Token(ip, path))
	if exists(entry) {
		return false, nil
	}
	ok, err := c.reserve(entry)
	if err != nil || ok {
		if ok {
			c.logger.Debug("cache entry reserved", "ip", ip, "path", path)
		}
		return ok, err
	}

	info, err := os.Stat(entry + pendingSuffix)
	if err != nil || time.Since(info.ModTime()) < c.pendingTimeout {
		return false, nil
	}
	c.logger.Warn("reclaiming abandoned cache reservation", "ip", ip, "path", path, "age", time.Since(info.ModTime()))
	if err := os.Remove(entry + pendingSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("jobs: reclaim cache entry: %w", err)
	}
	return c.reserve(entry)
}

// reserve creates the pending marker, reporting false when it already exists.
func (c *FileCache) reserve(entry string) (bool, error) {
	f, err := os.OpenFile(entry+pendingSuffix, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("jobs: reserve cache entry: %w", err)
	}
	f.Close()
	return true, nil
}

// CacheInsert stores the file and releases the reservation, whether or not
// the insert succeeds. The entry becomes visible atomically.
func (c *FileCache) CacheInsert(_ context.Context, ip, path string, r io.Reader) error {
	entry := c.entry(Token(ip, path))
	defer os.Remove(entry + pendingSuffix)
	tmp, err := os.CreateTemp(c.root, ".insert-*")
	if err != nil {
		return fmt.Errorf("jobs: cache insert: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("jobs: cache insert: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("jobs: cache insert: %w", err)
	}
	if err := os.Rename(tmp.Name(), entry); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("jobs: cache insert: %w", err)
	}
	c.logger.Debug("cache entry inserted", "ip", ip, "path", path)
	return nil
}

// Open returns a reader for an inserted entry.
func (c *FileCache) Open(_ context.Context, token string) (io.ReadCloser, error) {
	if !validToken(token) {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidToken, token)
	}
	f, err := os.Open(c.entry(token))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", core.ErrCacheMiss, token)
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: open cache entry: %w", err)
	}
	return f, nil
}
