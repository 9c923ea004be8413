package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/remote"
)

// Config selects a MinIO or S3 bucket.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	// Prefix is prepended to every object key.
	Prefix string `mapstructure:"prefix"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("jobs: object store endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("jobs: object store access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("jobs: object store secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("jobs: object store bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("jobs: object store endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// NewMinIOClient connects to the configured endpoint.
func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// MinioStore keeps objects in a bucket as <prefix>dataset_<id>.dat.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ remote.ObjectStore = (*MinioStore)(nil)

// NewMinioStore connects and creates the bucket if it is missing.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	client, err := NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("jobs: ensure bucket %s: %w", cfg.Bucket, err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func (s *MinioStore) key(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return s.prefix + "dataset_" + id + ".dat", nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinioStore) stat(ctx context.Context, id string) (minio.ObjectInfo, error) {
	key, err := s.key(id)
	if err != nil {
		return minio.ObjectInfo{}, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if isNotFound(err) {
		return minio.ObjectInfo{}, fmt.Errorf("%w: %s", core.ErrObjectNotFound, id)
	}
	if err != nil {
		return minio.ObjectInfo{}, fmt.Errorf("jobs: stat object %s: %w", id, err)
	}
	return info, nil
}

func (s *MinioStore) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.stat(ctx, id)
	if errors.Is(err, core.ErrObjectNotFound) {
		return false, nil
	}
	return err == nil, err
}

// FileReady reports whether the object exists; uploads become visible only
// once complete.
func (s *MinioStore) FileReady(ctx context.Context, id string) (bool, error) {
	return s.Exists(ctx, id)
}

// Create puts an empty object unless it already exists.
func (s *MinioStore) Create(ctx context.Context, id string) error {
	ok, err := s.Exists(ctx, id)
	if err != nil || ok {
		return err
	}
	return s.UpdateFromFile(ctx, id, strings.NewReader(""))
}

func (s *MinioStore) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := s.Exists(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	key, _ := s.key(id)
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("jobs: delete object %s: %w", id, err)
	}
	return true, nil
}

func (s *MinioStore) GetData(ctx context.Context, id string, start, count int64) ([]byte, error) {
	info, err := s.stat(ctx, id)
	if err != nil {
		return nil, err
	}
	if start >= info.Size || count == 0 {
		return []byte{}, nil
	}

	opts := minio.GetObjectOptions{}
	end := int64(0)
	if count > 0 {
		end = start + count - 1
	}
	if start > 0 || end > 0 {
		if err := opts.SetRange(start, end); err != nil {
			return nil, fmt.Errorf("jobs: read object %s: %w", id, err)
		}
	}

	key, _ := s.key(id)
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, fmt.Errorf("jobs: read object %s: %w", id, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("jobs: read object %s: %w", id, err)
	}
	return data, nil
}

// GetFilename returns the object's s3:// URL.
func (s *MinioStore) GetFilename(ctx context.Context, id string) (string, error) {
	if _, err := s.stat(ctx, id); err != nil {
		return "", err
	}
	key, _ := s.key(id)
	return "s3://" + s.bucket + "/" + key, nil
}

func (s *MinioStore) UpdateFromFile(ctx context.Context, id string, r io.Reader) error {
	key, err := s.key(id)
	if err != nil {
		return err
	}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return fmt.Errorf("jobs: update object %s: %w", id, err)
	}
	return nil
}

func (s *MinioStore) Size(ctx context.Context, id string) (int64, error) {
	info, err := s.stat(ctx, id)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (s *MinioStore) Empty(ctx context.Context, id string) (bool, error) {
	n, err := s.Size(ctx, id)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// UsagePercent is always zero; buckets have no fixed capacity.
func (s *MinioStore) UsagePercent(context.Context) (float64, error) { return 0, nil }
