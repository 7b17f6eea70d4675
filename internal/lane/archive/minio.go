package archive

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// Prefix is prepended to every object name, normally the lane id.
	Prefix string
}

// MinIO uploads images to an S3-compatible bucket. The local copy is left
// for the image pruner.
type MinIO struct {
	cfg    MinIOConfig
	client *minio.Client
	log    zerolog.Logger

	mu          sync.Mutex
	bucketReady bool
}

func NewMinIO(cfg MinIOConfig, log zerolog.Logger) (*MinIO, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		cfg.Bucket = "parking-images"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinIO{cfg: cfg, client: client, log: log.With().Str("component", "minio_archive").Logger()}, nil
}

// ensureBucket creates the bucket on first successful use.
func (m *MinIO) ensureBucket(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bucketReady {
		return nil
	}
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	m.bucketReady = true
	return nil
}

func (m *MinIO) Archive(ctx context.Context, localPath string) (string, error) {
	if localPath == "" {
		return "", ErrNoImage
	}
	if err := m.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("minio bucket %s: %w", m.cfg.Bucket, err)
	}

	name := ObjectName(m.cfg.Prefix, localPath)
	info, err := m.client.FPutObject(ctx, m.cfg.Bucket, name, localPath, minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}

	ref := fmt.Sprintf("s3://%s/%s", m.cfg.Bucket, name)
	m.log.Info().Str("object", ref).Int64("size", info.Size).Msg("image archived")
	return ref, nil
}

// ObjectName is the bucket key for a local image.
func ObjectName(prefix, localPath string) string {
	base := filepath.Base(localPath)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return base
	}
	return path.Join(prefix, base)
}
