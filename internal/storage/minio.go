package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/facturaIA/field-extraction-service/internal/models"
)

// ErrDisabled is returned by NewStore when archiving is switched off
var ErrDisabled = errors.New("storage disabled")

// Store archives uploaded source documents in a MinIO bucket
type Store struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

func NewStore(ctx context.Context, cfg models.StorageConfig) (*Store, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	// Verify bucket exists
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	return &Store{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

// Bucket returns the archive bucket name
func (s *Store) Bucket() string { return s.bucket }

// Archive uploads a source document and returns its bucket-qualified path.
// Path format: {session}/YYYY/MM/{filename}
func (s *Store) Archive(ctx context.Context, session, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	objectName := ObjectPath(session, filename, s.now())

	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive document: %w", err)
	}
	return s.bucket + "/" + objectName, nil
}

// ObjectPath builds the archive key for a document uploaded at t
func ObjectPath(session, filename string, t time.Time) string {
	return fmt.Sprintf("%s/%d/%02d/%s",
		sanitizeSegment(session, "anonymous"),
		t.Year(),
		t.Month(),
		sanitizeSegment(path.Base(strings.ReplaceAll(filename, "\\", "/")), "document"),
	)
}

func sanitizeSegment(s, fallback string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, s)
	s = strings.Trim(s, ".")
	if s == "" {
		return fallback
	}
	return s
}
