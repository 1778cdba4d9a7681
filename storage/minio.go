package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	social "github.com/goliatone/go-social"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	DefaultURLExpiry = time.Hour
	maxURLExpiry     = 7 * 24 * time.Hour
	objectPrefix     = "social"
)

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base of a public bucket, e.g. https://media.example.
	// When empty, hosted URLs are presigned.
	PublicURL string
	URLExpiry time.Duration

	Logger social.Logger
	Clock  social.Clock
}

type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// MinIOHost implements social.MediaHost on a MinIO or S3 compatible bucket.
type MinIOHost struct {
	client objectStore
	config Config
	logger social.Logger
	now    social.Clock
}

var _ social.MediaHost = (*MinIOHost)(nil)

// NewMinIOHost connects to MinIO.
func NewMinIOHost(cfg Config) (*MinIOHost, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return newHost(client, cfg), nil
}

func newHost(client objectStore, cfg Config) *MinIOHost {
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = DefaultURLExpiry
	}
	if cfg.URLExpiry > maxURLExpiry {
		cfg.URLExpiry = maxURLExpiry
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	return &MinIOHost{
		client: client,
		config: cfg,
		logger: social.NormalizeLogger(cfg.Logger),
		now:    social.NormalizeClock(cfg.Clock),
	}
}

// Host uploads media and returns a URL the provider can fetch.
func (h *MinIOHost) Host(ctx context.Context, userID string, media *social.MediaPayload) (string, error) {
	if media == nil || media.Size() == 0 {
		return "", errors.New("media payload is empty")
	}

	now := h.now()
	objectName := path.Join(
		objectPrefix,
		userID,
		fmt.Sprintf("%d/%02d", now.Year(), now.Month()),
		uuid.New().String()+extension(media),
	)

	_, err := h.client.PutObject(ctx, h.config.Bucket, objectName, bytes.NewReader(media.Data), int64(media.Size()),
		minio.PutObjectOptions{
			ContentType: media.ContentType,
			UserMetadata: map[string]string{
				"original-filename": media.Filename,
				"user-id":           userID,
				"uploaded-at":       now.Format(time.RFC3339),
			},
		})
	if err != nil {
		return "", fmt.Errorf("failed to upload media to minio: %w", err)
	}

	h.logger.Debug("media hosted", "bucket", h.config.Bucket, "object", objectName, "bytes", media.Size())

	if h.config.PublicURL != "" {
		return h.config.PublicURL + "/" + h.config.Bucket + "/" + objectName, nil
	}

	signed, err := h.client.PresignedGetObject(ctx, h.config.Bucket, objectName, h.config.URLExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign media url: %w", err)
	}
	return signed.String(), nil
}

func extension(media *social.MediaPayload) string {
	if ext := strings.ToLower(filepath.Ext(media.Filename)); ext != "" {
		return ext
	}
	if mt := mimetype.Lookup(media.ContentType); mt != nil {
		return mt.Extension()
	}
	return ""
}
