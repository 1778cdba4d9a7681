package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	social "github.com/goliatone/go-social"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	bucket  string
	object  string
	body    []byte
	opts    minio.PutObjectOptions
	putErr  error
	expires time.Duration
}

func (s *stubStore) PutObject(_ context.Context, bucket, object string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if s.putErr != nil {
		return minio.UploadInfo{}, s.putErr
	}
	s.bucket, s.object, s.opts = bucket, object, opts
	s.body, _ = io.ReadAll(reader)
	return minio.UploadInfo{Bucket: bucket, Key: object}, nil
}

func (s *stubStore) PresignedGetObject(_ context.Context, bucket, object string, expires time.Duration, _ url.Values) (*url.URL, error) {
	s.expires = expires
	return url.Parse("https://minio.example/" + bucket + "/" + object + "?X-Amz-Signature=abc")
}

func fixedClock() time.Time {
	return time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
}

func TestHostPublicURL(t *testing.T) {
	store := &stubStore{}
	host := newHost(store, Config{Bucket: "media", PublicURL: "https://cdn.example/", Clock: fixedClock})

	media := social.NewMediaPayload([]byte("image-bytes"), "bread.PNG", "image/png")
	hosted, err := host.Host(context.Background(), "user-1", media)
	require.NoError(t, err)

	assert.Equal(t, "media", store.bucket)
	assert.True(t, strings.HasPrefix(store.object, "social/user-1/2026/04/"))
	assert.True(t, strings.HasSuffix(store.object, ".png"))
	assert.Equal(t, "image/png", store.opts.ContentType)
	assert.Equal(t, "bread.PNG", store.opts.UserMetadata["original-filename"])
	assert.Equal(t, []byte("image-bytes"), store.body)
	assert.Equal(t, "https://cdn.example/media/"+store.object, hosted)
}

func TestHostPresignsWithoutPublicURL(t *testing.T) {
	store := &stubStore{}
	host := newHost(store, Config{Bucket: "media", URLExpiry: 30 * 24 * time.Hour})

	media := &social.MediaPayload{Data: []byte("x"), ContentType: "image/jpeg"}
	hosted, err := host.Host(context.Background(), "user-1", media)
	require.NoError(t, err)

	assert.Contains(t, hosted, "X-Amz-Signature")
	assert.Equal(t, maxURLExpiry, store.expires)
	assert.True(t, strings.HasSuffix(store.object, ".jpg"))
}

func TestHostUploadFailure(t *testing.T) {
	host := newHost(&stubStore{putErr: errors.New("bucket offline")}, Config{Bucket: "media"})
	_, err := host.Host(context.Background(), "user-1", &social.MediaPayload{Data: []byte("x"), ContentType: "image/png"})
	assert.ErrorContains(t, err, "bucket offline")
}

func TestHostRejectsEmptyMedia(t *testing.T) {
	host := newHost(&stubStore{}, Config{Bucket: "media"})
	_, err := host.Host(context.Background(), "user-1", nil)
	assert.Error(t, err)
}

func TestNewMinIOHostRequiresBucket(t *testing.T) {
	_, err := NewMinIOHost(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
