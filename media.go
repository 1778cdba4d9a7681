package social

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Upload size limits.
const (
	MaxImageBytes = 10 << 20
	MaxVideoBytes = 200 << 20
)

// MediaHost turns local media into a publicly reachable URL. Instagram
// only accepts media by URL.
type MediaHost interface {
	Host(ctx context.Context, userID string, media *MediaPayload) (string, error)
}

// TextToImage renders a caption into an image when a post has none.
type TextToImage interface {
	Generate(ctx context.Context, prompt string) (*MediaPayload, error)
}

// MediaPayload is media loaded in memory, ready for upload.
type MediaPayload struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Size returns the payload length in bytes.
func (p *MediaPayload) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// IsVideo reports whether the payload is a video.
func (p *MediaPayload) IsVideo() bool {
	return p != nil && strings.HasPrefix(p.ContentType, "video/")
}

// NewMediaPayload wraps raw bytes, sniffing the content type when missing.
func NewMediaPayload(data []byte, filename, contentType string) *MediaPayload {
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if filename == "" {
		filename = "upload" + extensionFor(contentType)
	}
	return &MediaPayload{Data: data, ContentType: contentType, Filename: filename}
}

// LoadMedia reads the referenced media into memory. URL media is fetched
// with client. Media larger than limit is a validation error.
func LoadMedia(ctx context.Context, client *http.Client, provider Provider, ref *MediaRef, limit int64) (*MediaPayload, error) {
	if ref.IsZero() {
		return nil, NewPublishError(KindValidation, provider, "media is required")
	}

	var (
		data []byte
		err  error
		name = ref.Filename
	)

	switch {
	case len(ref.Data) > 0:
		data = ref.Data
	case ref.Path != "":
		data, err = readFileLimited(ref.Path, limit)
		if err != nil {
			return nil, err.(*PublishError).withProvider(provider)
		}
		if name == "" {
			name = filepath.Base(ref.Path)
		}
	default:
		data, err = fetchLimited(ctx, client, ref.URL, limit)
		if err != nil {
			return nil, ClassifyProviderError(provider, PhasePublish, err).withProvider(provider)
		}
	}

	if limit > 0 && int64(len(data)) > limit {
		return nil, NewPublishError(KindValidation, provider, fmt.Sprintf("media exceeds %d bytes", limit))
	}

	return NewMediaPayload(data, name, ref.ContentType), nil
}

func readFileLimited(path string, limit int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, NewPublishError(KindValidation, "", "media file not readable").WithCause(err)
	}
	if limit > 0 && info.Size() > limit {
		return nil, NewPublishError(KindValidation, "", fmt.Sprintf("media exceeds %d bytes", limit))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewPublishError(KindValidation, "", "media file not readable").WithCause(err)
	}
	return data, nil
}

func fetchLimited(ctx context.Context, client *http.Client, rawURL string, limit int64) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, NewPublishError(KindValidation, "", "invalid media url").WithCause(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewPublishError(KindValidation, "", fmt.Sprintf("media url returned status %d", resp.StatusCode))
	}

	reader := io.Reader(resp.Body)
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	return io.ReadAll(reader)
}

func (e *PublishError) withProvider(p Provider) *PublishError {
	if e.Provider == "" {
		e.Provider = p
	}
	return e
}

// SpoolMedia writes the payload to a temp file under dir (the system temp
// dir when empty). The returned cleanup removes it and must run on every
// exit path.
func SpoolMedia(dir string, payload *MediaPayload) (string, func(), error) {
	ext := filepath.Ext(payload.Filename)
	if ext == "" {
		ext = extensionFor(payload.ContentType)
	}
	f, err := os.CreateTemp(dir, "social-media-*"+ext)
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to create temp media file: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }

	if _, err := io.Copy(f, bytes.NewReader(payload.Data)); err != nil {
		_ = f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("failed to write temp media file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("failed to close temp media file: %w", err)
	}
	return path, cleanup, nil
}

func extensionFor(contentType string) string {
	if m := mimetype.Lookup(contentType); m != nil {
		return m.Extension()
	}
	return ""
}

// TruncateRunes shortens s to n runes, ending with "..." when cut.
func TruncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
