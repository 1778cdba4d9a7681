package meta

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// Upload target hosts.
const (
	HostGraph = iota
	HostVideo
)

// PostFile streams the file at path as the multipart field fileField, with
// fields alongside it. Video uploads go to the video host.
func (c *Client) PostFile(ctx context.Context, operation string, host int, path, accessToken string, fields map[string]string, fileField, filePath string, out any) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	base := c.config.GraphURL
	if host == HostVideo {
		base = c.config.VideoURL
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeMultipart(mw, accessToken, fields, fileField, filePath, f)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	err = c.do(req, operation, out)
	_ = pr.Close()
	return err
}

func writeMultipart(mw *multipart.Writer, accessToken string, fields map[string]string, fileField, filePath string, src io.Reader) error {
	if accessToken != "" {
		if err := mw.WriteField("access_token", accessToken); err != nil {
			return err
		}
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile(fileField, filepath.Base(filePath))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}
