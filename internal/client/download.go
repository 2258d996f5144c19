package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxErrorBody caps how much of a failed download response is kept.
const maxErrorBody = 64 << 10

// Download fetches rawURL into destPath. The body is streamed to a temp file
// in the destination directory and renamed into place, so destPath never
// holds a partial file. An empty destPath means download.folder joined with
// the last element of the URL path. The success payload is the final path.
func (c *Client) Download(ctx context.Context, rawURL, destPath string, progress ProgressFunc) *Task {
	id := uuid.NewString()
	log := c.log.WithFields(logrus.Fields{"request_id": id, "method": http.MethodGet, "url": rawURL})

	return c.start(ctx, id, http.MethodGet, rawURL, log, "", func(ctx context.Context) (*liveResult, error) {
		dest, err := c.downloadPath(rawURL, destPath, id)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		c.applyHeaders(req, nil)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, &StatusError{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
		}

		if err := writeFileAtomic(dest, newProgressReader(resp.Body, resp.ContentLength, progress)); err != nil {
			return nil, err
		}
		log.Debugf("Downloaded to %s", dest)

		return &liveResult{
			payload: dest,
			status:  resp.StatusCode,
			header:  resp.Header,
		}, nil
	})
}

func (c *Client) downloadPath(rawURL, destPath, fallback string) (string, error) {
	if destPath != "" {
		return destPath, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = fallback
	}
	return filepath.Join(c.downloadDir, name), nil
}

func writeFileAtomic(dest string, r io.Reader) (err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write download: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}
