package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadFile(t *testing.T) {
	type received struct {
		title    string
		filename string
		mimeType string
		content  string
	}
	seen := make(chan received, 1)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("avatar")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer func() { _ = file.Close() }()
		content, _ := io.ReadAll(file)

		seen <- received{
			title:    r.FormValue("title"),
			filename: header.Filename,
			mimeType: header.Header.Get("Content-Type"),
			content:  string(content),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"stored": true}`))
	}))
	defer upstream.Close()

	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "me.png")
	content := strings.Repeat("pixel", 1000)
	require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))

	c := fixtureClient(t, fixtureConfig(tempDir))

	var lastCompleted, lastTotal atomic.Int64
	task := c.UploadFile(context.Background(), upstream.URL+"/upload", map[string]any{"title": "me"},
		"avatar", filePath, "image/png", func(completed, total int64) {
			lastCompleted.Store(completed)
			lastTotal.Store(total)
		})

	ev := task.Wait()
	require.Equal(t, EventLiveSuccess, ev.Kind, "err: %v", ev.Err)
	assert.Equal(t, true, payloadField(t, ev.Payload, "stored"))

	got := <-seen
	assert.Equal(t, "me", got.title)
	assert.Equal(t, "me.png", got.filename)
	assert.Equal(t, "image/png", got.mimeType)
	assert.Equal(t, content, got.content)

	assert.Equal(t, int64(len(content)), lastCompleted.Load())
	assert.Equal(t, int64(len(content)), lastTotal.Load())
}

func TestUploadFileMissing(t *testing.T) {
	c := fixtureClient(t, fixtureConfig(t.TempDir()))

	ev := c.UploadFile(context.Background(), "http://127.0.0.1:1/upload", nil,
		"file", filepath.Join(t.TempDir(), "nope.bin"), "", nil).Wait()
	assert.Equal(t, EventLiveFailure, ev.Kind)
	assert.ErrorIs(t, ev.Err, os.ErrNotExist)
}

func TestUploadFiles(t *testing.T) {
	type part struct {
		filename string
		content  string
	}
	seen := make(chan []part, 1)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var parts []part
		for _, header := range r.MultipartForm.File["photos"] {
			file, err := header.Open()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			content, _ := io.ReadAll(file)
			_ = file.Close()
			parts = append(parts, part{filename: header.Filename, content: string(content)})
		}
		seen <- parts
		_, _ = w.Write([]byte(`{"count": ` + strconv.Itoa(len(parts)) + `}`))
	}))
	defer upstream.Close()

	tempDir := t.TempDir()
	first := filepath.Join(tempDir, "a.png")
	second := filepath.Join(tempDir, "b.png")
	require.NoError(t, os.WriteFile(first, []byte("first image"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("second image, longer"), 0o644))
	total := int64(len("first image") + len("second image, longer"))

	c := fixtureClient(t, fixtureConfig(tempDir))

	var lastCompleted, lastTotal atomic.Int64
	ev := c.UploadFiles(context.Background(), upstream.URL+"/photos", nil, "photos",
		[]string{first, second}, []string{"cover.png"}, "image/png", func(completed, total int64) {
			lastCompleted.Store(completed)
			lastTotal.Store(total)
		}).Wait()
	require.Equal(t, EventLiveSuccess, ev.Kind, "err: %v", ev.Err)

	got := <-seen
	require.Len(t, got, 2)
	assert.Equal(t, "cover.png", got[0].filename)
	assert.Equal(t, "first image", got[0].content)
	assert.Regexp(t, regexp.MustCompile(`^\d{14}1\.png$`), got[1].filename)
	assert.Equal(t, "second image, longer", got[1].content)

	assert.Equal(t, total, lastCompleted.Load())
	assert.Equal(t, total, lastTotal.Load())
}

func TestUploadFilesNothingToSend(t *testing.T) {
	c := fixtureClient(t, fixtureConfig(t.TempDir()))

	ev := c.UploadFiles(context.Background(), "http://127.0.0.1:1/photos", nil, "photos", nil, nil, "", nil).Wait()
	assert.Equal(t, EventLiveFailure, ev.Kind)
	assert.Error(t, ev.Err)
}

func TestDownload(t *testing.T) {
	content := strings.Repeat("0123456789", 4096)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.bin" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		_, _ = w.Write([]byte(content))
	}))
	defer upstream.Close()

	tempDir := t.TempDir()
	cfg := fixtureConfig(tempDir)
	c := fixtureClient(t, cfg)

	t.Run("explicit destination", func(t *testing.T) {
		dest := filepath.Join(tempDir, "out", "file.bin")

		var lastCompleted, lastTotal atomic.Int64
		ev := c.Download(context.Background(), upstream.URL+"/files/data.bin", dest, func(completed, total int64) {
			lastCompleted.Store(completed)
			lastTotal.Store(total)
		}).Wait()
		require.Equal(t, EventLiveSuccess, ev.Kind, "err: %v", ev.Err)
		assert.Equal(t, dest, ev.Payload)

		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))

		assert.Equal(t, int64(len(content)), lastCompleted.Load())
		assert.Equal(t, int64(len(content)), lastTotal.Load())

		entries, err := os.ReadDir(filepath.Dir(dest))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temp files left behind")
	})

	t.Run("default folder", func(t *testing.T) {
		ev := c.Download(context.Background(), upstream.URL+"/files/data.bin", "", nil).Wait()
		require.Equal(t, EventLiveSuccess, ev.Kind, "err: %v", ev.Err)

		want := filepath.Join(cfg.Download.Folder, "data.bin")
		assert.Equal(t, want, ev.Payload)
		_, err := os.Stat(want)
		assert.NoError(t, err)
	})

	t.Run("non-2xx leaves nothing", func(t *testing.T) {
		dest := filepath.Join(tempDir, "missing", "file.bin")
		ev := c.Download(context.Background(), upstream.URL+"/missing.bin", dest, nil).Wait()
		assert.Equal(t, EventLiveFailure, ev.Kind)

		var statusErr *StatusError
		require.ErrorAs(t, ev.Err, &statusErr)
		assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

		_, err := os.Stat(dest)
		assert.True(t, os.IsNotExist(err))
	})
}
