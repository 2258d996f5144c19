package client

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hutaol/nethelper/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fixtureUpstream creates a JSON upstream that reports how many times it was hit
func fixtureUpstream(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message": "Hello from upstream", "path": "` + r.URL.Path + `", "n": ` + strconv.FormatInt(n, 10) + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// fixtureConfig creates a test config with its cache and downloads under tempDir
func fixtureConfig(tempDir string) *config.Config {
	cfg := &config.Config{
		Client: config.ClientConfig{Timeout: "10s"},
		Cache: config.CacheConfig{
			Backend: config.BackendDisk,
			Folder:  tempDir + "/cache",
		},
		Download: config.DownloadConfig{Folder: tempDir + "/downloads"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fixtureClient creates a client that is closed when the test ends
func fixtureClient(t *testing.T, cfg *config.Config, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// collect drains every event of task
func collect(t *testing.T, task *Task) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-task.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events of %s", task.URL())
			return nil
		}
	}
}

func findEvent(events []Event, kind EventKind) (Event, bool) {
	for _, ev := range events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

func payloadField(t *testing.T, payload any, field string) any {
	t.Helper()
	m, ok := payload.(map[string]any)
	require.True(t, ok, "payload is %T", payload)
	return m[field]
}
