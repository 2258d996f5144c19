// Package client issues HTTP requests with an optional stale-while-revalidate
// response cache.
//
// A cached call forks two goroutines: one reads the cache and emits
// EventCacheHit when an entry decodes, the other performs the live request and
// emits EventLiveSuccess or EventLiveFailure. Neither waits for the other. A
// live success is written back to the cache after its event has been queued.
// Cache failures of any kind are logged and never reach the caller.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hutaol/nethelper/internal/cache"
	"github.com/hutaol/nethelper/internal/cache/httpcache"
	"github.com/hutaol/nethelper/internal/config"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/hutaol/nethelper/internal/client"

// Client is safe for concurrent use. Its configuration is fixed at New.
type Client struct {
	httpClient *http.Client
	cache      *httpcache.HTTPCache
	log        *logrus.Entry
	metrics    *metrics

	headers            map[string]string
	requestSerializer  string
	responseSerializer string
	additional         string
	downloadDir        string

	mu         sync.Mutex
	closed     bool
	inflight   map[string]*Task
	tasks      conc.WaitGroup
	writeBacks conc.WaitGroup
}

type options struct {
	logger        *logrus.Logger
	meterProvider metric.MeterProvider
	store         cache.GenericCache
	httpClient    *http.Client
}

// Option customizes a Client.
type Option func(*options)

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMeterProvider sets the OpenTelemetry meter provider. Defaults to a no-op provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithStore replaces the store selected by cache.backend.
func WithStore(store cache.GenericCache) Option {
	return func(o *options) { o.store = store }
}

// WithHTTPClient replaces the *http.Client built from the client section.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// New creates a client. A nil cfg means config.Default().
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	// Work on a copy so later changes to cfg do not leak in.
	local := *cfg
	local.ApplyDefaults()
	if err := local.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}
	if o.meterProvider == nil {
		o.meterProvider = noop.NewMeterProvider()
	}

	store := o.store
	if store == nil {
		switch local.Cache.Backend {
		case config.BackendMemory:
			store = cache.NewMemory()
		default:
			store = cache.NewDisk(local.Cache.Folder)
		}
	}
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	httpClient := o.httpClient
	if httpClient == nil {
		hc, err := newHTTPClient(&local)
		if err != nil {
			return nil, err
		}
		httpClient = hc
	}

	m, err := newMetrics(o.meterProvider.Meter(meterName))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	headers := make(map[string]string, len(local.Client.Headers))
	for k, v := range local.Client.Headers {
		headers[k] = v
	}

	return &Client{
		httpClient:         httpClient,
		cache:              httpcache.New(store, cache.NewDefaultKeyer()),
		log:                o.logger.WithField("component", "client"),
		metrics:            m,
		headers:            headers,
		requestSerializer:  local.Client.RequestSerializer,
		responseSerializer: local.Client.ResponseSerializer,
		additional:         local.Cache.Additional,
		downloadDir:        local.Download.Folder,
		inflight:           make(map[string]*Task),
	}, nil
}

// GET issues a GET request without caching.
func (c *Client) GET(ctx context.Context, rawURL string, params any) *Task {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Params: params})
}

// GETCached issues a GET request with the cache lookup and write-back.
func (c *Client) GETCached(ctx context.Context, rawURL string, params any) *Task {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Params: params, Cache: true})
}

// POST issues a POST request without caching.
func (c *Client) POST(ctx context.Context, rawURL string, params any) *Task {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Params: params})
}

// POSTCached issues a POST request with the cache lookup and write-back.
func (c *Client) POSTCached(ctx context.Context, rawURL string, params any) *Task {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Params: params, Cache: true})
}

// Do starts r in the background and returns its task immediately.
func (c *Client) Do(ctx context.Context, r Request) *Task {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}
	r.Method = method

	id := uuid.NewString()
	log := c.log.WithFields(logrus.Fields{"request_id": id, "method": method, "url": r.URL})

	key := ""
	if r.Cache {
		discriminator := r.Discriminator
		if discriminator == "" {
			discriminator = c.additional
		}
		k, err := c.cache.GenerateKey(r.URL, r.Params, discriminator)
		if err != nil {
			log.Debugf("Caching skipped: %v", err)
		} else {
			key = k
		}
	}

	return c.start(ctx, id, method, r.URL, log, key, func(ctx context.Context) (*liveResult, error) {
		req, err := c.buildHTTPRequest(ctx, r)
		if err != nil {
			return nil, err
		}
		return c.execute(req)
	})
}

// liveResult is a successful live response.
type liveResult struct {
	payload any
	status  int
	header  http.Header
	body    []byte
}

type liveFunc func(ctx context.Context) (*liveResult, error)

func (c *Client) start(ctx context.Context, id, method, rawURL string, log *logrus.Entry, key string, live liveFunc) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	t := newTask(id, method, rawURL, cancel)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		cancel()
		return failedTask(id, method, rawURL, ErrClosed)
	}
	c.inflight[id] = t
	c.tasks.Go(func() { c.run(taskCtx, t, log, key, live) })

	return t
}

func (c *Client) run(ctx context.Context, t *Task, log *logrus.Entry, key string, live liveFunc) {
	defer func() {
		c.mu.Lock()
		delete(c.inflight, t.id)
		c.mu.Unlock()
		t.cancel()
	}()

	var wg conc.WaitGroup
	if key != "" {
		wg.Go(func() { c.lookup(t, log, key) })
	}
	wg.Go(func() { c.live(ctx, t, log, key, live) })
	wg.Wait()

	close(t.events)
}

// lookup never fails: every problem reading the cache counts as a miss.
func (c *Client) lookup(t *Task, log *logrus.Entry, key string) {
	entry, err := c.cache.Get(key)
	switch {
	case errors.Is(err, httpcache.ErrCorrupt):
		log.Debugf("Ignoring corrupt cache entry %s: %v", key, err)
	case err != nil:
		log.Warnf("Failed to get cached data for %s: %v", key, err)
	case entry == nil:
		log.Debugf("No cached data found for %s", key)
	default:
		payload, err := c.decodeBody(entry.Body)
		if err == nil {
			c.metrics.recordLookup(context.Background(), true)
			t.deliverHit(Event{
				Payload:    payload,
				StatusCode: entry.StatusCode,
				Header:     entry.Header,
				StoredAt:   entry.StoredAt,
			})
			log.Debugf("Delivered cached data for %s", key)
			return
		}
		log.Debugf("Cached entry %s does not decode, treating as miss: %v", key, err)
	}
	c.metrics.recordLookup(context.Background(), false)
}

func (c *Client) live(ctx context.Context, t *Task, log *logrus.Entry, key string, live liveFunc) {
	started := time.Now()
	res, err := live(ctx)
	c.metrics.recordRequest(context.Background(), t.method, time.Since(started), err)

	if err != nil {
		log.Infof("Request failed: %v", err)
		t.finish(Event{Kind: EventLiveFailure, Err: err})
		return
	}

	t.finish(Event{
		Kind:       EventLiveSuccess,
		Payload:    res.payload,
		StatusCode: res.status,
		Header:     res.header,
	})
	log.Infof("Request succeeded -> %d", res.status)

	if key != "" {
		c.writeBacks.Go(func() { c.writeBack(log, key, res) })
	}
}

func (c *Client) writeBack(log *logrus.Entry, key string, res *liveResult) {
	resp := &http.Response{
		StatusCode: res.status,
		Header:     res.header,
		Body:       io.NopCloser(bytes.NewReader(res.body)),
	}
	err := c.cache.Put(key, resp)
	c.metrics.recordWrite(context.Background(), err)
	if err != nil {
		log.Errorf("Failed to cache response for %s: %v", key, err)
		return
	}
	log.Debugf("Cached response under %s", key)
}

// execute performs req and shapes the response. Non-2xx is a *StatusError.
func (c *Client) execute(req *http.Request) (*liveResult, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	}

	payload, err := c.decodeBody(body)
	if err != nil {
		return nil, err
	}

	return &liveResult{
		payload: payload,
		status:  resp.StatusCode,
		header:  resp.Header,
		body:    body,
	}, nil
}

// ClearCache removes every cached response.
func (c *Client) ClearCache() error {
	return c.cache.ClearAll()
}

// CancelAll cancels every in-flight task.
func (c *Client) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.inflight {
		t.cancel()
	}
}

// CancelURL cancels in-flight tasks started with rawURL. URLs are compared
// after normalization, so scheme/host case and default ports do not matter.
func (c *Client) CancelURL(rawURL string) int {
	want := normalizeForCompare(rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.inflight {
		if normalizeForCompare(t.url) == want {
			t.cancel()
			n++
		}
	}
	return n
}

func normalizeForCompare(rawURL string) string {
	if normalized, err := cache.NormalizeURL(rawURL); err == nil {
		return normalized
	}
	return rawURL
}

// Wait blocks until every task started so far has finished and its
// write-back, if any, has been stored. It must not race with new requests.
func (c *Client) Wait() {
	c.tasks.Wait()
	c.writeBacks.Wait()
}

// Close rejects new tasks with ErrClosed and waits for running tasks and
// pending write-backs.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Wait()
	return nil
}
