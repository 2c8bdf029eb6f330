// Package capture reports errors from Go programs to the lingo ingestion endpoint.
//
// A Client is built once at startup from a Config and threaded through the
// application. Every reporting path is best effort: failures are swallowed,
// nothing is retried and nothing is queued.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// HeaderProjectToken carries the project token so the endpoint can authenticate before parsing.
	HeaderProjectToken = "X-Project-Token"

	defaultTimeout      = 5 * time.Second
	maxResponseDrain    = 4096
	flushOnPanicTimeout = 2 * time.Second
)

// Config describes where and how errors are reported.
type Config struct {
	EndpointURL  string
	ProjectToken string
	App          string
	Env          string
	Release      string
	Tags         map[string]string
}

// Client captures errors and delivers them to the ingestion endpoint.
type Client struct {
	mu        sync.RWMutex
	cfg       Config
	http      *http.Client
	logger    *slog.Logger
	now       func() time.Time
	installed atomic.Bool

	// pending counts deliveries in flight; drained is closed when it drops
	// back to zero and is nil while idle.
	pendingMu sync.Mutex
	pending   int
	drained   chan struct{}
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the transport used for delivery.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger receives debug output about swallowed delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New constructs a Client. It performs no network activity.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		http: &http.Client{Timeout: defaultTimeout},
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.Configure(cfg)
	return c
}

// Configure replaces the client configuration; the last call wins.
func (c *Client) Configure(cfg Config) {
	if c == nil {
		return
	}
	cfg.EndpointURL = strings.TrimSpace(cfg.EndpointURL)
	cfg.ProjectToken = strings.TrimSpace(cfg.ProjectToken)
	cfg.Tags = copyTags(cfg.Tags)
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// Enabled reports whether captures will be delivered.
func (c *Client) Enabled() bool {
	_, ok := c.config()
	return ok
}

func (c *Client) config() (Config, bool) {
	if c == nil {
		return Config{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg.EndpointURL == "" {
		return Config{}, false
	}
	return c.cfg, true
}

// Capture reports errorLike. It never panics, never blocks on the network and
// never reports failure to the caller.
func (c *Client) Capture(ctx context.Context, errorLike any, opts ...CaptureOption) {
	if c == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.debug("capture failed", "panic", r)
		}
	}()
	cfg, ok := c.config()
	if !ok {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if suppressed(ctx) {
		return
	}
	var o captureOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	payload := buildPayload(ctx, cfg, coerce(errorLike), o, c.now)
	body, err := json.Marshal(payload)
	if err != nil {
		// extra is caller supplied and may hold values JSON cannot encode.
		payload.Extra = nil
		if body, err = json.Marshal(payload); err != nil {
			c.debug("encode capture payload", "error", err)
			return
		}
	}
	c.deliver(ctx, cfg, body)
}

// Flush waits for in-flight deliveries or until ctx is done. Deliveries
// started after Flush is called are not waited for.
func (c *Client) Flush(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.pendingMu.Lock()
	drained := c.drained
	c.pendingMu.Unlock()
	if drained == nil {
		return nil
	}
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) beginDelivery() {
	c.pendingMu.Lock()
	if c.pending == 0 {
		c.drained = make(chan struct{})
	}
	c.pending++
	c.pendingMu.Unlock()
}

func (c *Client) endDelivery() {
	c.pendingMu.Lock()
	c.pending--
	if c.pending == 0 {
		close(c.drained)
		c.drained = nil
	}
	c.pendingMu.Unlock()
}

// deliver posts body in the background. The request context is detached from
// ctx so that the caller finishing (or its request being cancelled) does not
// abort a report that is already on its way.
func (c *Client) deliver(ctx context.Context, cfg Config, body []byte) {
	c.beginDelivery()
	go func() {
		defer c.endDelivery()
		defer func() {
			if r := recover(); r != nil {
				c.debug("capture delivery failed", "panic", r)
			}
		}()
		req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, cfg.EndpointURL, bytes.NewReader(body))
		if err != nil {
			c.debug("build capture request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if cfg.ProjectToken != "" {
			req.Header.Set(HeaderProjectToken, cfg.ProjectToken)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			c.debug("send capture request", "error", err)
			return
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))
		if resp.StatusCode >= http.StatusBadRequest {
			c.debug("capture rejected", "status", resp.StatusCode)
		}
	}()
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, args...)
}

func copyTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
