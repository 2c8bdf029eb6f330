package capture

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
)

type received struct {
	header  http.Header
	payload map[string]any
}

type recorder struct {
	mu   sync.Mutex
	reqs []received
}

func (r *recorder) all() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]received, len(r.reqs))
	copy(out, r.reqs)
	return out
}

func newRecorder(t *testing.T) (*recorder, *httptest.Server) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		rec.mu.Lock()
		rec.reqs = append(rec.reqs, received{header: r.Header.Clone(), payload: payload})
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

func flush(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestCaptureDeliversPayload(t *testing.T) {
	rec, srv := newRecorder(t)
	client := New(Config{
		EndpointURL:  srv.URL + "/errors",
		ProjectToken: " tok123 ",
		App:          "web",
		Env:          "prod",
		Release:      "1.2.3",
		Tags:         map[string]string{"region": "eu", "tier": "free"},
	})
	client.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	client.Capture(context.Background(), errors.New("boom"),
		WithTags(map[string]string{"tier": "pro"}),
		WithExtra(map[string]any{"orderId": 7}),
		WithURL("https://app.example.com/checkout"),
	)
	flush(t, client)

	reqs := rec.all()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	got := reqs[0]
	if token := got.header.Get(HeaderProjectToken); token != "tok123" {
		t.Fatalf("unexpected token header %q", token)
	}
	if ct := got.header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	p := got.payload
	if p["name"] != "Error" || p["message"] != "boom" {
		t.Fatalf("unexpected name/message %v/%v", p["name"], p["message"])
	}
	if p["timestamp"] != "2024-05-01T10:00:00.000Z" {
		t.Fatalf("unexpected timestamp %v", p["timestamp"])
	}
	if p["app"] != "web" || p["env"] != "prod" || p["release"] != "1.2.3" {
		t.Fatalf("unexpected app/env/release %v", p)
	}
	if p["projectToken"] != "tok123" {
		t.Fatalf("unexpected projectToken %v", p["projectToken"])
	}
	if p["url"] != "https://app.example.com/checkout" {
		t.Fatalf("unexpected url %v", p["url"])
	}
	if ua, _ := p["userAgent"].(string); !strings.HasPrefix(ua, "web/1.2.3") {
		t.Fatalf("unexpected user agent %q", ua)
	}
	if stack, _ := p["stack"].(string); stack == "" {
		t.Fatal("expected stack to be populated")
	}
	tags, _ := p["tags"].(map[string]any)
	if tags["region"] != "eu" || tags["tier"] != "pro" {
		t.Fatalf("expected call-site tags to win, got %v", tags)
	}
	extra, _ := p["extra"].(map[string]any)
	if extra["orderId"] != float64(7) {
		t.Fatalf("unexpected extra %v", extra)
	}
}

func TestCaptureIsNoopWithoutConfiguration(t *testing.T) {
	rec, _ := newRecorder(t)

	var nilClient *Client
	nilClient.Capture(context.Background(), errors.New("ignored"))
	nilClient.InstallGlobalHandlers()

	client := New(Config{ProjectToken: "tok"})
	client.Capture(context.Background(), errors.New("ignored"))
	flush(t, client)

	if n := len(rec.all()); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
	if client.Enabled() {
		t.Fatal("expected client without endpoint to be disabled")
	}
}

func TestCaptureNeverPanics(t *testing.T) {
	client := New(Config{EndpointURL: "http://127.0.0.1:1/errors"}, WithHTTPClient(&http.Client{Timeout: 500 * time.Millisecond}))

	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	var nilErr *json.SyntaxError

	inputs := []any{
		nil,
		errors.New("plain"),
		"text",
		42,
		cyclic,
		nilErr,
		make(chan int),
		func() {},
	}
	for _, in := range inputs {
		client.Capture(context.Background(), in)
		client.Capture(nil, in, WithExtra(map[string]any{"bad": make(chan int)}))
	}
	flush(t, client)
}

func TestCaptureSurvivesCancelledContext(t *testing.T) {
	rec, srv := newRecorder(t)
	client := New(Config{EndpointURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client.Capture(ctx, errors.New("late"))
	flush(t, client)

	if n := len(rec.all()); n != 1 {
		t.Fatalf("expected delivery despite cancelled context, got %d", n)
	}
}

func TestFlushRacesWithCapture(t *testing.T) {
	rec, srv := newRecorder(t)
	client := New(Config{EndpointURL: srv.URL})

	const workers = 8
	const perWorker = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				client.Capture(context.Background(), errors.New("concurrent"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = client.Flush(ctx)
				cancel()
			}
		}()
	}
	wg.Wait()
	flush(t, client)

	if n := len(rec.all()); n != workers*perWorker {
		t.Fatalf("expected %d deliveries, got %d", workers*perWorker, n)
	}
}

func TestFlushStopsAtDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	client := New(Config{EndpointURL: srv.URL})

	client.Capture(context.Background(), errors.New("slow"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := client.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCaptureDropsUnencodableExtra(t *testing.T) {
	rec, srv := newRecorder(t)
	client := New(Config{EndpointURL: srv.URL})

	client.Capture(context.Background(), errors.New("with extra"), WithExtra(map[string]any{"ch": make(chan int)}))
	flush(t, client)

	reqs := rec.all()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if _, ok := reqs[0].payload["extra"]; ok {
		t.Fatalf("expected extra to be dropped, got %v", reqs[0].payload["extra"])
	}
	if reqs[0].payload["message"] != "with extra" {
		t.Fatalf("unexpected message %v", reqs[0].payload["message"])
	}
}

func TestCaptureUsesPkgErrorsStack(t *testing.T) {
	rec, srv := newRecorder(t)
	client := New(Config{EndpointURL: srv.URL})

	client.Capture(context.Background(), pkgerrors.Wrap(pkgerrors.New("inner"), "outer"))
	flush(t, client)

	p := rec.all()[0].payload
	if p["message"] != "outer: inner" {
		t.Fatalf("unexpected message %v", p["message"])
	}
	stack, _ := p["stack"].(string)
	if !strings.Contains(stack, "TestCaptureUsesPkgErrorsStack") {
		t.Fatalf("expected stack to reference the creating function, got %q", stack)
	}
}

func TestConfigureLastCallWins(t *testing.T) {
	first, firstSrv := newRecorder(t)
	second, secondSrv := newRecorder(t)
	client := New(Config{EndpointURL: firstSrv.URL})
	client.Configure(Config{EndpointURL: secondSrv.URL, ProjectToken: "new"})

	client.Capture(context.Background(), errors.New("x"))
	flush(t, client)

	if len(first.all()) != 0 {
		t.Fatal("expected first endpoint to be unused")
	}
	reqs := second.all()
	if len(reqs) != 1 || reqs[0].header.Get(HeaderProjectToken) != "new" {
		t.Fatalf("expected delivery to reconfigured endpoint, got %+v", reqs)
	}
}

func TestSuppressedContextSkipsCapture(t *testing.T) {
	rec, srv := newRecorder(t)
	client := New(Config{EndpointURL: srv.URL})

	client.Capture(Suppress(context.Background()), errors.New("quiet"))
	flush(t, client)

	if n := len(rec.all()); n != 0 {
		t.Fatalf("expected suppressed capture to be skipped, got %d", n)
	}
}

func TestCoerce(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{name: "number", in: 42, want: "42"},
		{name: "string", in: "oops", want: "oops"},
		{name: "nil", in: nil, want: "null"},
		{name: "object", in: map[string]any{"code": 7}, want: `{"code":7}`},
		{name: "struct", in: struct {
			Reason string `json:"reason"`
		}{Reason: "x"}, want: `{"reason":"x"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := coerce(tc.in)
			if err.Error() != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, err.Error())
			}
			if name := errorName(err); name != "Error" {
				t.Fatalf("expected generic name, got %q", name)
			}
		})
	}

	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	if msg := coerce(cyclic).Error(); msg != "[map[string]interface {}]" {
		t.Fatalf("unexpected fallback for cyclic value %q", msg)
	}
}

func TestErrorName(t *testing.T) {
	var syntaxErr *json.SyntaxError
	err := json.Unmarshal([]byte("{"), &map[string]any{})
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("expected syntax error, got %T", err)
	}
	if name := errorName(err); name != "SyntaxError" {
		t.Fatalf("expected SyntaxError, got %q", name)
	}
	wrapped := pkgerrors.Wrap(err, "decode")
	if name := errorName(wrapped); name != "SyntaxError" {
		t.Fatalf("expected wrapped name SyntaxError, got %q", name)
	}
}

func TestLogHandlerCapturesErrors(t *testing.T) {
	rec, srv := newRecorder(t)
	client := New(Config{EndpointURL: srv.URL})

	logger := slog.New(client.LogHandler(slog.NewTextHandler(io.Discard, nil))).With("component", "worker")
	logger.Info("just info")
	logger.Error("job failed", "error", errors.New("disk full"), "job", 12)
	logger.Error("no error attr")
	flush(t, client)

	reqs := rec.all()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 captures, got %d", len(reqs))
	}
	byMessage := map[string]map[string]any{}
	for _, r := range reqs {
		byMessage[r.payload["message"].(string)] = r.payload
	}
	p, ok := byMessage["disk full"]
	if !ok {
		t.Fatalf("expected error attr to be captured, got %v", byMessage)
	}
	extra, _ := p["extra"].(map[string]any)
	if extra["logMessage"] != "job failed" {
		t.Fatalf("unexpected logMessage %v", extra["logMessage"])
	}
	if file, _ := extra["file"].(string); !strings.HasSuffix(file, "client_test.go") {
		t.Fatalf("expected source file, got %v", extra["file"])
	}
	attrs, _ := extra["attrs"].(map[string]any)
	if attrs["component"] != "worker" || attrs["job"] != "12" {
		t.Fatalf("unexpected attrs %v", attrs)
	}
	if _, ok := byMessage["no error attr"]; !ok {
		t.Fatalf("expected synthesized error from message, got %v", byMessage)
	}
}

func TestInstallGlobalHandlersIsIdempotent(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec, srv := newRecorder(t)
	client := New(Config{EndpointURL: srv.URL})
	client.InstallGlobalHandlers()
	client.InstallGlobalHandlers()

	slog.Error("global failure", "error", errors.New("global"))
	flush(t, client)

	if n := len(rec.all()); n != 1 {
		t.Fatalf("expected exactly one capture, got %d", n)
	}
}

func TestGoCapturesRuntimePanic(t *testing.T) {
	rec, srv := newRecorder(t)
	client := New(Config{EndpointURL: srv.URL, ProjectToken: "tok123"})

	done := make(chan struct{})
	client.Go(context.Background(), func(context.Context) {
		defer close(done)
		var handler func()
		handler()
	})
	<-done
	// the capture is issued from the recovering defer after done closes.
	deadline := time.Now().Add(5 * time.Second)
	for len(rec.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	flush(t, client)

	reqs := rec.all()
	if len(reqs) != 1 {
		t.Fatalf("expected exactly one capture, got %d", len(reqs))
	}
	p := reqs[0].payload
	if p["name"] != "RuntimeError" {
		t.Fatalf("expected RuntimeError, got %v", p["name"])
	}
	if msg, _ := p["message"].(string); !strings.Contains(msg, "nil pointer dereference") {
		t.Fatalf("unexpected message %q", msg)
	}
	if stack, _ := p["stack"].(string); stack == "" {
		t.Fatal("expected stack")
	}
	if token := reqs[0].header.Get(HeaderProjectToken); token != "tok123" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestRecoverCapturesAndRepanics(t *testing.T) {
	rec, srv := newRecorder(t)
	client := New(Config{EndpointURL: srv.URL})

	var repanicked any
	func() {
		defer func() { repanicked = recover() }()
		func() {
			defer client.Recover(context.Background())
			panic("fatal state")
		}()
	}()

	if repanicked != "fatal state" {
		t.Fatalf("expected original panic to propagate, got %v", repanicked)
	}
	reqs := rec.all()
	if len(reqs) != 1 {
		t.Fatalf("expected capture to be flushed before re-panic, got %d", len(reqs))
	}
	if reqs[0].payload["message"] != "fatal state" {
		t.Fatalf("unexpected message %v", reqs[0].payload["message"])
	}
}
