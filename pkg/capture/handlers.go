package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"runtime"
	"runtime/debug"
)

// InstallGlobalHandlers routes error-level records of the default slog logger
// through Capture. Repeat calls on the same client are no-ops.
func (c *Client) InstallGlobalHandlers() {
	if c == nil || !c.installed.CompareAndSwap(false, true) {
		return
	}
	base := slog.Default().Handler()
	if reflect.TypeOf(base).String() == "*slog.defaultHandler" {
		// the built-in handler writes through package log, which SetDefault
		// points back at the new default logger.
		base = slog.NewTextHandler(os.Stderr, nil)
	}
	slog.SetDefault(slog.New(c.LogHandler(base)))
}

// LogHandler wraps next so error-level records are also captured.
func (c *Client) LogHandler(next slog.Handler) slog.Handler {
	return &logHook{client: c, next: next}
}

type logHook struct {
	client *Client
	next   slog.Handler
	attrs  []slog.Attr
}

func (h *logHook) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelError || h.next.Enabled(ctx, level)
}

func (h *logHook) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= slog.LevelError {
		h.capture(ctx, record)
	}
	if !h.next.Enabled(ctx, record.Level) {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *logHook) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &logHook{client: h.client, next: h.next.WithAttrs(attrs), attrs: merged}
}

func (h *logHook) WithGroup(name string) slog.Handler {
	return &logHook{client: h.client, next: h.next.WithGroup(name), attrs: h.attrs}
}

func (h *logHook) capture(ctx context.Context, record slog.Record) {
	if ctx == nil {
		ctx = context.Background()
	}
	var captured error
	extra := map[string]any{"logMessage": record.Message}
	fields := map[string]string{}
	collect := func(a slog.Attr) bool {
		if captured == nil && (a.Key == "error" || a.Key == "err") {
			if err, ok := a.Value.Any().(error); ok {
				captured = err
				return true
			}
		}
		fields[a.Key] = a.Value.String()
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	record.Attrs(collect)
	if captured == nil {
		captured = errors.New(record.Message)
	}
	if len(fields) > 0 {
		extra["attrs"] = fields
	}
	if record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		extra["file"] = frame.File
		extra["line"] = frame.Line
		extra["function"] = frame.Function
	}
	h.client.Capture(ctx, captured, WithExtra(extra))
}

// Go runs fn in a new goroutine, capturing any panic it raises instead of
// crashing the process. A nil client starts fn as a plain goroutine.
func (c *Client) Go(ctx context.Context, fn func(ctx context.Context)) {
	if c == nil {
		go fn(ctx)
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.capturePanic(ctx, r, debug.Stack(), map[string]any{"mechanism": "goroutine"})
			}
		}()
		fn(ctx)
	}()
}

// Recover is deferred at the top of a goroutine. It captures a panic, waits
// briefly for delivery and re-panics so the host's crash behaviour is kept.
func (c *Client) Recover(ctx context.Context) {
	r := recover()
	if r == nil {
		return
	}
	c.capturePanic(ctx, r, debug.Stack(), map[string]any{"mechanism": "recover"})
	flushCtx, cancel := context.WithTimeout(context.Background(), flushOnPanicTimeout)
	_ = c.Flush(flushCtx)
	cancel()
	panic(r)
}

func (c *Client) capturePanic(ctx context.Context, r any, stack []byte, extra map[string]any) {
	var err error
	switch value := r.(type) {
	case error:
		err = value
	case string:
		err = errors.New(value)
	default:
		err = coerce(value)
	}
	if extra == nil {
		extra = map[string]any{}
	}
	extra["panic"] = fmt.Sprintf("%T", r)
	c.Capture(ctx, err, withStack(stack), WithExtra(extra))
}
