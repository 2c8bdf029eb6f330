package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"runtime"
	"runtime/debug"
	"time"
	"unicode"

	pkgerrors "github.com/pkg/errors"
)

// TimestampLayout is the ISO-8601 layout used for report timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Payload is the JSON document posted to the ingestion endpoint.
type Payload struct {
	Name         string            `json:"name"`
	Message      string            `json:"message"`
	Stack        string            `json:"stack,omitempty"`
	URL          string            `json:"url,omitempty"`
	UserAgent    string            `json:"userAgent,omitempty"`
	Timestamp    string            `json:"timestamp"`
	ProjectToken string            `json:"projectToken,omitempty"`
	App          string            `json:"app,omitempty"`
	Env          string            `json:"env,omitempty"`
	Release      string            `json:"release,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Extra        map[string]any    `json:"extra,omitempty"`
}

// CaptureOption adds call-site context to a single capture.
type CaptureOption func(*captureOptions)

type captureOptions struct {
	tags      map[string]string
	extra     map[string]any
	url       string
	userAgent string
	stack     []byte
}

// WithTags adds call-site tags. They win over configured default tags.
func WithTags(tags map[string]string) CaptureOption {
	return func(o *captureOptions) {
		for k, v := range tags {
			if o.tags == nil {
				o.tags = make(map[string]string, len(tags))
			}
			o.tags[k] = v
		}
	}
}

// WithExtra attaches arbitrary structured data to the report.
func WithExtra(extra map[string]any) CaptureOption {
	return func(o *captureOptions) {
		for k, v := range extra {
			if o.extra == nil {
				o.extra = make(map[string]any, len(extra))
			}
			o.extra[k] = v
		}
	}
}

// WithURL overrides the URL recorded with the report.
func WithURL(url string) CaptureOption {
	return func(o *captureOptions) {
		o.url = url
	}
}

func withStack(stack []byte) CaptureOption {
	return func(o *captureOptions) {
		o.stack = stack
	}
}

type requestInfoKey struct{}
type suppressKey struct{}

type requestInfo struct {
	url       string
	userAgent string
}

// WithRequest binds the page URL and user agent of req to ctx for later captures.
func WithRequest(ctx context.Context, req *http.Request) context.Context {
	if req == nil {
		return ctx
	}
	info := requestInfo{userAgent: req.UserAgent()}
	if req.URL != nil {
		u := *req.URL
		if u.Host == "" {
			u.Host = req.Host
		}
		if u.Scheme == "" {
			u.Scheme = "http"
			if req.TLS != nil {
				u.Scheme = "https"
			}
		}
		info.url = u.String()
	}
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// Suppress marks ctx so captures and log hooks ignore it. Ingestion paths use it
// to avoid reporting their own failures back to themselves.
func Suppress(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

func suppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressKey{}).(bool)
	return v
}

func buildPayload(ctx context.Context, cfg Config, err error, o captureOptions, now func() time.Time) Payload {
	info, _ := ctx.Value(requestInfoKey{}).(requestInfo)
	url := o.url
	if url == "" {
		url = info.url
	}
	ua := o.userAgent
	if ua == "" {
		ua = info.userAgent
	}
	if ua == "" {
		ua = defaultUserAgent(cfg)
	}
	stack := stackOf(err)
	if stack == "" {
		if len(o.stack) > 0 {
			stack = string(o.stack)
		} else {
			stack = string(debug.Stack())
		}
	}
	return Payload{
		Name:         errorName(err),
		Message:      err.Error(),
		Stack:        stack,
		URL:          url,
		UserAgent:    ua,
		Timestamp:    now().UTC().Format(TimestampLayout),
		ProjectToken: cfg.ProjectToken,
		App:          cfg.App,
		Env:          cfg.Env,
		Release:      cfg.Release,
		Tags:         mergeTags(cfg.Tags, o.tags),
		Extra:        o.extra,
	}
}

// mergeTags overlays call-site tags on the defaults.
func mergeTags(defaults, callSite map[string]string) map[string]string {
	if len(defaults) == 0 && len(callSite) == 0 {
		return nil
	}
	out := make(map[string]string, len(defaults)+len(callSite))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range callSite {
		out[k] = v
	}
	return out
}

// coercedError wraps non-error values handed to Capture.
type coercedError struct {
	msg string
}

func (e *coercedError) Error() string { return e.msg }

// coerce turns any thrown value into an error. Non-errors are JSON encoded,
// falling back to a non-recursive string form when encoding fails.
func coerce(v any) error {
	switch value := v.(type) {
	case error:
		if isNilValue(value) {
			return &coercedError{msg: "null"}
		}
		return value
	case string:
		return &coercedError{msg: value}
	}
	if encoded, err := json.Marshal(v); err == nil {
		return &coercedError{msg: string(encoded)}
	}
	return &coercedError{msg: fallbackString(v)}
}

// fallbackString never walks composite values, so self-referencing data cannot
// recurse.
func fallbackString(v any) string {
	if v == nil {
		return "null"
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer, reflect.Interface:
		return fmt.Sprintf("[%T]", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func isNilValue(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// errorName picks the first exported concrete type name in the wrap chain.
func errorName(err error) string {
	var rtErr runtime.Error
	if errors.As(err, &rtErr) {
		return "RuntimeError"
	}
	for current := err; current != nil; current = errors.Unwrap(current) {
		if _, ok := current.(*coercedError); ok {
			break
		}
		t := reflect.TypeOf(current)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if name := t.Name(); name != "" && unicode.IsUpper(rune(name[0])) {
			return name
		}
	}
	return "Error"
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// stackOf returns the deepest github.com/pkg/errors stack trace in the chain.
func stackOf(err error) string {
	var found stackTracer
	for current := err; current != nil; current = errors.Unwrap(current) {
		if st, ok := current.(stackTracer); ok {
			found = st
		}
	}
	if found == nil {
		return ""
	}
	return fmt.Sprintf("%s%+v", err.Error(), found.StackTrace())
}

func defaultUserAgent(cfg Config) string {
	release := cfg.Release
	if release == "" {
		release = "dev"
	}
	app := cfg.App
	if app == "" {
		app = "go-app"
	}
	return fmt.Sprintf("%s/%s (%s; %s/%s)", app, release, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
