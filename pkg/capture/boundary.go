package capture

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
)

// Boundary returns middleware that converts handler panics into captured
// reports and serves fallback in place of the failed handler. A nil fallback
// answers 500 with a JSON error body.
func Boundary(c *Client, fallback http.Handler) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = http.HandlerFunc(defaultFallback)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := WithRequest(req.Context(), req)
			req = req.WithContext(ctx)
			rec := &boundaryWriter{ResponseWriter: w}
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				stack := debug.Stack()
				c.capturePanic(ctx, r, stack, map[string]any{
					"mechanism":      "boundary",
					"componentStack": fmt.Sprintf("%s %s\n%s", req.Method, req.URL.Path, stack),
				})
				if rec.wroteHeader || rec.hijacked {
					return
				}
				fallback.ServeHTTP(w, req)
			}()
			next.ServeHTTP(rec, req)
		})
	}
}

func defaultFallback(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(`{"error":"Something went wrong"}`))
}

type boundaryWriter struct {
	http.ResponseWriter
	wroteHeader bool
	hijacked    bool
}

func (b *boundaryWriter) WriteHeader(code int) {
	b.wroteHeader = true
	b.ResponseWriter.WriteHeader(code)
}

func (b *boundaryWriter) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.ResponseWriter.Write(p)
}

func (b *boundaryWriter) Flush() {
	if f, ok := b.ResponseWriter.(http.Flusher); ok {
		b.wroteHeader = true
		f.Flush()
	}
}

func (b *boundaryWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := b.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacker not supported")
	}
	b.hijacked = true
	return h.Hijack()
}
