package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dannyseiner/web-tools-sub000/internal/domain"
	"github.com/dannyseiner/web-tools-sub000/internal/service/auth"
	"github.com/dannyseiner/web-tools-sub000/internal/service/i18n"
	"github.com/dannyseiner/web-tools-sub000/internal/service/ingest"
	"github.com/dannyseiner/web-tools-sub000/internal/service/notifications"
	"github.com/dannyseiner/web-tools-sub000/internal/service/organization"
	"github.com/dannyseiner/web-tools-sub000/internal/service/presence"
	"github.com/dannyseiner/web-tools-sub000/internal/service/project"
	"github.com/dannyseiner/web-tools-sub000/internal/service/tokens"
	"github.com/dannyseiner/web-tools-sub000/pkg/capture"
)

// ProjectAuthenticator resolves the project a public API request acts for.
type ProjectAuthenticator interface {
	Authenticate(req *http.Request) (domain.AuthenticatedProject, error)
}

// Services bundles the application services the router exposes.
type Services struct {
	Auth          auth.Service
	Organizations organization.Service
	Projects      project.Service
	Tokens        tokens.Service
	Resolver      ProjectAuthenticator
	Ingest        ingest.Service
	Presence      presence.Service
	I18n          i18n.Service
	Notifications notifications.Service
}

// Options tunes limits and optional endpoints.
type Options struct {
	IngestRateLimitPerMin int
	IngestMaxBodyBytes    int64
	MetricsEnabled        bool
	DBHealth              func(context.Context) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	auth          auth.Service
	organizations organization.Service
	projects      project.Service
	tokens        tokens.Service
	resolver      ProjectAuthenticator
	ingest        ingest.Service
	presence      presence.Service
	i18n          i18n.Service
	notifications notifications.Service
	upgrader      websocket.Upgrader
	limiter       RateLimiter
	ingestLimit   int
	maxBody       int64
	dbHealth      func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	ingestTotal        *prometheus.CounterVec
	tokenRejections    *prometheus.CounterVec
}

const (
	rateWindowDefault    = time.Minute
	rateWindowRealtime   = 30 * time.Second
	rateLimitSignup      = 5
	rateLimitLogin       = 12
	rateLimitUserWrite   = 60
	rateLimitUserRead    = 120
	rateLimitPresence    = 240
	rateLimitWebsocket   = 30
	rateLimitPublicRead  = 600
	defaultIngestLimit   = 600
	defaultMaxBodyBytes  = 256 << 10
	healthCheckTimeout   = 2 * time.Second
	streamHeartbeatEvery = 15 * time.Second
	streamBackfillLimit  = 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, svc Services, limiter RateLimiter, opts Options) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:           http.NewServeMux(),
		logger:        logger,
		auth:          svc.Auth,
		organizations: svc.Organizations,
		projects:      svc.Projects,
		tokens:        svc.Tokens,
		resolver:      svc.Resolver,
		ingest:        svc.Ingest,
		presence:      svc.Presence,
		i18n:          svc.I18n,
		notifications: svc.Notifications,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:     limiter,
		ingestLimit: opts.IngestRateLimitPerMin,
		maxBody:     opts.IngestMaxBodyBytes,
		dbHealth:    opts.DBHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.ingestLimit == 0 {
		r.ingestLimit = defaultIngestLimit
	}
	if r.maxBody <= 0 {
		r.maxBody = defaultMaxBodyBytes
	}
	if opts.MetricsEnabled {
		r.initMetrics()
		r.mux.Handle("/metrics", promhttp.Handler())
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.HandleFunc("/auth/signup", r.audit("auth_signup", r.withRateLimit("auth_signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit("auth_login", r.withRateLimit("auth_login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))

	// Public API, authenticated by project token.
	r.mux.HandleFunc("/errors", suppressCapture(r.audit("errors", r.withCORS(r.requireProjectToken(
		r.withRateLimit("errors", r.ingestLimit, rateWindowDefault, rateLimitKeyProject, r.handleErrors))))))
	r.mux.HandleFunc("/i18n/languages", r.audit("i18n_languages", r.withCORS(r.requireProjectToken(
		r.withRateLimit("i18n", rateLimitPublicRead, rateWindowDefault, rateLimitKeyProject, r.handlePublicLanguages)))))
	r.mux.HandleFunc("/i18n/translations", r.audit("i18n_translations", r.withCORS(r.requireProjectToken(
		r.withRateLimit("i18n", rateLimitPublicRead, rateWindowDefault, rateLimitKeyProject, r.handlePublicTranslations)))))

	// Dashboard, authenticated by session token.
	r.mux.HandleFunc("/presence/start", r.audit("presence_start", r.handlerAuthRate("presence", rateLimitPresence, rateWindowDefault, r.handlePresenceStart)))
	r.mux.HandleFunc("/presence/stop", r.audit("presence_stop", r.optionalAuth(r.handlePresenceStop)))
	r.mux.HandleFunc("/presence/active", r.audit("presence_active", r.handlerAuthRate("presence", rateLimitPresence, rateWindowDefault, r.handlePresenceActive)))
	r.mux.HandleFunc("/organizations", r.audit("organizations", r.handlerAuthRate("organizations", rateLimitUserWrite, rateWindowDefault, r.handleOrganizations)))
	r.mux.HandleFunc("/organizations/", r.audit("organization", r.handlerAuthRate("organization", rateLimitUserRead, rateWindowDefault, r.handleOrganizationSubroutes)))
	r.mux.HandleFunc("/projects/", r.audit("project", r.handlerAuthRate("project", rateLimitUserRead, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/ws/notifications", r.audit("ws_notifications", r.handlerAuthRate("ws_notifications", rateLimitWebsocket, rateWindowRealtime, r.handleNotificationsWS)))
	r.mux.HandleFunc("/notifications/stream", r.audit("notifications_stream", r.handlerAuthRate("notifications_stream", rateLimitWebsocket, rateWindowRealtime, r.handleNotificationsStream)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, pair, err := r.auth.Signup(req.Context(), payload.Email, payload.Name, payload.Password)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":   userView(user),
		"tokens": tokenPairView(pair),
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, pair, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   userView(user),
		"tokens": tokenPairView(pair),
	})
}

func userView(user *domain.User) map[string]any {
	return map[string]any{"id": user.ID, "email": user.Email, "name": user.Name}
}

func tokenPairView(pair auth.TokenPair) map[string]any {
	return map[string]any{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    int(pair.ExpiresIn / time.Second),
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// suppressCapture keeps log records of the ingestion route from being
// reported back into the ingestion route.
func suppressCapture(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		next(w, req.WithContext(capture.Suppress(req.Context())))
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		} else if project, ok := projectFromContext(ctx); ok {
			actor = "project"
			fields = append(fields, "project_id", project.ProjectID)
		}
		fields = append(fields, "actor", actor)

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		r.logger.Log(ctx, level, "http_request", fields...)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

// validID reports whether id looks like a stored identifier.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
