package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Auth outcomes recorded on the request log line.
const (
	authOff     = "off"
	authOK      = "ok"
	authMissing = "missing"
	authInvalid = "invalid"
)

type ctxKey int

const requestInfoKey ctxKey = 0

// requestInfo is filled in by handlers and middleware further down the chain
// and read back by RequestLogger once the response is written.
type requestInfo struct {
	auth  string
	runID string
}

func infoFrom(ctx context.Context) *requestInfo {
	if ri, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		return ri
	}
	return &requestInfo{}
}

// setRunID attaches the run a request created or inspected to its log line.
func setRunID(r *http.Request, id string) {
	infoFrom(r.Context()).runID = id
}

// AuthMiddleware requires "Authorization: Bearer <apiKey>" on every request.
func AuthMiddleware(apiKey string, log *slog.Logger) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ri := infoFrom(r.Context())
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				ri.auth = authMissing
				log.Debug("missing bearer token", "path", r.URL.Path, "remote", r.RemoteAddr)
				jsonError(w, "missing authorization", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				ri.auth = authInvalid
				log.Warn("rejected api key", "path", r.URL.Path, "remote", r.RemoteAddr,
					"request_id", middleware.GetReqID(r.Context()))
				jsonError(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			ri.auth = authOK
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger writes one line per request with the matched chi route, the
// auth outcome and, for ingest routes, the run id. Health and metrics scrapes
// are logged at debug level.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ri := &requestInfo{auth: authOff}
			r = r.WithContext(context.WithValue(r.Context(), requestInfoKey, ri))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
				if id := rctx.URLParam("runID"); id != "" && ri.runID == "" {
					ri.runID = id
				}
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				"method", r.Method,
				"route", route,
				"status", status,
				"bytes", ww.BytesWritten(),
				"auth", ri.auth,
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if ri.runID != "" {
				attrs = append(attrs, "run_id", ri.runID)
			}

			level := slog.LevelInfo
			if route == "/health" || route == "/metrics" {
				level = slog.LevelDebug
			}
			log.Log(r.Context(), level, "request", attrs...)
		})
	}
}
