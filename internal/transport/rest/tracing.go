package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	appCtx "github.com/flowgrow/promo-service/internal/pkg/context"
	"github.com/flowgrow/promo-service/internal/pkg/logger"
)

const traceHeader = "X-Request-Id"

// Tracing assigns each request a trace id. An inbound X-Request-Id is
// honored as-is so callers can correlate across services; otherwise a
// fresh uuid is minted. The id is echoed back and stored in context for
// the access log, audit events, and outbox rows.
func Tracing(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(traceHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(traceHeader, id)
		next.ServeHTTP(w, r.WithContext(appCtx.WithTraceID(r.Context(), id)))
	}
	return http.HandlerFunc(fn)
}

// AccessLog emits one structured line per request once the handler
// chain returns. The chi route pattern is logged alongside the raw path
// so dashboards can group by endpoint without exploding on ids.
func AccessLog(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}

			logger.WithCtx(r.Context()).Info().
				Str("method", r.Method).
				Str("route", route).
				Str("path", r.URL.Path).
				Str("client_ip", clientIP(r)).
				Int("status", ww.Status()).
				Int("bytes_out", ww.BytesWritten()).
				Int64("elapsed_ms", time.Since(start).Milliseconds()).
				Msg("http_request")
		}()

		next.ServeHTTP(ww, r)
	}
	return http.HandlerFunc(fn)
}
