package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/marmos91/stackd/internal/logger"
	"github.com/marmos91/stackd/internal/telemetry"
	"github.com/marmos91/stackd/pkg/metrics"
)

// unmatchedRoute labels requests no route matched, keeping metric
// cardinality bounded.
const unmatchedRoute = "unmatched"

// Observe opens the server span, attaches a logger.LogContext to the
// request and records the request in m once it completes. It must run
// after chi's RequestID and RealIP.
func Observe(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := telemetry.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := telemetry.StartHTTPSpan(ctx, r.Method, r.URL.Path,
				telemetry.ClientAddr(clientIP(r)))
			defer span.End()

			lc := logger.NewLogContext(chimw.GetReqID(ctx), clientIP(r)).
				WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
			ctx = logger.WithContext(ctx, lc)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := RoutePattern(r)

			span.SetName(r.Method + " " + route)
			span.SetAttributes(telemetry.HTTPRoute(route), telemetry.HTTPStatus(status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}

			m.ObserveHTTP(r.Method, route, status, time.Since(start))
		})
	}
}

// RoutePattern returns the matched chi pattern, or "unmatched". It is only
// meaningful once routing has run.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
