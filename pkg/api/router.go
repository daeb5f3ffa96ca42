package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/marmos91/stackd/internal/logger"
	"github.com/marmos91/stackd/pkg/api/auth"
	"github.com/marmos91/stackd/pkg/api/handlers"
	apiMiddleware "github.com/marmos91/stackd/pkg/api/middleware"
	"github.com/marmos91/stackd/pkg/cache"
	"github.com/marmos91/stackd/pkg/metrics"
)

// RequestTimeout bounds every request handled by the router.
const RequestTimeout = 30 * time.Second

// Dependencies are the collaborators the router serves.
type Dependencies struct {
	// Cache backs readiness and the admin routes. May be nil, in which
	// case readiness reports unhealthy and the admin routes are absent.
	Cache cache.Cache

	// JWT enables /api/v1/cache when non-nil.
	JWT *auth.JWTService

	// Metrics records request metrics. May be nil.
	Metrics *metrics.Metrics

	// MaxBodySize caps PUT bodies on the admin routes.
	MaxBodySize int64

	// CORSOrigins enables CORS for the listed origins.
	CORSOrigins []string

	// Version is reported by the liveness probe.
	Version string
}

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Tracing, log context and request metrics
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//   - CORS when origins are configured
//
// Routes:
//   - GET / - Redirect to /health
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /health/cache - Cache health
//   - GET /api/health - Legacy health envelope
//   - /api/v1/cache/* - Cache admin (bearer token, only with a JWT secret)
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.Observe(deps.Metrics))
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.NotFound(w, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handlers.MethodNotAllowed(w, r.Method+" is not supported on "+r.URL.Path)
	})

	var pinger handlers.Pinger
	if deps.Cache != nil {
		pinger = deps.Cache
	}
	healthHandler := handlers.NewHealthHandler(pinger, deps.Version)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
		r.Get("/cache", healthHandler.Cache)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	r.Get("/api/health", healthHandler.Legacy)

	if deps.JWT != nil && deps.Cache != nil {
		cacheHandler := handlers.NewCacheHandler(deps.Cache, deps.MaxBodySize)

		r.Route("/api/v1/cache", func(r chi.Router) {
			r.Use(apiMiddleware.JWTAuth(deps.JWT))

			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.RequireScope(auth.ScopeCacheRead))
				r.Get("/*", cacheHandler.Get)
			})

			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.RequireScope(auth.ScopeCacheWrite))
				r.Put("/*", cacheHandler.Put)
				r.Delete("/*", cacheHandler.Delete)
				r.Delete("/", cacheHandler.DeletePrefix)
			})
		})
	}

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/") || path == "/api/health"
}

// requestLogger logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path
//   - Request completion (INFO level): method, route, status, duration
//   - Healthcheck requests are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		logger.DebugCtx(ctx, "API request started",
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		logArgs := []any{
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.Route(apiMiddleware.RoutePattern(r)),
			logger.Status(status),
			logger.Bytes(ww.BytesWritten()),
			logger.DurationMs(logger.Duration(start)),
		}

		// Log healthcheck requests at DEBUG to avoid polluting logs
		if isHealthPath(r.URL.Path) {
			logger.DebugCtx(ctx, "API request completed", logArgs...)
		} else {
			logger.InfoCtx(ctx, "API request completed", logArgs...)
		}
	})
}
