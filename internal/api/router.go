package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-trader/internal/api/handlers"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// HealthFunc reports dependency health; nil error means healthy
type HealthFunc func(ctx context.Context) error

// Routes groups the handlers mounted by NewRouter
type Routes struct {
	Guard   *handlers.GuardHandler
	Risk    *handlers.RiskHandler
	Metrics http.Handler // nil disables /metrics
	Health  HealthFunc   // nil means always healthy
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(routes Routes, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler(routes.Health)).Methods("GET")
	if routes.Metrics != nil {
		r.Handle("/metrics", routes.Metrics).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// Guard endpoints
	api.HandleFunc("/guard", routes.Guard.GetGuard).Methods("GET")
	api.HandleFunc("/guard", routes.Guard.UpdateGuard).Methods("POST")

	// Risk endpoints
	if routes.Risk != nil {
		api.HandleFunc("/risk/events", routes.Risk.GetEvents).Methods("GET")
		api.HandleFunc("/breaker/{broker}/check", routes.Risk.CheckBreaker).Methods("POST")
		api.HandleFunc("/breaker/{broker}/reset-high-water", routes.Risk.ResetHighWater).Methods("POST")
	}

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(check HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":  "ok",
			"service": "aegis-trader",
		}
		code := http.StatusOK
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				body["status"] = "degraded"
				body["error"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(body)
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Call next handler
			next.ServeHTTP(w, r)

			// Log request
			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
