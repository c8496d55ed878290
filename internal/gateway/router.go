// ABOUTME: HTTP routing for the gateway using chi with CORS and request logging
// ABOUTME: Message routes require a token; stream, media and health routes authenticate themselves or not at all

package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/marv1n-le/marvify/internal/stream"
)

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(g.baseLogger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: g.config.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	r.Handle("/media/*", http.StripPrefix("/media", g.uploader.Handler()))

	r.Route("/api/messages", func(r chi.Router) {
		// The stream authenticates on its own so it can answer with an error frame.
		r.Method(http.MethodGet, "/sse", stream.NewServer(g.registry, g.auth, g.config.Stream.HeartbeatInterval, g.baseLogger))

		r.Group(func(r chi.Router) {
			r.Use(g.auth.Middleware)
			r.Post("/send", g.handleSend)
			r.Get("/get", g.handleHistory)
			r.Post("/get", g.handleHistory)
			r.Get("/recent", g.handleRecent)
		})
	})

	return r
}

// requestLogger logs one line per request with slog once the handler returns.
// Stream requests are logged when the client disconnects.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
