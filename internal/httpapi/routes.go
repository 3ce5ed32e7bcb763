package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/directory"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/hub"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/session"
)

type Deps struct {
	Directory  directory.Admin
	Sessions   *session.Service
	Hub        *hub.Hub
	Log        *zap.Logger
	DefaultTTL time.Duration
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(d.Log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz(d.Hub))

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", CreateRoom(d.Directory, d.DefaultTTL, d.Log))
		r.Route("/{code}", func(r chi.Router) {
			r.Post("/participants", JoinRoom(d.Directory, d.Log))
			r.Put("/participants/{id}/status", SetStatus(d.Directory, d.Log))
			r.Post("/sync", Sync(d.Sessions, d.Log))
			r.Get("/state", Poll(d.Sessions, d.Log))
		})
	})
	return r
}

// RequestLogger logs one line per request through zap.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
