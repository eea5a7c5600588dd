package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"demoforge/internal/http/handlers"
	"demoforge/internal/middleware"
)

// RouterOptions carries the request-scoped middleware knobs.
type RouterOptions struct {
	AllowedOrigins  []string
	RateLimitPerMin int
	DefaultLocale   string
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.CORS(opts.AllowedOrigins),
		middleware.Locale(opts.DefaultLocale),
	)
	if app.Logger != nil {
		r.Use(middleware.Logger(*app.Logger))
	}
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", app.SessionCreate)
		r.Get("/{session_id}/state", app.SessionState)
		r.Post("/{session_id}/updates", app.SessionUpdates)
		r.Post("/{session_id}/generate", app.GenerateVideo)
		r.Post("/{session_id}/subjects/{subject_id}/reference", app.SubjectReference)
	})

	r.Route("/v1/tasks", func(r chi.Router) {
		r.Get("/", app.TaskList)
		r.Get("/{task_id}", app.TaskStatus)
		r.Get("/{task_id}/result", app.TaskResult)
		r.Post("/{task_id}/cancel", app.TaskCancel)
	})

	return r
}
