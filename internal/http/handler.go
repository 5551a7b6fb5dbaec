package httpapp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cesargomez89/inkqueue/internal/app"
	"github.com/cesargomez89/inkqueue/internal/hub"
	"github.com/cesargomez89/inkqueue/internal/logger"
	"github.com/cesargomez89/inkqueue/internal/providers"
)

type Handler struct {
	Actions   *app.ActionRouter
	Hub       *hub.Hub
	Providers *providers.Registry
	Logger    *logger.Logger
}

func NewHandler(actions *app.ActionRouter, h *hub.Hub, reg *providers.Registry, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		Actions:   actions,
		Hub:       h,
		Providers: reg,
		Logger:    log.WithComponent("http"),
	}
}

// NewRouter returns the API router with the standard middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)

	r.Route("/api/admin/jobs", func(r chi.Router) {
		r.Get("/", h.ListMaintenanceJobs)
		r.Post("/run", h.RunMaintenanceJob)
	})

	r.Route("/api/downloads", func(r chi.Router) {
		r.Get("/queue", h.ListDownloads)
		r.Post("/queue", h.EnqueueDownloads)
		r.Post("/queue/{id}/action", h.DownloadAction)
		r.Post("/action", h.BulkDownloadAction)
	})

	r.Get("/api/jobs", h.ListJobs)
	r.Get("/api/providers", h.ListProviders)
	r.Get("/ws/progress", h.ProgressSocket)
}
