package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/punchclock/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	monitorHandler := handlers.NewMonitorHandler(s.monitor)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Event streams stay open; everything else is bounded.
		r.Get("/monitor/events", monitorHandler.Events)
		r.Get("/capture/{id}/events", s.captures.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(time.Minute))

			// Live monitor
			r.Get("/monitor", monitorHandler.Get)
			r.Get("/monitor/frame", monitorHandler.Frame)
			r.Post("/monitor/camera/start", monitorHandler.StartCamera)
			r.Post("/monitor/camera/stop", monitorHandler.StopCamera)
			r.Post("/monitor/camera/restart", monitorHandler.RestartCamera)
			r.Delete("/monitor/error", monitorHandler.DismissError)

			// Guided capture sessions
			r.Get("/capture", s.captures.List)
			r.Post("/capture", s.captures.Create)
			r.Get("/capture/{id}", s.captures.Get)
			r.Put("/capture/{id}/identity", s.captures.SetIdentity)
			r.Post("/capture/{id}/capture", s.captures.CaptureNow)
			r.Post("/capture/{id}/submit", s.captures.Submit)
			r.Delete("/capture/{id}/slots/{slot}", s.captures.ResetSlot)
			r.Delete("/capture/{id}/error", s.captures.DismissError)
			r.Delete("/capture/{id}", s.captures.Cancel)
		})
	})
}
