package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mailscope/mailscope/internal/auth"
	"github.com/mailscope/mailscope/internal/pkg/httputil"
)

// Routes assembles the API router. Registration, login, and the OAuth
// callbacks are public; everything else under /api requires a session.
func Routes(h *Handlers, authSvc *auth.Service, limiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.Server.BaseURL, "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.OK(w, map[string]string{"status": "ok"})
	})

	// Beacon routes ride along so a single-binary deployment works; the
	// standalone tracking service serves the same handlers on its own port.
	if h.beacon != nil {
		r.Get("/tracking/pixel/*", h.beacon.HandlePixel)
		r.Get("/tracking/click/*", h.beacon.HandleClick)
	}

	r.Post("/api/auth/register", h.Register)
	r.Post("/api/auth/login", h.Login)

	// Provider consent redirects land here without a session header, so the
	// callback authenticates through the state cookie set at connect time.
	r.Get("/api/connect/{provider}/callback", h.ConnectCallback)

	r.Group(func(r chi.Router) {
		r.Use(authSvc.RequireAuth)

		r.Get("/api/auth/me", h.Me)
		r.Post("/api/auth/logout", h.Logout)

		r.Get("/api/connect/{provider}", h.Connect)
		r.Get("/api/connections", h.Connections)
		r.Delete("/api/connections/{provider}", h.Disconnect)

		r.Group(func(r chi.Router) {
			if limiter != nil {
				r.Use(limiter.LimitSends)
			}
			r.Post("/api/email/send", h.SendEmail)
		})

		r.Get("/api/email", h.ListMessages)
		r.Get("/api/email/{id}", h.GetMessage)
		r.Delete("/api/email/{id}", h.DeleteMessage)
		r.Get("/api/email/{id}/analytics", h.MessageAnalytics)
	})

	return r
}
