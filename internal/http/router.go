package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	Auth         *Authenticator
	Reservations *ReservationHandler
	Resources    *ResourceHandler
	Waitlist     *WaitlistHandler
	Admin        *AdminHandler
	Logger       *slog.Logger

	// RateLimitRPS disables per-principal limiting when zero.
	RateLimitRPS   float64
	RateLimitBurst int

	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)
	responder := newResponder(logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))
	for _, mw := range cfg.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		responder.writeError(req.Context(), w, http.StatusNotFound, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		responder.writeJSON(req.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(cfg.Auth, logger))
		if cfg.RateLimitRPS > 0 {
			burst := cfg.RateLimitBurst
			if burst <= 0 {
				burst = 1
			}
			r.Use(RateLimit(cfg.RateLimitRPS, burst, logger))
		}

		if cfg.Resources != nil {
			r.Get("/resources", cfg.Resources.List)
			r.Get("/resources/{id}/conflicts", cfg.Resources.Conflicts)
			r.Get("/resources/{id}/availability", cfg.Resources.Availability)
		}

		if cfg.Reservations != nil {
			r.Route("/reservations", func(r chi.Router) {
				r.Post("/", cfg.Reservations.Create)
				r.Get("/", cfg.Reservations.ListMine)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.Reservations.Get)
					r.Patch("/", cfg.Reservations.Modify)
					r.Delete("/", cfg.Reservations.Cancel)
					r.Get("/transitions", cfg.Reservations.Transitions)
					r.Post("/check-in", cfg.Reservations.CheckIn)
					r.Post("/check-out", cfg.Reservations.CheckOut)
					r.Post("/approve", cfg.Reservations.Approve)
					r.Post("/reject", cfg.Reservations.Reject)
				})
			})
		}

		if cfg.Waitlist != nil {
			r.Post("/waitlist", cfg.Waitlist.Join)
			r.Get("/waitlist/mine", cfg.Waitlist.Mine)
			r.Delete("/waitlist/{id}", cfg.Waitlist.Leave)
		}

		if cfg.Admin != nil {
			r.Post("/admin/priority-reservations", cfg.Admin.PriorityBook)
		}
	})

	return r
}
