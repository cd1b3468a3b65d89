package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmeshcher/expenses-system/internal/metrics"
	custommiddleware "github.com/mmeshcher/expenses-system/internal/middleware"
	"github.com/mmeshcher/expenses-system/internal/model"
)

// RouterOptions содержит необязательные зависимости маршрутизатора.
type RouterOptions struct {
	// Collector учитывает статус и длительность каждого запроса.
	Collector *metrics.Collector
	// Gatherer публикуется на /metrics для скрейпа Prometheus.
	Gatherer prometheus.Gatherer
	// LoginLimiter ограничивает частоту запросов к эндпоинтам аутентификации.
	LoginLimiter *custommiddleware.RateLimiter
}

// SetupRouter настраивает HTTP-маршруты и middleware сервиса возмещения расходов.
func (h *Handler) SetupRouter(opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	if opts.Collector != nil {
		r.Use(opts.Collector.Middleware)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if opts.LoginLimiter != nil {
				r.Use(opts.LoginLimiter.Middleware)
			}

			r.Post("/auth/register", h.Register)
			r.Post("/auth/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/users/me", h.Me)

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleEmployee))

				r.Post("/expenses", h.SubmitExpense)
				r.Get("/expenses/my", h.MyExpenses)
			})

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleManager))

				r.Get("/expenses/pending", h.PendingExpenses)
				r.Put("/expenses/{expenseID}/approve", h.ApproveExpense)
				r.Put("/expenses/{expenseID}/reject", h.RejectExpense)
			})
		})
	})

	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Gatherer))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
