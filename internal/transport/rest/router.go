package rest

import (
	"net/http"
	"time"

	"github.com/flowgrow/promo-service/internal/domain"
	"github.com/flowgrow/promo-service/internal/metrics"
	"github.com/flowgrow/promo-service/internal/security"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type RouterDeps struct {
	Cache     domain.CacheRepository
	Handler   *Handler
	Verifier  security.AccessTokenVerifier
	JWTIssuer string

	RateLimitEnabled bool
	RateLimitMax     int
	RateLimitWindow  time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Cache == nil {
		panic("rest.NewRouter: nil cache")
	}
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Verifier == nil {
		panic("rest.NewRouter: nil verifier")
	}

	r := chi.NewRouter()

	// Trace id + structured access log
	r.Use(Tracing)
	r.Use(AccessLog)

	// Panic recovery
	r.Use(middleware.Recoverer)

	// Cross-cutting
	if d.RateLimitEnabled {
		r.Use(RateLimitMiddleware(d.Cache, RateLimitConfig{
			Limit:  d.RateLimitMax,
			Window: d.RateLimitWindow,
		}))
	}
	r.Use(SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	// Public login endpoints; both verify a Telegram signature before
	// any session exists.
	r.Post("/auth/telegram", d.Handler.LoginWebApp)
	r.Post("/auth/telegram-widget", d.Handler.LoginWidget)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Verifier, AuthOptions{ExpectedIssuer: d.JWTIssuer}))

		r.Get("/profile", d.Handler.Me)
		r.Get("/profile/check-followers", d.Handler.CheckFollowers)
		r.Post("/profile/social-account", d.Handler.LinkAccount)

		r.Get("/users", d.Handler.ListUsers)
		r.Post("/users", d.Handler.UpsertUser)

		r.Post("/orders", d.Handler.CreateOrder)
		r.Get("/orders/{orderID}", d.Handler.GetOrder)
		r.Post("/tasks/match", d.Handler.MatchOrder)
	})

	return r
}
