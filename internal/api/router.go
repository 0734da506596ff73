package api

import (
	"net/http"
	"time"

	"github.com/example/ec-storefront/internal/api/middleware"
	"github.com/example/ec-storefront/internal/auth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Tokens  middleware.TokenVerifier
	Limiter *middleware.RateLimiter // nil disables rate limiting
	Logger  *zap.Logger
	Timeout time.Duration
	// TrustProxy rewrites RemoteAddr from X-Forwarded-For and X-Real-IP.
	TrustProxy bool
}

func NewRouter(handlers *Handlers, cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Timeout))

	r.Get("/health", handlers.Health)

	r.Route("/api", func(r chi.Router) {
		// Gateway callbacks are authenticated by signature and are not rate limited.
		r.Post("/webhooks/payments", handlers.PaymentWebhook)

		r.Group(func(r chi.Router) {
			if cfg.Limiter != nil {
				r.Use(cfg.Limiter.Middleware)
			}

			r.Route("/baskets/{basketID}", func(r chi.Router) {
				r.Get("/", handlers.GetBasket)
				r.Delete("/", handlers.DeleteBasket)
				r.Post("/items", handlers.AddBasketItem)
				r.Delete("/items/{priceEntryID}", handlers.RemoveBasketItem)
				r.Put("/currency", handlers.ChangeBasketCurrency)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.Authenticate(cfg.Tokens))

				r.Route("/orders", func(r chi.Router) {
					r.Post("/", handlers.CreateOrder)
					r.Get("/", handlers.ListOrders)
					r.Get("/{orderID}", handlers.GetOrder)
					r.Post("/{orderID}/cancel", handlers.CancelOrder)
				})
				r.Get("/rewards/wallet", handlers.GetWallet)

				r.Route("/admin", func(r chi.Router) {
					r.Use(middleware.RequireRole(auth.RoleAdmin))
					r.Post("/orders/{orderID}/ship", handlers.ShipOrder)
					r.Post("/orders/{orderID}/deliver", handlers.DeliverOrder)
					r.Post("/payments/{transactionID}/refund", handlers.RefundPayment)
					r.Post("/rewards/{userID}/adjust", handlers.AdjustPoints)
				})
			})
		})
	})

	return r
}
