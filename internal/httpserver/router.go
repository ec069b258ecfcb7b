package httpserver

import (
	"net/http"

	"lv-margin/internal/auth"
	"lv-margin/internal/httputil"
	"lv-margin/internal/ledger"
	"lv-margin/internal/marketdata"
	"lv-margin/internal/orders"
	"lv-margin/internal/positions"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

type RouterDeps struct {
	AuthHandler     *auth.Handler
	LedgerHandler   *ledger.Handler
	PositionHandler *positions.Handler
	OrderHandler    *orders.Handler
	MarketHandler   *marketdata.Handler
	AuthService     *auth.Service
	EventsWS        http.Handler
	InternalToken   string
	AllowedOrigin   string
}

// authed adapts a userID-style handler to http.HandlerFunc; WithAuth has
// already rejected requests without a valid token.
func authed(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, userID)
	}
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{orDefault(d.AllowedOrigin, "*")},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Internal-Token"},
		AllowCredentials: true,
	})
	r.Use(c.Handler)
	r.Use(SecurityHeaders)
	r.Use(RateLimitMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.AuthHandler.Register)
			r.Post("/login", d.AuthHandler.Login)
		})

		r.Get("/events/ws", d.EventsWS.ServeHTTP)
		r.Get("/market/quote", d.MarketHandler.Quote)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))

			r.Get("/me", authed(d.AuthHandler.Me))

			r.Get("/balances", authed(d.LedgerHandler.Balances))
			r.Post("/deposits", authed(d.LedgerHandler.Deposit))
			r.Post("/withdrawals", authed(d.LedgerHandler.Withdraw))
			r.Get("/bonus", authed(d.LedgerHandler.Bonus))

			r.Post("/positions", authed(d.PositionHandler.Open))
			r.Get("/positions", authed(d.PositionHandler.List))
			r.Get("/positions/history", authed(d.PositionHandler.History))
			r.Get("/positions/{id}", authed(d.PositionHandler.Get))
			r.Post("/positions/{id}/close", authed(d.PositionHandler.Close))

			r.Post("/orders", authed(d.OrderHandler.Place))
			r.Get("/orders", authed(d.OrderHandler.List))
			r.Get("/orders/history", authed(d.OrderHandler.History))
			r.Get("/orders/{id}", authed(d.OrderHandler.Get))
			r.Patch("/orders/{id}", authed(d.OrderHandler.EditPrice))
			r.Delete("/orders/{id}", authed(d.OrderHandler.Cancel))
		})

		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/bonus", d.LedgerHandler.GrantBonus)
		})
	})

	return r
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
