package component

import (
	"context"
	"net/http"

	"github.com/go-pg/pg"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Vimbi/cryptocurrency-investments-sub000/configuration"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

// Router serves the read-only API: health, metrics, balances and
// transfer lookups. Every mutating operation goes through the engine
// components, never through HTTP handlers.
type Router struct {
	e   *echo.Echo
	obs *observability.Observability
	cfg *configuration.Configuration
}

func NewRouter(cfg *configuration.Configuration, obs *observability.Observability, db *pg.DB, clock engine.Clock) *Router {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	r := &Router{e: e, obs: obs, cfg: cfg}
	server := NewServer(db, obs, clock)

	e.GET("/healthcheck", r.healthCheck)
	e.GET("/metrics", r.metrics)
	e.GET("/api/users/:userID/balance", server.GetBalance)
	e.GET("/api/users/:userID/transactions", server.GetTransactions)
	e.GET("/api/transfers/:transferID", server.GetTransfer)
	e.GET("/api/users/:userID/investment", server.GetActiveInvestment)
	return r
}

func (r *Router) Start() {
	log := r.obs.Log()
	go func() {
		err := r.e.Start(r.cfg.API.Addr)
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped")
		}
	}()
}

func (r *Router) Stop() {
	log := r.obs.Log()
	if err := r.e.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("http server shutdown failed")
	}
}

func (r *Router) healthCheck(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "OK")
}

func (r *Router) metrics(ctx echo.Context) error {
	handler := promhttp.HandlerFor(r.obs.Metrics(), promhttp.HandlerOpts{
		ErrorLog: r.obs.Log(),
	})
	handler.ServeHTTP(ctx.Response(), ctx.Request())
	return nil
}
