package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"delta-core/internal/account"
	"delta-core/internal/clientauth"
	"delta-core/internal/events"
	"delta-core/internal/sentiment"
	"delta-core/internal/strategy"
	"delta-core/internal/trading"
	"delta-core/pkg/cache"
	"delta-core/pkg/config"
	"delta-core/pkg/db"
	"delta-core/pkg/delta"
)

// Server wires the HTTP surface around the trading core.
type Server struct {
	Router    *gin.Engine
	Cfg       *config.Config
	Bus       *events.Bus
	Store     *db.Store
	Clients   *clientauth.Store
	Trading   *trading.Service
	Accounts  *account.Service
	Manager   *strategy.Manager
	Sentiment *sentiment.Fetcher
	Cache     *cache.ShardedTTLCache
	Defaults  *strategy.Defaults

	// tickers serves the unauthenticated ticker passthrough.
	tickers *delta.Client
}

// NewServer builds the router with the full middleware chain and routes.
func NewServer(cfg *config.Config, bus *events.Bus, store *db.Store, clients *clientauth.Store,
	tradingSvc *trading.Service, accounts *account.Service, manager *strategy.Manager,
	sentimentSvc *sentiment.Fetcher, ttlCache *cache.ShardedTTLCache, defaults *strategy.Defaults) *Server {

	r := gin.New()

	// Middleware stack (order matters).
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))
	r.Use(TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(CORSMiddleware(cfg.CORSOrigins))

	s := &Server{
		Router:    r,
		Cfg:       cfg,
		Bus:       bus,
		Store:     store,
		Clients:   clients,
		Trading:   tradingSvc,
		Accounts:  accounts,
		Manager:   manager,
		Sentiment: sentimentSvc,
		Cache:     ttlCache,
		Defaults:  defaults,
		tickers:   delta.NewClient(cfg.DeltaBaseURL, "", ""),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/healthz", s.health)
	s.Router.GET("/ws/strategies", s.strategyStream)

	api := s.Router.Group("/api/v1")
	{
		api.POST("/auth/login", s.login)

		// Public reads.
		api.GET("/ticker/:symbol", s.getTicker)
		api.GET("/sentiment/fear-greed", s.getFearGreed)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.Cfg.JWTSecret))
		{
			protected.POST("/orders/place-limit-wait", s.placeLimitOrderWait)

			// Exchange reads with per-request credentials.
			protected.GET("/positions", s.getPositions)
			protected.GET("/pnl", s.getPnL)
			protected.GET("/pnl/by-symbol", s.getPnLBySymbol)
			protected.GET("/orders/history", s.getOrderHistory)
			protected.GET("/orders/live", s.getLiveOrders)
			protected.GET("/fills", s.getFills)

			// Strategy control surface.
			protected.POST("/strategies/breakout/start", s.startBreakoutStrategy)
			protected.POST("/strategies/:id/stop", s.stopStrategy)
			protected.GET("/strategies", s.getStrategies)
			protected.GET("/strategies/:id", s.getStrategyStatus)
			protected.GET("/strategies/:id/logs", s.getStrategyLogs)
			protected.DELETE("/strategies/:id", s.removeStrategy)

			// Local audit trail.
			protected.GET("/audit/orders", s.getOrderAudit)
			protected.GET("/audit/strategy-runs", s.getStrategyRunAudit)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start runs the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
