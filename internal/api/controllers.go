package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"delta-core/internal/strategy"
	"delta-core/internal/trading"
)

const (
	minWaitSeconds     = 30
	defaultWaitSeconds = 60
	tickerCacheTTL     = 5 * time.Second
)

// placeLimitOrderRequest is the wire shape of a stop-limit entry request.
type placeLimitOrderRequest struct {
	EntryPrice      float64 `json:"entry_price"`
	Size            int     `json:"size"`
	Side            string  `json:"side"`
	StopLossPrice   float64 `json:"stop_loss_price"`
	TakeProfitPrice float64 `json:"take_profit_price"`
	ClientOrderID   string  `json:"client_order_id"`
	ProductID       int     `json:"product_id"`
	ProductSymbol   string  `json:"product_symbol"`
	Symbol          string  `json:"symbol"`
	WaitTimeSeconds int     `json:"wait_time_seconds"`
}

// placeLimitOrderWait submits a stop-limit entry and synchronously waits for
// bracket attachment. This is the slow endpoint: a resting order can hold the
// request for the full wait window.
func (s *Server) placeLimitOrderWait(c *gin.Context) {
	creds, ok := s.credentialsFromHeaders(c)
	if !ok {
		return
	}

	var req placeLimitOrderRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	wait := req.WaitTimeSeconds
	if wait == 0 {
		wait = defaultWaitSeconds
	}
	if wait < minWaitSeconds {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_WAIT_TIME",
			"error": "wait_time_seconds must be at least 30",
		})
		return
	}

	res := s.Trading.PlaceLimitOrderAndWait(c.Request.Context(), creds, trading.OrderParams{
		EntryPrice:      req.EntryPrice,
		Size:            req.Size,
		Side:            strings.ToLower(strings.TrimSpace(req.Side)),
		StopLossPrice:   req.StopLossPrice,
		TakeProfitPrice: req.TakeProfitPrice,
		ClientOrderID:   req.ClientOrderID,
		ProductID:       req.ProductID,
		ProductSymbol:   req.ProductSymbol,
		Symbol:          req.Symbol,
		WaitTime:        time.Duration(wait) * time.Second,
	})
	// Rejections ride in the payload (success=false); the HTTP layer stays 200
	// so callers always parse one shape.
	c.JSON(http.StatusOK, res)
}

func (s *Server) getPositions(c *gin.Context) {
	creds, ok := s.credentialsFromHeaders(c)
	if !ok {
		return
	}
	positions, err := s.Accounts.Positions(c.Request.Context(), creds)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "EXCHANGE_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": positions})
}

func (s *Server) getPnL(c *gin.Context) {
	creds, ok := s.credentialsFromHeaders(c)
	if !ok {
		return
	}
	summary, err := s.Accounts.PnL(c.Request.Context(), creds)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "EXCHANGE_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) getPnLBySymbol(c *gin.Context) {
	creds, ok := s.credentialsFromHeaders(c)
	if !ok {
		return
	}
	summary, err := s.Accounts.PnL(c.Request.Context(), creds)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "EXCHANGE_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": summary.BySymbol})
}

func (s *Server) getOrderHistory(c *gin.Context) {
	creds, ok := s.credentialsFromHeaders(c)
	if !ok {
		return
	}
	page, err := s.Accounts.OrderHistory(c.Request.Context(), creds, queryInt(c, "page_size", 0), c.Query("after"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "EXCHANGE_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) getFills(c *gin.Context) {
	creds, ok := s.credentialsFromHeaders(c)
	if !ok {
		return
	}
	page, err := s.Accounts.Fills(c.Request.Context(), creds, queryInt(c, "page_size", 0), c.Query("after"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "EXCHANGE_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) getLiveOrders(c *gin.Context) {
	creds, ok := s.credentialsFromHeaders(c)
	if !ok {
		return
	}
	orders, err := s.Accounts.LiveOrders(c.Request.Context(), creds)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "EXCHANGE_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": orders})
}

// getTicker is an unauthenticated passthrough with a short cache so dashboards
// polling the same symbol do not hammer the exchange.
func (s *Server) getTicker(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_SYMBOL", "error": "symbol is required"})
		return
	}

	key := "ticker:" + symbol
	if v, ok := s.Cache.Get(key); ok {
		c.JSON(http.StatusOK, gin.H{"result": v, "cached": true})
		return
	}

	t, err := s.tickers.GetTicker(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "EXCHANGE_ERROR", "error": err.Error()})
		return
	}
	s.Cache.Set(key, t, tickerCacheTTL)
	c.JSON(http.StatusOK, gin.H{"result": t})
}

func (s *Server) getFearGreed(c *gin.Context) {
	idx, err := s.Sentiment.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "UPSTREAM_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, idx)
}

// startBreakoutRequest is the wire shape of a breakout start request. Omitted
// fields fall back to the YAML defaults.
type startBreakoutRequest struct {
	Symbol                 string  `json:"symbol"`
	ProductID              int     `json:"product_id"`
	OrderSize              int     `json:"order_size"`
	MaxPositionSize        int     `json:"max_position_size"`
	Timeframe              string  `json:"timeframe"`
	StopLossPoints         float64 `json:"stop_loss_points"`
	TakeProfitPoints       float64 `json:"take_profit_points"`
	BreakevenTriggerPoints float64 `json:"breakeven_trigger_points"`
	PositionCheckInterval  int     `json:"position_check_interval"`
	OrderCheckInterval     int     `json:"order_check_interval"`
}

func (s *Server) startBreakoutStrategy(c *gin.Context) {
	creds, ok := s.credentialsFromHeaders(c)
	if !ok {
		return
	}

	var req startBreakoutRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	cfg := strategy.Config{
		Symbol:                 req.Symbol,
		ProductID:              req.ProductID,
		OrderSize:              req.OrderSize,
		MaxPositionSize:        req.MaxPositionSize,
		Timeframe:              req.Timeframe,
		StopLossPoints:         req.StopLossPoints,
		TakeProfitPoints:       req.TakeProfitPoints,
		BreakevenTriggerPoints: req.BreakevenTriggerPoints,
		PositionCheckInterval:  req.PositionCheckInterval,
		OrderCheckInterval:     req.OrderCheckInterval,
		Credentials:            creds,
	}
	if s.Defaults != nil {
		s.Defaults.ApplyBreakout(&cfg)
	}

	id, err := s.Manager.Start(strategy.TypeBreakout, cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "STRATEGY_START_FAILED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"strategy_id":   id,
		"strategy_type": strategy.TypeBreakout,
		"status":        string(strategy.StatusRunning),
	})
}

func (s *Server) stopStrategy(c *gin.Context) {
	id := c.Param("id")
	if !s.Manager.Stop(id) {
		c.JSON(http.StatusNotFound, gin.H{"code": "STRATEGY_NOT_FOUND", "error": "strategy not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy_id": id, "status": string(strategy.StatusStopped)})
}

func (s *Server) getStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"result": s.Manager.List()})
}

func (s *Server) getStrategyStatus(c *gin.Context) {
	info := s.Manager.Status(c.Param("id"))
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "STRATEGY_NOT_FOUND", "error": "strategy not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) getStrategyLogs(c *gin.Context) {
	id := c.Param("id")
	logs, ok := s.Manager.Logs(id, queryInt(c, "limit", 100))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "STRATEGY_NOT_FOUND", "error": "strategy not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy_id": id, "logs": logs})
}

func (s *Server) removeStrategy(c *gin.Context) {
	id := c.Param("id")
	if !s.Manager.Remove(id) {
		c.JSON(http.StatusNotFound, gin.H{"code": "STRATEGY_NOT_FOUND", "error": "strategy not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy_id": id, "removed": true})
}

func (s *Server) getOrderAudit(c *gin.Context) {
	orders, err := s.Store.ListPlacedOrders(c.Request.Context(), queryInt(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": orders})
}

func (s *Server) getStrategyRunAudit(c *gin.Context) {
	runs, err := s.Store.ListStrategyRuns(c.Request.Context(), queryInt(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": runs})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
