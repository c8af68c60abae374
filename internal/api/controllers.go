package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"equity-terminal/internal/engine"
	"equity-terminal/internal/order"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/risk"
	"equity-terminal/internal/strategy"
)

type stopRequest struct {
	Stop float64 `json:"stop" binding:"gte=0"`
}

type addRequest struct {
	Mode string  `json:"mode" binding:"omitempty,oneof=breakeven half-profit half"`
	Stop float64 `json:"stop" binding:"gte=0"`
}

type triggerRequest struct {
	Trigger float64 `json:"trigger" binding:"gte=0"`
}

type seedRequest struct {
	Value *float64 `json:"value" binding:"omitempty,gt=0"`
}

type activeRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

type barsQuery struct {
	Interval int `form:"interval"`
	N        int `form:"n"`
}

type journalQuery struct {
	Symbol string `form:"symbol"`
	Limit  int    `form:"limit"`
}

func (q *barsQuery) normalize() {
	if q.N <= 0 {
		q.N = 100
	}
	if q.N > 1000 {
		q.N = 1000
	}
}

func (q *journalQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// errorStatus maps core errors onto HTTP status codes and error codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrUnknownSymbol), errors.Is(err, order.ErrUnknownSymbol):
		return http.StatusNotFound, "UNKNOWN_SYMBOL"
	case errors.Is(err, engine.ErrInvalidSymbol), errors.Is(err, engine.ErrUnknownAddMode),
		errors.Is(err, strategy.ErrUnknownMode), errors.Is(err, strategy.ErrInvalidTrigger),
		errors.Is(err, risk.ErrStopAtOrAboveAsk), errors.Is(err, risk.ErrNoReference),
		errors.Is(err, order.ErrInvalidShares), errors.Is(err, order.ErrInvalidPrice):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, risk.ErrDailyLossLimit):
		return http.StatusForbidden, "RISK_REJECTED"
	case errors.Is(err, order.ErrNoQuote), errors.Is(err, order.ErrNoPosition), errors.Is(err, order.ErrNoBars),
		errors.Is(err, order.ErrAddSkipped), errors.Is(err, risk.ErrZeroShares),
		errors.Is(err, strategy.ErrNoPosition), errors.Is(err, strategy.ErrTrailNotReady),
		errors.Is(err, strategy.ErrBuyPending), errors.Is(err, protocol.ErrAlreadyConnected):
		return http.StatusConflict, "PRECONDITION_FAILED"
	case errors.Is(err, protocol.ErrNotConnected), errors.Is(err, engine.ErrNoCredentials):
		return http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE"
	case errors.Is(err, engine.ErrJournalDisabled):
		return http.StatusServiceUnavailable, "JOURNAL_DISABLED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func (s *Server) respondEngineError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Sugar().Errorw("engine call failed", "path", c.FullPath(), "error", err)
	}
	respondError(c, status, code, err.Error())
}

// bindOptionalJSON accepts an empty body as the zero request.
func bindOptionalJSON(c *gin.Context, out any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(out); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
}

// --- System ---

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Status())
}

func (s *Server) getMarket(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Market())
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Diagnostics())
}

// --- Session ---

func (s *Server) connect(c *gin.Context) {
	if err := s.Engine.Connect(c.Request.Context()); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true})
}

func (s *Server) login(c *gin.Context) {
	if err := s.Engine.Login(); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "login sent"})
}

func (s *Server) disconnect(c *gin.Context) {
	s.Engine.Disconnect()
	c.JSON(http.StatusOK, gin.H{"connected": false})
}

// --- Symbols ---

func (s *Server) subscribe(c *gin.Context) {
	if err := s.Engine.Subscribe(c.Param("symbol")); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"symbol": c.Param("symbol")})
}

func (s *Server) unsubscribe(c *gin.Context) {
	if err := s.Engine.Unsubscribe(c.Param("symbol")); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setActiveSymbol(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "symbol is required")
		return
	}
	if err := s.Engine.SetActiveSymbol(req.Symbol); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_symbol": req.Symbol})
}

func (s *Server) getSymbol(c *gin.Context) {
	snap, err := s.Engine.Symbol(c.Param("symbol"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getQuote(c *gin.Context) {
	q, err := s.Engine.Quote(c.Param("symbol"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) getBars(c *gin.Context) {
	var q barsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()
	bars, err := s.Engine.Bars(c.Param("symbol"), q.Interval, q.N)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.N))
	c.JSON(http.StatusOK, bars)
}

func (s *Server) getIndicators(c *gin.Context) {
	ind, err := s.Engine.Indicators(c.Param("symbol"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, ind)
}

func (s *Server) getStrategy(c *gin.Context) {
	st, err := s.Engine.Strategy(c.Param("symbol"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getAgent(c *gin.Context) {
	a, err := s.Engine.Agent(c.Param("symbol"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// --- Account ---

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Positions())
}

func (s *Server) getOrders(c *gin.Context) {
	openOnly, _ := strconv.ParseBool(c.DefaultQuery("open", "false"))
	c.JSON(http.StatusOK, s.Engine.Orders(openOnly))
}

func (s *Server) getTrades(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Trades())
}

func (s *Server) getAccount(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Account())
}

func (s *Server) getRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Risk())
}

// --- Orders ---

func (s *Server) respondOrder(c *gin.Context, so order.SentOrder, err error) {
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, so)
}

func (s *Server) buyOneR(c *gin.Context) {
	var req stopRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	so, err := s.Engine.BuyOneR(c.Param("symbol"), req.Stop)
	s.respondOrder(c, so, err)
}

func (s *Server) sellAll(c *gin.Context) {
	so, err := s.Engine.SellAll(c.Param("symbol"))
	s.respondOrder(c, so, err)
}

func (s *Server) sellHalf(c *gin.Context) {
	so, err := s.Engine.SellHalf(c.Param("symbol"))
	s.respondOrder(c, so, err)
}

func (s *Server) sell70(c *gin.Context) {
	so, err := s.Engine.Sell70(c.Param("symbol"))
	s.respondOrder(c, so, err)
}

func (s *Server) addPosition(c *gin.Context) {
	var req addRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	so, err := s.Engine.AddPosition(c.Param("symbol"), req.Mode, req.Stop)
	s.respondOrder(c, so, err)
}

func (s *Server) stopBreakeven(c *gin.Context) {
	so, err := s.Engine.MoveStopToBreakeven(c.Param("symbol"))
	s.respondOrder(c, so, err)
}

func (s *Server) cancelOrder(c *gin.Context) {
	if err := s.Engine.Cancel(c.Param("id")); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"canceled": c.Param("id")})
}

func (s *Server) cancelAll(c *gin.Context) {
	if err := s.Engine.CancelAll(); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"canceled": "ALL"})
}

// --- Strategy, agent and trailing ---

func (s *Server) strategy(c *gin.Context) {
	symbol, mode := c.Param("symbol"), c.Param("mode")
	if mode == "stop" {
		if err := s.Engine.StopStrategy(symbol); err != nil {
			s.respondEngineError(c, err)
			return
		}
	} else {
		var req triggerRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		if err := s.Engine.StartStrategy(symbol, mode, req.Trigger); err != nil {
			s.respondEngineError(c, err)
			return
		}
	}
	st, err := s.Engine.Strategy(symbol)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) setAgent(c *gin.Context) {
	var enabled bool
	switch c.Param("action") {
	case "enable":
		enabled = true
	case "disable":
	default:
		respondError(c, http.StatusNotFound, "UNKNOWN_ACTION", "agent action must be enable or disable")
		return
	}
	if err := s.Engine.SetAgent(c.Param("symbol"), enabled); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

func (s *Server) trailing(c *gin.Context) {
	symbol := c.Param("symbol")
	var (
		on  bool
		err error
	)
	switch c.Param("action") {
	case "start":
		on, err = true, s.Engine.StartTrailing(symbol)
	case "stop":
		err = s.Engine.StopTrailing(symbol)
	case "toggle":
		on, err = s.Engine.ToggleTrailing(symbol)
	default:
		respondError(c, http.StatusNotFound, "UNKNOWN_ACTION", "trailing action must be start, stop or toggle")
		return
	}
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trailing": on})
}

// --- Indicator resets ---

func (s *Server) resetVwap(c *gin.Context) {
	var req seedRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if err := s.Engine.ResetVwap(c.Param("symbol"), req.Value); err != nil {
		s.respondEngineError(c, err)
		return
	}
	s.getIndicators(c)
}

func (s *Server) resetSessionHigh(c *gin.Context) {
	var req seedRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if err := s.Engine.ResetSessionHigh(c.Param("symbol"), req.Value); err != nil {
		s.respondEngineError(c, err)
		return
	}
	s.getIndicators(c)
}

// --- Journal ---

func (s *Server) bindJournalQuery(c *gin.Context) (journalQuery, bool) {
	var q journalQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return q, false
	}
	q.normalize()
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	return q, true
}

func (s *Server) getJournalOrders(c *gin.Context) {
	q, ok := s.bindJournalQuery(c)
	if !ok {
		return
	}
	rows, err := s.Engine.JournalOrders(c.Request.Context(), q.Symbol, q.Limit)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) getJournalTrades(c *gin.Context) {
	q, ok := s.bindJournalQuery(c)
	if !ok {
		return
	}
	rows, err := s.Engine.JournalTrades(c.Request.Context(), q.Symbol, q.Limit)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) getJournalCommands(c *gin.Context) {
	q, ok := s.bindJournalQuery(c)
	if !ok {
		return
	}
	rows, err := s.Engine.JournalCommands(c.Request.Context(), q.Limit)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
