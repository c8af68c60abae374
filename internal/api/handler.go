package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"equity-terminal/internal/engine"
	"equity-terminal/internal/events"
)

// Options configures the HTTP boundary.
type Options struct {
	JWTSecret string
	// Operator credentials for /api/auth/login.
	User         string
	PasswordHash string
	// Per-connection websocket buffer; a slow client misses events beyond it.
	WSBuffer int
	// Per-IP request rate; zero selects 20 req/s with a burst of 50.
	RateLimit rate.Limit
	RateBurst int
}

// Server wires HTTP endpoints around the terminal service and the event bus.
type Server struct {
	Router *gin.Engine
	Engine engine.Service
	Bus    *events.Bus

	opts Options
	log  *zap.Logger
}

func NewServer(svc engine.Service, bus *events.Bus, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit, opts.RateBurst = 20, 50
	}
	if opts.WSBuffer <= 0 {
		opts.WSBuffer = 256
	}
	log := logger.Named("api")

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(opts.RateLimit, opts.RateBurst, log))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router: r,
		Engine: svc,
		Bus:    bus,
		opts:   opts,
		log:    log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/market", s.getMarket)
		api.GET("/metrics", s.getMetrics)
		api.POST("/auth/login", s.loginUser)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.opts.JWTSecret))
		{
			protected.GET("/ws", s.websocket)

			// Session
			protected.POST("/session/connect", s.connect)
			protected.POST("/session/login", s.login)
			protected.POST("/session/disconnect", s.disconnect)

			// Symbols and snapshots
			protected.PUT("/symbols/active", s.setActiveSymbol)
			protected.POST("/symbols/:symbol", s.subscribe)
			protected.DELETE("/symbols/:symbol", s.unsubscribe)
			protected.GET("/symbols/:symbol", s.getSymbol)
			protected.GET("/symbols/:symbol/quote", s.getQuote)
			protected.GET("/symbols/:symbol/bars", s.getBars)
			protected.GET("/symbols/:symbol/indicators", s.getIndicators)
			protected.GET("/symbols/:symbol/strategy", s.getStrategy)
			protected.GET("/symbols/:symbol/agent", s.getAgent)

			// Account
			protected.GET("/positions", s.getPositions)
			protected.GET("/orders", s.getOrders)
			protected.GET("/trades", s.getTrades)
			protected.GET("/account", s.getAccount)
			protected.GET("/risk", s.getRisk)

			// Order actions
			protected.POST("/symbols/:symbol/orders/buy-1r", s.buyOneR)
			protected.POST("/symbols/:symbol/orders/sell-all", s.sellAll)
			protected.POST("/symbols/:symbol/orders/sell-half", s.sellHalf)
			protected.POST("/symbols/:symbol/orders/sell-70", s.sell70)
			protected.POST("/symbols/:symbol/orders/add", s.addPosition)
			protected.POST("/symbols/:symbol/orders/stop-breakeven", s.stopBreakeven)
			protected.DELETE("/orders/:id", s.cancelOrder)
			protected.DELETE("/orders", s.cancelAll)

			// Strategy, agent and trailing
			protected.POST("/symbols/:symbol/strategy/:mode", s.strategy)
			protected.POST("/symbols/:symbol/agent/:action", s.setAgent)
			protected.POST("/symbols/:symbol/trailing/:action", s.trailing)

			// Indicator resets
			protected.POST("/symbols/:symbol/reset/vwap", s.resetVwap)
			protected.POST("/symbols/:symbol/reset/session-high", s.resetSessionHigh)

			// Journal
			protected.GET("/journal/orders", s.getJournalOrders)
			protected.GET("/journal/trades", s.getJournalTrades)
			protected.GET("/journal/commands", s.getJournalCommands)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
