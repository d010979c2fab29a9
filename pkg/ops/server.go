// Package ops serves the operator HTTP surface: health, the monitoring
// dashboard report, alert and rule management, bus statistics, root cause
// analysis and prometheus metrics. Agents also connect here, over a websocket,
// to receive direct notifications.
package ops

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	agenterrors "github.com/armorclaw/agentcore/pkg/errors"
	"github.com/armorclaw/agentcore/pkg/eventbus"
	"github.com/armorclaw/agentcore/pkg/logger"
	"github.com/armorclaw/agentcore/pkg/monitor"
	"github.com/armorclaw/agentcore/pkg/rca"
)

// Config holds ops server configuration
type Config struct {
	ListenAddr      string   // Listen address (default ":8081")
	Mode            string   // gin mode: debug, release or test (default release)
	AllowedOrigins  []string // CORS and websocket origins; empty allows all
	ShutdownTimeout time.Duration
}

// DefaultConfig returns default ops server configuration
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8081",
		Mode:            gin.ReleaseMode,
		ShutdownTimeout: 10 * time.Second,
	}
}

// ReportLookup finds persisted reports no longer held in memory
type ReportLookup interface {
	Get(ctx context.Context, id string) (*agenterrors.Report, error)
}

// Deps are the components served by the ops surface
type Deps struct {
	Monitor  *monitor.Monitor
	Bus      *eventbus.EventBus
	Analyzer *rca.Analyzer
	Reports  ReportLookup // optional
}

// Server is the operator HTTP server
type Server struct {
	cfg      Config
	deps     Deps
	engine   *gin.Engine
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu   sync.Mutex
	http *http.Server
	addr string
}

// New creates the server and its routes
func New(cfg Config, deps Deps, log *logger.Logger) *Server {
	d := DefaultConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = d.ListenAddr
	}
	if cfg.Mode == "" {
		cfg.Mode = d.Mode
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	gin.SetMode(cfg.Mode)

	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  logger.Or(log).WithComponent("ops"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Authorization", "X-Requested-With", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/agents/:destination", s.handleAgentSocket)

	api := r.Group("/api")
	api.GET("/report", s.handleReport)
	api.GET("/alerts", s.handleAlerts)
	api.POST("/alerts/:id/resolve", s.handleResolveAlert)
	api.GET("/rules", s.handleRules)
	api.PUT("/rules/:id", s.handleToggleRule)
	api.GET("/bus/stats", s.handleBusStats)
	api.GET("/bus/failed", s.handleFailedEvents)
	api.POST("/errors", s.handleReportError)
	api.POST("/errors/:id/resolve", s.handleResolveError)
	api.POST("/errors/:id/analyze", s.handleAnalyze)
	api.GET("/analyses/:id", s.handleGetAnalysis)

	return r
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.http != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return agenterrors.NewBuilder(agenterrors.KindSystem).
			Code("OPS-001").
			Origin("ops").
			Messagef("failed to listen on %s", s.cfg.ListenAddr).
			Wrap(err).
			Build()
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.http = srv
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops server stopped", "error", err)
		}
	}()

	s.log.Info("ops server listening", "addr", s.addr)
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	s.log.Info("stopping ops server")
	return srv.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency", time.Since(start),
		}
		if status >= http.StatusInternalServerError {
			s.log.Warn("request failed", attrs...)
			return
		}
		s.log.Debug("request served", attrs...)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.cfg.AllowedOrigins, origin)
}
