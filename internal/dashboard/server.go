package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"marketpulse/config"
	"marketpulse/internal/assets"
	"marketpulse/internal/metrics"
	"marketpulse/internal/pipeline"
	"marketpulse/logger"
)

// COTService is the positioning side of the API.
type COTService interface {
	Dictionary() *assets.Dictionary
	Snapshot(ctx context.Context, codes []string) (pipeline.SnapshotResult, error)
	History(ctx context.Context, code string, from, to *time.Time) (pipeline.HistoryResult, error)
}

// MarketService is the price and macro side of the API.
type MarketService interface {
	Correlation(ctx context.Context, req pipeline.CorrelationRequest) (pipeline.CorrelationResult, error)
	Equity(ctx context.Context, req pipeline.EquityRequest) (pipeline.EquityResult, error)
	Index(ctx context.Context, name, period string) (pipeline.IndexResult, error)
	Pair(ctx context.Context, stock, index, period string) (pipeline.PairResult, error)
	Volatility(ctx context.Context, req pipeline.VolatilityRequest) (pipeline.VolatilityResult, error)
}

// Server hosts the JSON API consumed by the browser shell, plus captured
// logs, metric events, host samples and the Prometheus endpoint.
type Server struct {
	cfg             config.DashboardConfig
	metricsCfg      config.MetricsConfig
	app             config.MarketPulseConfig
	log             *logger.Log
	cot             COTService
	market          MarketService
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
}

func NewServer(cfg *config.Config, log *logger.Log, cot COTService, market MarketService) (*Server, error) {
	if cot == nil || market == nil {
		return nil, errors.New("dashboard: cot and market services are required")
	}
	dcfg := cfg.Dashboard
	dcfg.Addr = normalizeAddress(dcfg.Addr)

	metricStore := newMetricStore(dcfg.MetricBuffer)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(dcfg.LogBuffer)
	log.AddHook(logStore)

	return &Server{
		cfg:             dcfg,
		metricsCfg:      cfg.Metrics,
		app:             cfg.MarketPulse,
		log:             log,
		cot:             cot,
		market:          market,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   handlerID,
		resourceSampler: newResourceSampler(dcfg.ResourceHistory, dcfg.ResourceInterval, "/", log),
	}, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	defer s.cleanup()

	handler, err := s.Handler()
	if err != nil {
		return err
	}
	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"addr": s.cfg.Addr}).Info("dashboard listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
	s.resourceSampler.stop()
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	return s.cfg.Addr
}

// Handler returns the router wrapped with CORS for the configured origins.
func (s *Server) Handler() (http.Handler, error) {
	router, err := s.buildRouter()
	if err != nil {
		return nil, err
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(router), nil
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "name": s.app.Name, "version": s.app.Version})
	})

	api := router.Group("/api")
	api.GET("/assets", s.handleAssets)
	api.GET("/cot/snapshot", s.handleSnapshot)
	api.GET("/cot/history/:asset", s.handleHistory)

	market := api.Group("/market")
	market.GET("/correlation", s.handleCorrelation)
	market.GET("/equity/:ticker", s.handleEquity)
	market.GET("/index/:name", s.handleIndex)
	market.GET("/pair", s.handlePair)
	market.GET("/volatility/:ticker", s.handleVolatility)

	api.GET("/metrics", s.handleMetricEvents)
	api.GET("/logs", s.handleLogs)
	api.GET("/resources", s.handleResources)

	if s.metricsCfg.Enabled {
		path := s.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(metrics.Handler()))
	}
	return router, nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithComponent("dashboard").WithFields(logger.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
		}).Debug("request served")
	}
}

// handleMetricEvents serves buffered metric events, optionally narrowed by
// ?component= and ?name=.
func (s *Server) handleMetricEvents(c *gin.Context) {
	component, name := c.Query("component"), c.Query("name")
	events := s.metricStore.snapshot(func(m metrics.Metric) bool {
		return (component == "" || m.Component == component) && (name == "" || m.Name == name)
	})
	c.JSON(http.StatusOK, gin.H{"metrics": events})
}

// handleLogs serves captured log entries. ?level= keeps entries at that
// severity or worse.
func (s *Server) handleLogs(c *gin.Context) {
	component := c.Query("component")
	threshold := logrus.TraceLevel
	if raw := c.Query("level"); raw != "" {
		lvl, err := logrus.ParseLevel(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"warning": err.Error()})
			return
		}
		threshold = lvl
	}
	records := s.logStore.snapshot(func(r logRecord) bool {
		lvl, err := logrus.ParseLevel(r.Level)
		if err != nil || lvl > threshold {
			return false
		}
		return component == "" || r.Component == component
	})
	c.JSON(http.StatusOK, gin.H{"logs": records})
}

func (s *Server) handleResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
