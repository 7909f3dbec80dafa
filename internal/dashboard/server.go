package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/MtkN1/pybybit/config"
	"github.com/MtkN1/pybybit/internal/metrics"
	"github.com/MtkN1/pybybit/logger"
	"github.com/MtkN1/pybybit/store"
	"github.com/MtkN1/pybybit/stream"
)

const maxWait = 30 * time.Second

// StoreSource exposes the mirrored stores by name.
type StoreSource interface {
	Stores() map[string]*store.Store
}

// ConnectionSource reports the WebSocket connections feeding the mirror.
type ConnectionSource interface {
	Connections() []stream.Status
}

// Server is a read-only HTTP view of the mirror and the process.
type Server struct {
	cfg             config.DashboardConfig
	log             *logger.Log
	stores          StoreSource
	conns           ConnectionSource
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
}

// NewServer returns nil when the dashboard is disabled. stores and conns may
// be nil.
func NewServer(cfg config.DashboardConfig, log *logger.Log, stores StoreSource, conns ConnectionSource) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = defaultHistory
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = defaultHistory
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:             cfg,
		log:             log,
		stores:          stores,
		conns:           conns,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   metrics.RegisterMetricHandler(metricStore.handle),
		resourceSampler: newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, stores, log),
	}, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}
	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

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

// Address is the normalised listen address.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"app":                 appName,
			"environment":         config.AppEnvironment(),
			"refresh_interval_ms": s.cfg.RefreshInterval.Milliseconds(),
			"endpoints": []string{
				"/api/stores", "/api/stores/:name", "/api/connections",
				"/api/metrics", "/api/logs", "/api/resources", "/metrics",
			},
		})
	})

	router.GET("/api/stores", s.listStores)
	router.GET("/api/stores/:name", s.getStore)

	router.GET("/api/connections", func(c *gin.Context) {
		var conns []stream.Status
		if s.conns != nil {
			conns = s.conns.Connections()
		}
		if conns == nil {
			conns = []stream.Status{}
		}
		c.JSON(http.StatusOK, gin.H{"connections": conns})
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		snapshot := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(snapshot))
		for _, m := range snapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		level := logrus.TraceLevel
		if v := c.Query("level"); v != "" {
			parsed, err := logrus.ParseLevel(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid level"})
				return
			}
			level = parsed
		}
		c.JSON(http.StatusOK, gin.H{"logs": s.logStore.filter(level, c.Query("component"))})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router, nil
}

func (s *Server) storeMap() map[string]*store.Store {
	if s.stores == nil {
		return nil
	}
	return s.stores.Stores()
}

func (s *Server) listStores(c *gin.Context) {
	stores := s.storeMap()
	names := make([]string, 0, len(stores))
	for name := range stores {
		names = append(names, name)
	}
	sort.Strings(names)

	payload := make([]gin.H, 0, len(names))
	for _, name := range names {
		st := stores[name]
		payload = append(payload, gin.H{
			"name":     name,
			"keys":     st.KeyFields(),
			"capacity": st.Capacity(),
			"records":  st.Len(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"stores": payload})
}

// getStore lists the records of one store. Query parameters other than
// limit and wait filter by field equality; wait long-polls for the next
// change before answering.
func (s *Server) getStore(c *gin.Context) {
	name := c.Param("name")
	st, ok := s.storeMap()[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown store " + name})
		return
	}

	limit := 0
	filter := store.Item{}
	var wait time.Duration
	for k, v := range c.Request.URL.Query() {
		if len(v) == 0 {
			continue
		}
		switch k {
		case "limit":
			n, err := strconv.Atoi(v[0])
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = n
		case "wait":
			d, err := time.ParseDuration(v[0])
			if err != nil || d < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wait"})
				return
			}
			wait = min(d, maxWait)
		default:
			filter[k] = v[0]
		}
	}

	changed := false
	if wait > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
		changed = st.Wait(ctx) == nil
		cancel()
	}

	records := st.List(filter)
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{
		"name":    name,
		"keys":    st.KeyFields(),
		"total":   st.Len(),
		"changed": changed,
		"records": records,
	})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if parsed.Host != "" {
				addr = parsed.Host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") && len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
		return "0.0.0.0" + addr
	}

	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil || !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}
