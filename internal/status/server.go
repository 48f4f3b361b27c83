// Package status serves a JSON view of the running pipeline: recent metric
// events, recent warnings, host load and the occupancy of every stream
// channel.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cryptostream/config"
	"cryptostream/internal/metrics"
	"cryptostream/logger"
)

const defaultPort = "8081"

// Server is nil when the status API is disabled; its methods accept a nil
// receiver.
type Server struct {
	cfg      config.StatusConfig
	log      *logger.Log
	metrics  metricStore
	logs     *logStore
	handler  metrics.MetricHandlerID
	sampler  *resourceSampler
	channels []metrics.SizedChannel
	started  time.Time
}

func NewServer(cfg config.StatusConfig, log *logger.Log, channels []metrics.SizedChannel) *Server {
	if !cfg.Enabled {
		return nil
	}
	cfg.Address = normalizeAddress(cfg.Address)

	s := &Server{
		cfg:      cfg,
		log:      log,
		metrics:  newMetricStore(cfg.History),
		logs:     newLogStore(cfg.History),
		sampler:  newResourceSampler(cfg.History, cfg.SampleInterval),
		channels: channels,
		started:  time.Now().UTC(),
	}
	s.handler = metrics.RegisterMetricHandler(s.metrics.handle)
	log.AddHook(s.logs)
	return s
}

func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	s.sampler.start(ctx)
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.WithComponent("status").WithField("address", s.cfg.Address).Info("status server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.handler)
	s.logs.close()
	s.sampler.wait()
}

type channelStatus struct {
	Name      string `json:"name"`
	Length    int    `json:"length"`
	Capacity  int    `json:"capacity"`
	Unbounded bool   `json:"unbounded"`
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(s.started).Seconds()),
		})
	})

	router.GET("/api/streams", func(c *gin.Context) {
		payload := make([]channelStatus, 0, len(s.channels))
		for _, ch := range s.channels {
			payload = append(payload, channelStatus{
				Name:      ch.Name(),
				Length:    ch.Len(),
				Capacity:  ch.Cap(),
				Unbounded: ch.Cap() == 0,
			})
		}
		c.JSON(http.StatusOK, gin.H{"streams": payload})
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		items := s.metrics.snapshot()
		payload := make([]gin.H, 0, len(items))
		for _, m := range items {
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
		c.JSON(http.StatusOK, gin.H{"logs": s.logs.snapshot()})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.sampler.samples.snapshot()})
	})

	return router
}

// normalizeAddress accepts ":9000", "host", "*:9000" and URLs.
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.Index(addr, "://"); i >= 0 {
		addr = addr[i+3:]
		addr = strings.TrimSuffix(addr, "/")
	}
	if addr == "" {
		return "0.0.0.0:" + defaultPort
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// no port, or a bare IPv6 address
		host, port = strings.Trim(addr, "[]"), defaultPort
	}
	if host == "" || host == "*" {
		host = "0.0.0.0"
	}
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port)
}
