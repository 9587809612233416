// Package metrics exposes Prometheus gauges/counters for the registry and
// media forwarder, and serves /healthz and /metrics over a minimal Echo mux
// (spec.md §1 observability is ambient plumbing, not the out-of-scope
// operator dashboard).
package metrics

import (
	"context"
	"net/http"
	"time"

	"sfu/internal/media"
	"sfu/internal/registry"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	participants = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_participants",
		Help: "Number of participants currently registered.",
	})
	rooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sfu_rooms",
		Help: "Number of non-empty rooms.",
	})
	datagramsForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sfu_media_datagrams_forwarded_total",
		Help: "Inbound media datagrams accepted for fan-out, counted once each whatever the number of peers.",
	})
	bytesForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sfu_media_bytes_forwarded_total",
		Help: "Bytes of inbound media datagrams accepted for fan-out, counted once each whatever the number of peers.",
	})
	datagramsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sfu_media_datagrams_dropped_total",
		Help: "Media datagrams dropped (unbound sender, malformed header).",
	})
)

func init() {
	prometheus.MustRegister(participants, rooms, datagramsForwarded, bytesForwarded, datagramsDropped)
}

// Reporter periodically samples the registry and forwarder into the
// registered Prometheus collectors, mirroring the teacher's RunMetrics
// logging loop (metrics.go) but exporting counters instead of log lines.
type Reporter struct {
	reg *registry.Registry
	fwd *media.Forwarder
	log *zap.Logger
}

// NewReporter builds a Reporter over reg and fwd.
func NewReporter(reg *registry.Registry, fwd *media.Forwarder, log *zap.Logger) *Reporter {
	return &Reporter{reg: reg, fwd: fwd, log: log}
}

// Run samples every interval until ctx is canceled.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			participants.Set(float64(r.reg.ParticipantCount()))
			rooms.Set(float64(r.reg.RoomCount()))

			forwarded, bytesOut, dropped := r.fwd.Stats()
			datagramsForwarded.Add(float64(forwarded))
			bytesForwarded.Add(float64(bytesOut))
			datagramsDropped.Add(float64(dropped))

			r.log.Debug("metrics sample",
				zap.Uint64("datagrams_forwarded", forwarded),
				zap.Uint64("bytes_forwarded", bytesOut),
				zap.Uint64("datagrams_dropped", dropped),
			)
		}
	}
}

// Server serves /healthz and /metrics. It carries no application routes:
// spec.md's operator dashboard is explicitly out of scope.
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer builds the Echo app bound to addr.
func NewServer(addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{echo: e, addr: addr}
}

// Run blocks serving HTTP until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutdownCtx)
	}()

	err := s.echo.Start(s.addr)
	if err == nil || err == http.ErrServerClosed {
		return nil
	}
	return err
}
