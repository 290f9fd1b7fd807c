// Package metrics exposes conductor and device activity as Prometheus
// metrics.
//
// A nil *Collector is valid and records nothing, so components take one
// unconditionally.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tsr"

// Collector holds the metric vectors.
type Collector struct {
	resolutions     prometheus.Counter
	resolveDuration prometheus.Histogram
	nowUnconverged  prometheus.Counter
	nowFixed        prometheus.Counter
	deviceErrors    *prometheus.CounterVec
	commandsSent    *prometheus.CounterVec
	commandsFailed  *prometheus.CounterVec
	commandLateness *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	deviceStatus    *prometheus.GaugeVec
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// registers with prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		resolutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolution passes run by the conductor.",
		}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Wall time of one resolution pass, devices included.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}),
		nowUnconverged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "now_unconverged_total",
			Help:      "Passes that left \"now\" objects unfixed.",
		}),
		nowFixed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "now_fixed_total",
			Help:      "Objects whose \"now\" start was fixed.",
		}),
		deviceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_errors_total",
			Help:      "Failed state hand-offs per device.",
		}, []string{"device"}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands executed successfully per device.",
		}, []string{"device"}),
		commandsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_failed_total",
			Help:      "Commands that returned an error per device.",
		}, []string{"device"}),
		commandLateness: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_lateness_seconds",
			Help:      "Delay between a command's scheduled time and its start.",
			Buckets:   []float64{0, .001, .005, .01, .025, .05, .1, .25, 1},
		}, []string{"device"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending commands per device after the last pass.",
		}, []string{"device"}),
		deviceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_status",
			Help:      "Device status code (0 unknown, 1 good, higher is worse).",
		}, []string{"device"}),
	}
	reg.MustRegister(
		c.resolutions,
		c.resolveDuration,
		c.nowUnconverged,
		c.nowFixed,
		c.deviceErrors,
		c.commandsSent,
		c.commandsFailed,
		c.commandLateness,
		c.queueDepth,
		c.deviceStatus,
	)
	return c
}

// ObserveResolution records one pass.
func (c *Collector) ObserveResolution(d time.Duration, fixed int, converged bool) {
	if c == nil {
		return
	}
	c.resolutions.Inc()
	c.resolveDuration.Observe(d.Seconds())
	c.nowFixed.Add(float64(fixed))
	if !converged {
		c.nowUnconverged.Inc()
	}
}

// DeviceError counts a failed hand-off to a device.
func (c *Collector) DeviceError(deviceID string) {
	if c == nil {
		return
	}
	c.deviceErrors.WithLabelValues(deviceID).Inc()
}

// CommandSent records a successful command started latenessMs after its
// scheduled time.
func (c *Collector) CommandSent(deviceID string, latenessMs int64) {
	if c == nil {
		return
	}
	c.commandsSent.WithLabelValues(deviceID).Inc()
	c.commandLateness.WithLabelValues(deviceID).Observe(float64(max(latenessMs, 0)) / 1000)
}

// CommandFailed counts a failed command.
func (c *Collector) CommandFailed(deviceID string) {
	if c == nil {
		return
	}
	c.commandsFailed.WithLabelValues(deviceID).Inc()
}

// SetQueueDepth records the pending command count of a device.
func (c *Collector) SetQueueDepth(deviceID string, n int) {
	if c == nil {
		return
	}
	c.queueDepth.WithLabelValues(deviceID).Set(float64(n))
}

// SetDeviceStatus records the status code of a device.
func (c *Collector) SetDeviceStatus(deviceID string, code int) {
	if c == nil {
		return
	}
	c.deviceStatus.WithLabelValues(deviceID).Set(float64(code))
}

// ForgetDevice drops the per-device series of a removed device.
func (c *Collector) ForgetDevice(deviceID string) {
	if c == nil {
		return
	}
	for _, v := range []*prometheus.CounterVec{c.deviceErrors, c.commandsSent, c.commandsFailed} {
		v.DeleteLabelValues(deviceID)
	}
	c.commandLateness.DeleteLabelValues(deviceID)
	c.queueDepth.DeleteLabelValues(deviceID)
	c.deviceStatus.DeleteLabelValues(deviceID)
}

// Handler serves g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("metrics listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
