package telemetry

import (
	"log"

	"vtt/client/logging"
)

// Logger is the printf-style operational logger used alongside the event router.
type Logger interface {
	Printf(format string, args ...any)
}

type LoggerFunc func(format string, args ...any)

func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

func (l *loggerAdapter) StandardLogger() *log.Logger {
	if l == nil {
		return nil
	}
	return l.logger
}

// WithPrefix tags every line written through l, e.g. "relay: ".
func WithPrefix(l Logger, prefix string) Logger {
	if l == nil {
		return LoggerFunc(nil)
	}
	if prefix == "" {
		return l
	}
	return LoggerFunc(func(format string, args ...any) {
		l.Printf("%s"+format, append([]any{prefix}, args...)...)
	})
}

// Metrics counts reconciler and bridge activity.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

const (
	MetricEchoMarked     = "reconcile.marked"
	MetricEchoSuppressed = "reconcile.suppressed"
	MetricRemoteApplied  = "reconcile.applied"
	MetricFramesSent     = "bridge.sent"
	MetricFramesReceived = "bridge.received"
	MetricFramesDropped  = "bridge.dropped"
	MetricRelayClients   = "relay.clients"
)

// WrapMetrics adapts logging metrics into the Metrics interface.
func WrapMetrics(metrics *logging.Metrics) Metrics {
	return &metricsAdapter{metrics: metrics}
}

type metricsAdapter struct {
	metrics *logging.Metrics
}

func (m *metricsAdapter) Add(key string, delta uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryAdd(key, delta)
}

func (m *metricsAdapter) Store(key string, value uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryStore(key, value)
}

type nopMetrics struct{}

func (nopMetrics) Add(string, uint64)   {}
func (nopMetrics) Store(string, uint64) {}

func NopMetrics() Metrics {
	return nopMetrics{}
}
