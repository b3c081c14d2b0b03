package telemetry

import (
	"bytes"
	"log"
	"testing"

	"vtt/client/logging"
)

func TestWrapLogger(t *testing.T) {
	t.Run("nil logger", func(t *testing.T) {
		logger := WrapLogger(nil)
		logger.Printf("ignored %d", 42)
	})

	t.Run("forwards to logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := WrapLogger(log.New(&buf, "", 0))
		logger.Printf("token %s moved", "tok-1")
		if got := buf.String(); got != "token tok-1 moved\n" {
			t.Fatalf("unexpected log output: %q", got)
		}
	})
}

func TestWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := WithPrefix(WrapLogger(log.New(&buf, "", 0)), "relay: ")
	logger.Printf("room %s emptied", "table")
	if got := buf.String(); got != "relay: room table emptied\n" {
		t.Fatalf("unexpected log output: %q", got)
	}
	WithPrefix(nil, "x: ").Printf("dropped")
}

func TestWrapMetrics(t *testing.T) {
	metrics := logging.Metrics{}
	adapter := WrapMetrics(&metrics)

	adapter.Add(MetricEchoSuppressed, 2)
	adapter.Store(MetricEchoSuppressed, 5)
	adapter.Add(MetricEchoSuppressed, 3)

	snapshot := metrics.Snapshot()
	if got := snapshot[MetricEchoSuppressed]; got != 8 {
		t.Fatalf("unexpected metric value: %d", got)
	}

	adapter.Store(MetricRelayClients, 2)
	adapter.Store(MetricRelayClients, 1)
	if got := metrics.Snapshot()[MetricRelayClients]; got != 1 {
		t.Fatalf("store should overwrite gauges, got %d", got)
	}

	var nilAdapter Metrics = WrapMetrics(nil)
	nilAdapter.Add("ignored", 1)
	nilAdapter.Store("ignored", 1)
	NopMetrics().Add(MetricFramesSent, 1)
}
