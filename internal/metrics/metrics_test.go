package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cryptostream/internal/channel"
	"cryptostream/logger"
)

func TestReportBatcher(t *testing.T) {
	log := logger.GetLogger()
	ReportBatcher(log, BatcherStats{EventsProcessed: 10, BatchesFlushed: 2, RecordsFlushed: 10, ActiveBatches: 1})
	ReportBatcher(log, BatcherStats{})
}

func TestReportWriter(t *testing.T) {
	log := logger.GetLogger()
	ReportWriter(log, "parquet_writer", WriterStats{BatchesWritten: 1, FilesWritten: 1, BytesWritten: 512})
	ReportWriter(log, "parquet_writer", WriterStats{ErrorsCount: 1})
}

func TestStartChannelSizeMetrics(t *testing.T) {
	resetMetricHandlers()

	events := make(chan Metric, 16)
	id := RegisterMetricHandler(func(m Metric) {
		select {
		case events <- m:
		default:
		}
	})
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	ch := channel.NewChannels(4, 2)
	defer ch.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartChannelSizeMetrics(ctx, ch, 5*time.Millisecond)

	seen := map[string]bool{}
	deadline := time.After(time.Second)
	for len(seen) < 3 {
		select {
		case m := <-events:
			seen[m.Name] = true
		case <-deadline:
			t.Fatalf("missing channel metrics, saw %v", seen)
		}
	}
}

func TestServeExposesRegistry(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	reg := NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "serve_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, reg) }()

	var body string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(b)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(body, "serve_test_total 1") {
		t.Fatalf("metric missing from body: %q", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("go collector missing")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServeDisabled(t *testing.T) {
	if err := Serve(context.Background(), "", NewRegistry()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
