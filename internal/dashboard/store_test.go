package dashboard

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"cryptostream/internal/metrics"
	"cryptostream/logger"
)

func TestRingKeepsNewestInOrder(t *testing.T) {
	r := newRing[int](3)
	if got := r.collect(nil); len(got) != 0 {
		t.Fatalf("expected empty ring, got %v", got)
	}
	for i := 1; i <= 7; i++ {
		r.add(i)
	}
	got := r.collect(nil)
	if len(got) != 3 || got[0] != 5 || got[1] != 6 || got[2] != 7 {
		t.Fatalf("unexpected ring contents: %v", got)
	}
	odd := r.collect(func(v int) bool { return v%2 == 1 })
	if len(odd) != 2 || odd[0] != 5 || odd[1] != 7 {
		t.Fatalf("unexpected filtered contents: %v", odd)
	}
}

func TestMetricStoreLimit(t *testing.T) {
	store := newMetricStore(2)
	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{Timestamp: time.Unix(int64(i), 0), Component: "batcher", Name: "metric", Value: i})
	}

	snapshot := store.snapshot("")
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 metrics in snapshot, got %d", len(snapshot))
	}
	if snapshot[0].Value != 3 || snapshot[1].Value != 4 {
		t.Fatalf("unexpected metrics retained: %#v", snapshot)
	}
	if got := store.snapshot("parquet_writer"); len(got) != 0 {
		t.Fatalf("expected no parquet_writer metrics, got %d", len(got))
	}
}

func fire(t *testing.T, store *logStore, level logrus.Level, msg string, data logrus.Fields) {
	t.Helper()
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Unix(10, 0)
	entry.Level = level
	entry.Message = msg
	entry.Data = data
	if err := store.Fire(entry); err != nil {
		t.Fatalf("store.Fire returned error: %v", err)
	}
}

func TestLogStoreCapturesEntries(t *testing.T) {
	store := newLogStore(3)
	fire(t, store, logrus.WarnLevel, "subscription disconnected", logrus.Fields{
		"component":              "multiplexer",
		logger.SubscriptionField: "trade(ETHBTC)",
		"remaining":              1,
	})

	snapshot := store.snapshot(logQuery{})
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(snapshot))
	}
	got := snapshot[0]
	if got.Component != "multiplexer" || got.Subscription != "trade(ETHBTC)" || got.Fields["remaining"] != 1 {
		t.Fatalf("unexpected snapshot data: %#v", got)
	}
	if _, ok := got.Fields[logger.SubscriptionField]; ok {
		t.Fatalf("subscription must not be repeated in fields: %#v", got.Fields)
	}
}

func TestLogStoreQuery(t *testing.T) {
	store := newLogStore(10)
	fire(t, store, logrus.InfoLevel, "subscribed", logrus.Fields{"component": "multiplexer", logger.SubscriptionField: "trade(ETHBTC)"})
	fire(t, store, logrus.InfoLevel, "subscribed", logrus.Fields{"component": "multiplexer", logger.SubscriptionField: "kline(ETHBTC,1m)"})
	fire(t, store, logrus.WarnLevel, "failed to decode frame", logrus.Fields{"component": "multiplexer", logger.SubscriptionField: "kline(ETHBTC,1m)"})
	fire(t, store, logrus.InfoLevel, "batcher stopped", logrus.Fields{"component": "batcher"})

	if got := store.snapshot(logQuery{Subscription: "kline(ETHBTC,1m)"}); len(got) != 2 {
		t.Fatalf("expected 2 kline records, got %d", len(got))
	}
	if got := store.snapshot(logQuery{Subscription: "kline(ETHBTC,1m)", Level: "WARNING"}); len(got) != 1 || got[0].Message != "failed to decode frame" {
		t.Fatalf("unexpected kline warnings: %#v", got)
	}
	if got := store.snapshot(logQuery{Component: "batcher"}); len(got) != 1 {
		t.Fatalf("expected 1 batcher record, got %d", len(got))
	}
}

func TestLogStoreRespectsLimitAndClose(t *testing.T) {
	store := newLogStore(2)
	for i := 0; i < 4; i++ {
		fire(t, store, logrus.InfoLevel, "msg", logrus.Fields{"index": i})
	}

	snapshot := store.snapshot(logQuery{})
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 entries after pruning, got %d", len(snapshot))
	}
	if snapshot[0].Fields["index"] != 2 || snapshot[1].Fields["index"] != 3 {
		t.Fatalf("unexpected entries retained: %#v", snapshot)
	}

	store.close()
	fire(t, store, logrus.InfoLevel, "ignored", nil)
	if snapshot = store.snapshot(logQuery{}); len(snapshot) != 2 {
		t.Fatalf("store accepted entries after close")
	}
}
