package dashboard

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"cryptostream/internal/metrics"
	"cryptostream/logger"
)

const defaultHistory = 200

// ring keeps the newest len(buf) values. Reads return them oldest first.
type ring[T any] struct {
	mu   sync.RWMutex
	buf  []T
	next int
	full bool
}

func newRing[T any](limit int) *ring[T] {
	if limit <= 0 {
		limit = defaultHistory
	}
	return &ring[T]{buf: make([]T, limit)}
}

func (r *ring[T]) add(v T) {
	r.mu.Lock()
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// collect copies out the retained values accepted by keep; a nil keep
// accepts everything.
func (r *ring[T]) collect(keep func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start, n := 0, r.next
	if r.full {
		start, n = r.next, len(r.buf)
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v := r.buf[(start+i)%len(r.buf)]
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// metricStore receives every emitted metric through the metrics handler
// registry.
type metricStore struct {
	items *ring[metrics.Metric]
}

func newMetricStore(limit int) *metricStore {
	return &metricStore{items: newRing[metrics.Metric](limit)}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.items.add(metric)
}

// snapshot returns the retained metrics of component, or all of them when
// component is empty.
func (s *metricStore) snapshot(component string) []metrics.Metric {
	if component == "" {
		return s.items.collect(nil)
	}
	return s.items.collect(func(m metrics.Metric) bool { return m.Component == component })
}

type logRecord struct {
	Timestamp    time.Time              `json:"timestamp"`
	Level        string                 `json:"level"`
	Component    string                 `json:"component,omitempty"`
	Subscription string                 `json:"subscription,omitempty"`
	Message      string                 `json:"message"`
	Fields       map[string]interface{} `json:"fields,omitempty"`
}

// logQuery selects log records; empty fields match anything.
type logQuery struct {
	Level        string
	Component    string
	Subscription string
}

func (q logQuery) match(r logRecord) bool {
	return (q.Level == "" || r.Level == q.Level) &&
		(q.Component == "" || r.Component == q.Component) &&
		(q.Subscription == "" || r.Subscription == q.Subscription)
}

// logStore is a logrus hook that keeps the latest log records. Records
// logged through Entry.WithSubscription can be looked up per subscription.
type logStore struct {
	items  *ring[logRecord]
	closed atomic.Bool
}

func newLogStore(limit int) *logStore {
	return &logStore{items: newRing[logRecord](limit)}
}

func (s *logStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if s.closed.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	for k, v := range entry.Data {
		switch k {
		case "component":
			record.Component, _ = v.(string)
			continue
		case logger.SubscriptionField:
			record.Subscription, _ = v.(string)
			continue
		}
		if record.Fields == nil {
			record.Fields = make(map[string]interface{}, len(entry.Data))
		}
		switch val := v.(type) {
		case error:
			record.Fields[k] = val.Error()
		case fmt.Stringer:
			record.Fields[k] = val.String()
		default:
			record.Fields[k] = val
		}
	}

	s.items.add(record)
	return nil
}

func (s *logStore) snapshot(q logQuery) []logRecord {
	q.Level = strings.ToLower(q.Level)
	return s.items.collect(q.match)
}

// close stops recording. The hook stays attached to the logger.
func (s *logStore) close() {
	s.closed.Store(true)
}
