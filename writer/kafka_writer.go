package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "cryptostream/config"
	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"
)

// Envelope is the JSON value published for every event.
type Envelope struct {
	Kind       models.EventKind `json:"kind"`
	Symbol     string           `json:"symbol,omitempty"`
	ReceivedAt int64            `json:"received_at"`
	Event      models.Event     `json:"event"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes events keyed by symbol so a partition keeps one
// symbol's events in order. It runs until the event channel is closed.
type KafkaWriter struct {
	events  <-chan models.Event
	writer  messageWriter
	ctx     context.Context
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
	stats   metrics.WriterStats
}

func NewKafkaWriter(cfg appconfig.KafkaConfig, events <-chan models.Event) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	kw := newKafkaWriter(events, &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	})
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

func newKafkaWriter(events <-chan models.Event, w messageWriter) *KafkaWriter {
	return &KafkaWriter{
		events: events,
		writer: w,
		log:    logger.GetLogger(),
	}
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx = context.WithoutCancel(ctx)
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()

	return nil
}

func (kw *KafkaWriter) run() {
	defer kw.wg.Done()

	log := kw.log.WithComponent("kafka_writer")
	for ev := range kw.events {
		msg, err := NewMessage(ev, time.Now())
		if err != nil {
			kw.countError()
			log.WithError(err).Warn("failed to marshal event")
			continue
		}
		if err := kw.writer.WriteMessages(kw.ctx, msg); err != nil {
			kw.countError()
			log.WithError(err).Warn("failed to write message")
			continue
		}
		kw.mu.Lock()
		kw.stats.BatchesWritten++
		kw.stats.BytesWritten += int64(len(msg.Value))
		kw.mu.Unlock()
		logger.RecordObjectWritten("kafka", int64(len(msg.Value)))
	}
}

// NewMessage wraps ev in an Envelope keyed by its symbol.
func NewMessage(ev models.Event, receivedAt time.Time) (kafka.Message, error) {
	symbol := models.EventSymbol(ev)
	data, err := json.Marshal(Envelope{
		Kind:       ev.Kind(),
		Symbol:     symbol,
		ReceivedAt: receivedAt.UnixMilli(),
		Event:      ev,
	})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(symbol),
		Value: data,
		Time:  receivedAt,
	}, nil
}

func (kw *KafkaWriter) countError() {
	kw.mu.Lock()
	kw.stats.ErrorsCount++
	kw.mu.Unlock()
}

func (kw *KafkaWriter) Stats() metrics.WriterStats {
	kw.mu.RLock()
	defer kw.mu.RUnlock()
	s := kw.stats
	s.InputChannelLen = len(kw.events)
	s.InputChannelCap = cap(kw.events)
	return s
}

// Stop waits for the event channel to drain and closes the producer. The
// channel must be closed by its owner.
func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	if !kw.running {
		kw.mu.Unlock()
		return
	}
	kw.running = false
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	kw.wg.Wait()
	if err := kw.writer.Close(); err != nil {
		kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to close kafka producer")
	}
	metrics.ReportWriter(kw.log, "kafka_writer", kw.Stats())
	kw.log.WithComponent("kafka_writer").Debug("kafka writer stopped")
}
