package stream

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptostream/logger"
	"cryptostream/models"
)

// Handle identifies one registered connection.
type Handle struct {
	ID           string
	Subscription Subscription
	ConnectedAt  time.Time
}

type entry struct {
	handle *Handle
	stream RawStream
	quit   chan struct{}
	once   sync.Once
}

func (e *entry) close() {
	e.once.Do(func() {
		close(e.quit)
		_ = e.stream.Close()
	})
}

type delivery struct {
	entry *entry
	frame Frame
	err   error
}

type pullResult struct {
	sub   Subscription
	frame Frame
	err   error
}

type registerReq struct {
	entry *entry
	reply chan struct{}
}

type unsubscribeReq struct {
	sub   Subscription
	reply chan *Handle
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithMetrics records subscribe, event and disconnect counters.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Multiplexer) { m.metrics = metrics }
}

// Multiplexer merges any number of subscriptions into one sequence of
// events. A single owner goroutine holds the registry; every exported
// method is a request to it. Each subscription has a reader goroutine that
// hands over at most one frame at a time, and only while a Next call is
// waiting.
type Multiplexer struct {
	connector Connector
	metrics   *Metrics
	log       *logger.Log
	decodeLog *logger.Sampler

	register    chan registerReq
	unsubscribe chan unsubscribeReq
	pull        chan chan pullResult
	cancelPull  chan chan pullResult
	inspect     chan chan []Subscription
	frames      chan delivery
	closing     chan struct{}
	done        chan struct{}

	closeOnce sync.Once
	readers   sync.WaitGroup
}

// NewMultiplexer starts an empty multiplexer that opens connections with
// connector. Call Close to release it.
func NewMultiplexer(connector Connector, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		connector:   connector,
		log:         logger.GetLogger(),
		decodeLog:   logger.NewSampler(5, 10*time.Second),
		register:    make(chan registerReq),
		unsubscribe: make(chan unsubscribeReq),
		pull:        make(chan chan pullResult),
		cancelPull:  make(chan chan pullResult),
		inspect:     make(chan chan []Subscription),
		frames:      make(chan delivery),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.run()
	return m
}

// Subscribe opens a connection for sub and registers it, replacing and
// closing any connection already registered for the same subscription.
// On failure the registry is left untouched. A subscription that fails
// Validate is rejected with a *ConnectionError before anything is dialed.
func (m *Multiplexer) Subscribe(ctx context.Context, sub Subscription) (*Handle, error) {
	select {
	case <-m.done:
		return nil, ErrClosed
	default:
	}

	if err := sub.Validate(); err != nil {
		m.metrics.subscribed(sub, err)
		return nil, &ConnectionError{Subscription: sub, Err: err}
	}

	stream, err := m.connector.Open(ctx, sub)
	m.metrics.subscribed(sub, err)
	if err != nil {
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			err = &ConnectionError{Subscription: sub, Err: err}
		}
		return nil, err
	}

	e := &entry{
		handle: &Handle{ID: uuid.NewString(), Subscription: sub, ConnectedAt: time.Now()},
		stream: stream,
		quit:   make(chan struct{}),
	}
	req := registerReq{entry: e, reply: make(chan struct{})}
	select {
	case m.register <- req:
	case <-m.done:
		_ = stream.Close()
		return nil, ErrClosed
	}
	<-req.reply

	m.log.WithComponent("multiplexer").WithSubscription(sub).WithFields(logger.Fields{
		"handle_id": e.handle.ID,
	}).Info("subscribed")
	return e.handle, nil
}

// Unsubscribe closes and removes the connection registered for sub. It
// reports false when sub was not registered.
func (m *Multiplexer) Unsubscribe(sub Subscription) (*Handle, bool) {
	req := unsubscribeReq{sub: sub, reply: make(chan *Handle, 1)}
	select {
	case m.unsubscribe <- req:
	case <-m.done:
		return nil, false
	}
	h := <-req.reply
	if h != nil {
		m.log.WithComponent("multiplexer").WithSubscription(sub).WithFields(logger.Fields{
			"handle_id": h.ID,
		}).Info("unsubscribed")
	}
	return h, h != nil
}

// Subscriptions returns the registered subscriptions.
func (m *Multiplexer) Subscriptions() []Subscription {
	reply := make(chan []Subscription, 1)
	select {
	case m.inspect <- reply:
	case <-m.done:
		return nil
	}
	subs := <-reply
	sort.Slice(subs, func(i, j int) bool { return subs[i].String() < subs[j].String() })
	return subs
}

// Next returns the next event from any subscription. Failures are scoped:
// a *DecodeError concerns one frame, a *DisconnectError one subscription
// that has just been removed. ErrNoStreamSubscribed is returned at once
// when nothing is registered and ErrClosed after Close.
func (m *Multiplexer) Next(ctx context.Context) (models.Event, error) {
	reply := make(chan pullResult, 1)
	select {
	case m.pull <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, ErrClosed
	}

	var r pullResult
	select {
	case r = <-reply:
	case <-ctx.Done():
		select {
		case m.cancelPull <- reply:
		case <-m.done:
		}
		// the owner may have answered before it saw the cancellation
		select {
		case r = <-reply:
		default:
			return nil, ctx.Err()
		}
	case <-m.done:
		select {
		case r = <-reply:
		default:
			return nil, ErrClosed
		}
	}

	if r.err != nil {
		return nil, r.err
	}
	ev, err := Decode(r.sub, r.frame)
	if err != nil {
		m.metrics.decodeFailed(r.sub)
		logger.RecordDecodeError()
		m.decodeLog.Warn(func() *logger.Entry {
			return m.log.WithComponent("multiplexer").WithSubscription(r.sub).WithError(err)
		}, "failed to decode frame")
		return nil, err
	}
	m.metrics.delivered(string(ev.Kind()))
	logger.RecordEvent(string(ev.Kind()), len(r.frame.Data))
	return ev, nil
}

// Close closes every connection and stops the multiplexer.
func (m *Multiplexer) Close() error {
	m.closeOnce.Do(func() { close(m.closing) })
	<-m.done
	m.readers.Wait()
	return nil
}

func (m *Multiplexer) run() {
	log := m.log.WithComponent("multiplexer")
	entries := make(map[Subscription]*entry)
	var pending chan pullResult

	answer := func(r pullResult) {
		pending <- r
		pending = nil
	}
	answerIfIdle := func() {
		if pending != nil && len(entries) == 0 {
			answer(pullResult{err: ErrNoStreamSubscribed})
		}
	}

	for {
		pull := m.pull
		var frames chan delivery
		if pending != nil {
			pull = nil
			frames = m.frames
		}

		select {
		case req := <-m.register:
			sub := req.entry.handle.Subscription
			if old, ok := entries[sub]; ok {
				old.close()
				log.WithSubscription(sub).WithFields(logger.Fields{
					"handle_id": old.handle.ID,
				}).Info("replaced existing connection")
			}
			entries[sub] = req.entry
			m.readers.Add(1)
			go m.read(req.entry)
			m.metrics.setActive(len(entries))
			close(req.reply)

		case req := <-m.unsubscribe:
			e, ok := entries[req.sub]
			if !ok {
				req.reply <- nil
				continue
			}
			delete(entries, req.sub)
			e.close()
			m.metrics.setActive(len(entries))
			req.reply <- e.handle
			answerIfIdle()

		case reply := <-pull:
			pending = reply
			answerIfIdle()

		case reply := <-m.cancelPull:
			if pending == reply {
				pending = nil
			}

		case reply := <-m.inspect:
			subs := make([]Subscription, 0, len(entries))
			for sub := range entries {
				subs = append(subs, sub)
			}
			reply <- subs

		case d := <-frames:
			sub := d.entry.handle.Subscription
			if entries[sub] != d.entry {
				// left over from a connection that was replaced or removed
				continue
			}
			if d.err == nil {
				answer(pullResult{sub: sub, frame: d.frame})
				continue
			}
			delete(entries, sub)
			d.entry.close()
			m.metrics.setActive(len(entries))
			m.metrics.disconnected(sub)
			logger.RecordDisconnect()

			cause := d.err
			if errors.Is(cause, io.EOF) {
				cause = nil
			}
			log.WithSubscription(sub).WithError(d.err).WithFields(logger.Fields{
				"handle_id": d.entry.handle.ID,
				"remaining": len(entries),
			}).Warn("subscription disconnected")
			answer(pullResult{sub: sub, err: &DisconnectError{Subscription: sub, Err: cause}})

		case <-m.closing:
			for sub, e := range entries {
				e.close()
				delete(entries, sub)
			}
			m.metrics.setActive(0)
			if pending != nil {
				answer(pullResult{err: ErrClosed})
			}
			close(m.done)
			log.Info("multiplexer closed")
			return
		}
	}
}

func (m *Multiplexer) read(e *entry) {
	defer m.readers.Done()
	for {
		frame, err := e.stream.Next()
		select {
		case m.frames <- delivery{entry: e, frame: frame, err: err}:
		case <-e.quit:
			return
		}
		if err != nil {
			return
		}
	}
}
