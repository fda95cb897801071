// Package pipeline moves decoded events from the multiplexer into the
// processing channels and keeps subscriptions alive across disconnects.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"cryptostream/internal/channel"
	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"
	"cryptostream/stream"
)

const idleWait = 250 * time.Millisecond

// EventSource is the pull side of the multiplexer.
type EventSource interface {
	Next(ctx context.Context) (models.Event, error)
}

// ResubscribeFunc re-establishes sub after it disconnected.
type ResubscribeFunc func(ctx context.Context, sub stream.Subscription) error

type Option func(*Pump)

// WithPublish also queues every market event for the kafka writer.
func WithPublish() Option {
	return func(p *Pump) { p.publish = true }
}

// WithResubscribe restores subscriptions that disconnect.
func WithResubscribe(f ResubscribeFunc) Option {
	return func(p *Pump) { p.resubscribe = f }
}

type Stats struct {
	Events       int64
	DecodeErrors int64
	Disconnects  int64
	Control      int64
}

// Pump pulls events one at a time and fans them out to the channels.
type Pump struct {
	source      EventSource
	channels    *channel.Channels
	publish     bool
	resubscribe ResubscribeFunc
	log         *logger.Log
	dropLog     rate.Sometimes

	pending  sync.WaitGroup
	inFlight atomic.Int64
	events   atomic.Int64
	decodes  atomic.Int64
	drops    atomic.Int64
	control  atomic.Int64
}

func NewPump(source EventSource, channels *channel.Channels, opts ...Option) *Pump {
	p := &Pump{
		source:   source,
		channels: channels,
		log:      logger.GetLogger(),
		dropLog:  rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run pulls until ctx is done or the source is closed. It returns
// stream.ErrNoStreamSubscribed once nothing is subscribed and no
// resubscription is in progress.
func (p *Pump) Run(ctx context.Context) error {
	log := p.log.WithComponent("pipeline")
	log.WithFields(logger.Fields{"publish": p.publish, "resubscribe": p.resubscribe != nil}).Info("pipeline started")
	defer func() {
		p.pending.Wait()
		log.WithFields(logger.Fields{
			"events":        p.events.Load(),
			"decode_errors": p.decodes.Load(),
			"disconnects":   p.drops.Load(),
		}).Info("pipeline stopped")
	}()

	for {
		ev, err := p.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, stream.ErrClosed) {
				return nil
			}
			if err := p.handleError(ctx, err); err != nil {
				return err
			}
			continue
		}
		p.dispatch(ctx, ev)
	}
}

func (p *Pump) handleError(ctx context.Context, err error) error {
	var decodeErr *stream.DecodeError
	var disconnectErr *stream.DisconnectError
	switch {
	case errors.As(err, &decodeErr):
		p.decodes.Add(1)
		return nil
	case errors.As(err, &disconnectErr):
		p.drops.Add(1)
		p.restore(ctx, disconnectErr.Subscription)
		return nil
	case errors.Is(err, stream.ErrNoStreamSubscribed):
		if p.inFlight.Load() == 0 {
			return err
		}
		select {
		case <-ctx.Done():
		case <-time.After(idleWait):
		}
		return nil
	default:
		return fmt.Errorf("pull event: %w", err)
	}
}

func (p *Pump) restore(ctx context.Context, sub stream.Subscription) {
	if p.resubscribe == nil {
		return
	}
	p.inFlight.Add(1)
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		defer p.inFlight.Add(-1)
		log := p.log.WithComponent("pipeline").WithSubscription(sub)
		if err := p.resubscribe(ctx, sub); err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("failed to restore subscription")
			}
			return
		}
		log.Info("subscription restored")
	}()
}

func (p *Pump) dispatch(ctx context.Context, ev models.Event) {
	switch ev.(type) {
	case models.Ping, models.Pong, models.Binary:
		p.control.Add(1)
		return
	}
	p.events.Add(1)

	if !p.channels.SendEvent(ctx, ev) && ctx.Err() == nil {
		p.dropped(metrics.DropMetricEvent, ev)
	}
	if p.publish && !p.channels.SendPublish(ctx, ev) && ctx.Err() == nil {
		p.dropped(metrics.DropMetricPublish, ev)
	}
}

func (p *Pump) dropped(metric metrics.DropMetric, ev models.Event) {
	p.dropLog.Do(func() {
		metrics.EmitDropMetric(p.log, metric, string(ev.Kind()), models.EventSymbol(ev), "pipeline")
	})
}

func (p *Pump) Stats() Stats {
	return Stats{
		Events:       p.events.Load(),
		DecodeErrors: p.decodes.Load(),
		Disconnects:  p.drops.Load(),
		Control:      p.control.Load(),
	}
}
