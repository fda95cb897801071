package main

import (
	"context"
	"sync"
)

// pipelineParts holds whatever run has built so far. Unset parts are
// skipped on shutdown.
type pipelineParts struct {
	cancel   context.CancelFunc
	batcher  interface{ Stop() }
	mux      interface{ Close() error }
	channels interface{ Close() }
	parquet  interface{ Stop() }
	kafka    interface{ Stop() }

	once sync.Once
}

// shutdown stops the parts upstream first, so each stage drains into the
// next one before that one's input channel is closed. Only the first call
// does anything.
func (p *pipelineParts) shutdown() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		if p.batcher != nil {
			p.batcher.Stop()
		}
		if p.mux != nil {
			_ = p.mux.Close()
		}
		if p.channels != nil {
			p.channels.Close()
		}
		if p.parquet != nil {
			p.parquet.Stop()
		}
		if p.kafka != nil {
			p.kafka.Stop()
		}
	})
}
