package logger

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Sampler throttles a noisy log line, such as one per undecodable frame.
// The first burst lines are written, then at most one per interval. Each
// written line carries the number of lines dropped since the previous one.
type Sampler struct {
	sometimes  rate.Sometimes
	suppressed atomic.Int64
}

// NewSampler returns a Sampler that lets burst lines through before
// throttling to one per interval.
func NewSampler(burst int, interval time.Duration) *Sampler {
	return &Sampler{sometimes: rate.Sometimes{First: burst, Interval: interval}}
}

// Do calls log when the sampler allows it, passing the count of calls
// dropped since the last one that ran.
func (s *Sampler) Do(log func(suppressed int64)) {
	ran := false
	s.sometimes.Do(func() {
		ran = true
		log(s.suppressed.Swap(0))
	})
	if !ran {
		s.suppressed.Add(1)
	}
}

// Warn writes entry at warn level through the sampler. build is only
// called for lines that are actually written.
func (s *Sampler) Warn(build func() *Entry, args ...interface{}) {
	s.Do(func(suppressed int64) {
		entry := build()
		if suppressed > 0 {
			entry = entry.WithFields(Fields{"suppressed": suppressed})
		}
		entry.Warn(args...)
	})
}
