package redpanda

import (
	"math"
	"sync"
	"time"
)

// adaptivePoller picks the next fetch interval from recent poll outcomes:
// consecutive empty or failed polls back the interval off, busy polls pull
// it back toward the minimum.
type adaptivePoller struct {
	mu            sync.Mutex
	base          time.Duration
	min           time.Duration
	max           time.Duration
	backoffFactor float64
	consecFail    int
	consecBusy    int
}

func newAdaptivePoller(base time.Duration) *adaptivePoller {
	return &adaptivePoller{
		base:          base,
		min:           100 * time.Millisecond,
		max:           10 * time.Second,
		backoffFactor: 1.5,
	}
}

// next returns the interval to wait before the next poll.
func (p *adaptivePoller) next() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consecFail > 0 {
		d := time.Duration(float64(p.base) * math.Pow(p.backoffFactor, float64(p.consecFail)))
		if d > p.max {
			d = p.max
		}
		return d
	}
	if p.consecBusy > 0 {
		return p.min
	}
	return p.base
}

// observe records one poll outcome.
func (p *adaptivePoller) observe(err bool, records int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err {
		p.consecFail++
		p.consecBusy = 0
		return
	}
	p.consecFail = 0
	if records > 0 {
		p.consecBusy++
	} else {
		p.consecBusy = 0
	}
}
