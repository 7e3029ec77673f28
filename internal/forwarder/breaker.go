package forwarder

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker guards the Graph API endpoint: after a run of consecutive failures
// it opens for a cooldown, then lets a single probe through before closing
// again. Keeps a flapping platform outage from burning every retry budget.
type Breaker struct {
	mu        sync.Mutex
	state     breakerState
	fails     int
	threshold int
	cooldown  time.Duration
	reopenAt  time.Time
	probing   bool
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 15 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed, reserving the half-open probe slot
// when the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Now().After(b.reopenAt) && !b.probing {
			b.state = stateHalfOpen
			b.probing = true
			return true
		}
		return false
	default: // half-open
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	}
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	b.fails = 0
	b.state = stateClosed
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.reopenAt = time.Now().Add(b.cooldown)
		b.probing = false
		return
	}

	b.fails++
	if b.fails >= b.threshold {
		b.state = stateOpen
		b.reopenAt = time.Now().Add(b.cooldown)
	}
}
