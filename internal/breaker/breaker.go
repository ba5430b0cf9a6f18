// Package breaker isolates unhealthy external dependencies. One Breaker is
// constructed per named dependency so an open image backend never blocks a
// healthy publish platform.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/podworks/podworks/internal/domain"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	clock     clock.Clock

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	lastFailureAt time.Time
	// probing is true while the single half-open trial call is in flight.
	probing bool
}

func New(name string, threshold int, cooldown time.Duration) *Breaker {
	return NewWithClock(name, threshold, cooldown, clock.C)
}

func NewWithClock(name string, threshold int, cooldown time.Duration, clk clock.Clock) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clk,
	}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState accounts for cooldown expiry without mutating; callers hold mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.clock.Now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Do runs op through the breaker. While open it returns a circuit-open
// error without invoking op; while half-open it admits exactly one probe.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probing {
			return domain.NewCircuitOpenError(b.name)
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	default:
		return domain.NewCircuitOpenError(b.name)
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.probing = false
		b.state = StateClosed
		return
	}

	b.lastFailureAt = b.clock.Now()

	if b.state == StateHalfOpen {
		// Failed probe: back to open, cooldown restarts.
		b.probing = false
		b.state = StateOpen
		b.openedAt = b.clock.Now()
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = b.clock.Now()
	}
}
