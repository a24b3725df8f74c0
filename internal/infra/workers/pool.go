package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("render pool closed")

// Pool bounds the number of renders running at once. Each token in sem is one
// free render slot.
type Pool struct {
	sem chan struct{}

	mu     sync.Mutex
	closed bool

	waiting   atomic.Int64
	completed atomic.Int64
}

// Slot is a held render permit. Release it exactly once.
type Slot struct {
	acquiredAt time.Time
}

// Held is how long the slot has been held.
func (s *Slot) Held() time.Duration {
	return time.Since(s.acquiredAt)
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Enabled   bool  `json:"enabled"`
	Capacity  int   `json:"capacity"`
	Idle      int   `json:"idle"`
	InUse     int   `json:"in_use"`
	Waiting   int64 `json:"waiting"`
	Completed int64 `json:"completed"`
}

// NewPool creates a pool with size slots, at least one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{sem: make(chan struct{}, size)}
	for i := 0; i < size; i++ {
		p.sem <- struct{}{}
	}
	return p
}

// Acquire blocks until a slot is free, ctx is done, or the pool is closed.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	p.waiting.Add(1)
	defer p.waiting.Add(-1)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case _, ok := <-p.sem:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return nil, ErrPoolClosed
		}
		return &Slot{acquiredAt: time.Now()}, nil
	}
}

// Release returns the slot. Releasing nil is a no-op.
func (p *Pool) Release(s *Slot) {
	if s == nil {
		return
	}
	p.completed.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.sem <- struct{}{}:
	default:
	}
}

// Stats reports capacity and current usage.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.sem == nil {
		return Stats{Completed: p.completed.Load()}
	}
	idle := len(p.sem)
	return Stats{
		Enabled:   true,
		Capacity:  cap(p.sem),
		Idle:      idle,
		InUse:     cap(p.sem) - idle,
		Waiting:   p.waiting.Load(),
		Completed: p.completed.Load(),
	}
}

// Close wakes all waiters with ErrPoolClosed. It is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.sem != nil {
		close(p.sem)
	}
}
