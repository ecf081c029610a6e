package comm

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// FlowControl is the pool of "cleared to send" permits. The sender acquires one before every
// transmission and each acknowledgement releases one. Permits start exhausted: the controller must
// first answer the connection probe.
type FlowControl struct {
	capacity int
	sem      *semaphore.Weighted
	mu       sync.Mutex
	held     int
}

func NewFlowControl(capacity int) *FlowControl {
	if capacity < 1 {
		panic("bug: flow control capacity must be positive")
	}
	fc := &FlowControl{
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
	fc.Clear()
	return fc
}

// Acquire blocks until a permit is available or ctx is done.
func (fc *FlowControl) Acquire(ctx context.Context) error {
	if err := fc.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	fc.mu.Lock()
	fc.held++
	fc.mu.Unlock()
	return nil
}

// Release returns a permit. Releases beyond capacity are dropped.
func (fc *FlowControl) Release() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.held == 0 {
		return
	}
	fc.held--
	fc.sem.Release(1)
}

// Clear takes every available permit.
func (fc *FlowControl) Clear() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for fc.sem.TryAcquire(1) {
		fc.held++
	}
}

// Available is the number of permits which may be acquired without blocking.
func (fc *FlowControl) Available() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.capacity - fc.held
}

func (fc *FlowControl) Capacity() int {
	return fc.capacity
}

// ByteBudget tracks the bytes of lines sent and not yet acknowledged against the controller
// receive buffer.
type ByteBudget struct {
	size    int
	reserve int

	mu      sync.Mutex
	lengths []int
	total   int
	changed chan struct{}
}

func NewByteBudget(size, reserve int) *ByteBudget {
	return &ByteBudget{
		size:    size,
		reserve: reserve,
		changed: make(chan struct{}),
	}
}

func (b *ByteBudget) broadcastLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Wait blocks while fewer than reserve bytes are free in the receive buffer.
func (b *ByteBudget) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.size-b.total >= b.reserve {
			b.mu.Unlock()
			return nil
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Add accounts a sent line of n bytes, including its terminator.
func (b *ByteBudget) Add(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lengths = append(b.lengths, n)
	b.total += n
	b.broadcastLocked()
}

// Pop frees the oldest sent line, on acknowledgement.
func (b *ByteBudget) Pop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lengths) == 0 {
		return
	}
	b.total -= b.lengths[0]
	b.lengths = b.lengths[1:]
	b.broadcastLocked()
}

func (b *ByteBudget) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lengths = nil
	b.total = 0
	b.broadcastLocked()
}

// InFlight is the number of unacknowledged bytes.
func (b *ByteBudget) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
