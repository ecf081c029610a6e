package comm

import (
	"context"
	"sync"
	"time"
)

// Poller calls a function periodically until stopped.
type Poller struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

// Start calls fn right away and then every interval. Starting a running poller restarts it.
func (p *Poller) Start(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		for {
			fn(ctx)
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()
}

// Stop cancels the poller. It does not wait for a running call to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}
