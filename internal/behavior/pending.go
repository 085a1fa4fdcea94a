package behavior

import (
	"context"
	"sync"

	"github.com/xkilldash9x/grantflow/api/schemas"
)

// Pending is the deferred result of a message-channel popup call. It settles
// exactly once: with a validated Success envelope (stripped of the routing
// fields), or with a typed protocol error. There is no explicit cancel; the
// waiting state ends only via message, popup closure, or the surrounding
// lifecycle context ending.
type Pending struct {
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	envelope schemas.Envelope
	err      error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) settle(envelope schemas.Envelope, err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.envelope = envelope
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

// Done is closed once the result has settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the result settles or ctx ends.
func (p *Pending) Wait(ctx context.Context) (schemas.Envelope, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.envelope, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
