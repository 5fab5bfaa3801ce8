// Package barrier provides the rendezvous a primary core and one secondary
// core use before crossing into the constructed system together.
package barrier

import (
	"context"
	"sync"
)

// Pair is a reusable two-party barrier. Each Wait blocks until the other
// party has also called Wait. The zero value is ready for use.
type Pair struct {
	mu        sync.Mutex
	waiting   bool
	release   chan struct{}
	crossings uint64
}

func New() *Pair {
	return &Pair{}
}

// Wait blocks until both parties have arrived or ctx is done. A party that
// gives up before its peer arrives leaves the barrier empty again.
func (p *Pair) Wait(ctx context.Context) error {
	p.mu.Lock()
	if p.waiting {
		ch := p.release
		p.waiting = false
		p.release = nil
		p.crossings++
		p.mu.Unlock()
		close(ch)
		return nil
	}
	ch := make(chan struct{})
	p.waiting = true
	p.release = ch
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.release != ch {
			// the peer arrived while we were giving up
			return nil
		}
		p.waiting = false
		p.release = nil
		return ctx.Err()
	}
}

// Crossings reports how many times both parties have met.
func (p *Pair) Crossings() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.crossings
}
