// ABOUTME: Pipe connects a runner's producer goroutine to the Run consumer
// ABOUTME: Send gives up when ctx is cancelled so producers never block on a gone consumer

package agent

import (
	"context"
	"sync"
)

// Pipe implements Run over an unbuffered event channel.
type Pipe struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
	result Result
	err    error
}

// NewPipe creates an open Pipe.
func NewPipe() *Pipe {
	return &Pipe{
		events: make(chan Event),
		done:   make(chan struct{}),
	}
}

// Events implements Run.
func (p *Pipe) Events() <-chan Event { return p.events }

// Wait implements Run.
func (p *Pipe) Wait() (Result, error) {
	<-p.done
	return p.result, p.err
}

// Send delivers ev to the consumer. It returns false if ctx ended first.
func (p *Pipe) Send(ctx context.Context, ev Event) bool {
	select {
	case p.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish closes the event stream and records the outcome. Only the first
// call has any effect.
func (p *Pipe) Finish(result Result, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.events)
		close(p.done)
	})
}
