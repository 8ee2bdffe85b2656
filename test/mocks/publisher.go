// Package mocks provides shared test doubles.
package mocks

import (
	"context"
	"sync"

	"github.com/habitroyale/habit-engine/internal/events"
)

// Publisher records published change events.
type Publisher struct {
	mu      sync.Mutex
	changes []events.Change
	err     error
}

// NewPublisher creates a new recording publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish records the change, or returns the configured error.
func (p *Publisher) Publish(_ context.Context, change events.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.changes = append(p.changes, change)
	return nil
}

// FailWith makes every following Publish return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Changes returns a copy of the recorded changes.
func (p *Publisher) Changes() []events.Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Change(nil), p.changes...)
}

// Paths returns the document paths of the recorded changes, in order.
func (p *Publisher) Paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	paths := make([]string, len(p.changes))
	for i, c := range p.changes {
		paths[i] = c.Path
	}
	return paths
}

// Reset drops the recorded changes.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = nil
}
