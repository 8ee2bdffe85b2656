package mocks

import (
	"context"
	"sync"

	"github.com/habitroyale/habit-engine/internal/notify"
)

// Sender is an in-memory notify.Sender.
type Sender struct {
	mu     sync.Mutex
	sent   []notify.Message
	errors map[string]error
	err    error
}

// NewSender creates a new mock sender.
func NewSender() *Sender {
	return &Sender{errors: make(map[string]error)}
}

// Send records msg unless an error is configured for its token or globally.
func (s *Sender) Send(_ context.Context, msg *notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.errors[msg.Token]; ok {
		return err
	}
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, *msg)
	return nil
}

// FailToken makes sends to token return err.
func (s *Sender) FailToken(token string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[token] = err
}

// FailAll makes every send return err. A nil err clears it.
func (s *Sender) FailAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Sent returns a copy of the delivered messages.
func (s *Sender) Sent() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.sent...)
}
