// Package notify turns request transitions into recipient and volunteer
// messages and delivers them over SMS or email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirdesai22/mutualaid/internal/models"
)

// Message is one rendered notification ready for a transport.
type Message struct {
	To      string
	Channel models.Channel
	Subject string
	Body    string
	Group   string // SMS conversation group; empty for email
}

type Sink interface {
	Send(ctx context.Context, m Message) error
}

// TransportError is returned by sinks when the provider could not be reached
// or refused the message.
type TransportError struct {
	Channel    models.Channel
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transport: status %d: %v", e.Channel, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s transport: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether a retry may succeed: network failures, rate
// limiting and server errors.
func (e *TransportError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

func retryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Temporary()
}

// Router picks the sink for each channel.
type Router struct {
	SMS   Sink
	Email Sink
}

func (r Router) Send(ctx context.Context, m Message) error {
	var s Sink
	switch m.Channel {
	case models.ChannelSMS:
		s = r.SMS
	case models.ChannelEmail:
		s = r.Email
	}
	if s == nil {
		return fmt.Errorf("no sink configured for channel %q", m.Channel)
	}
	return s.Send(ctx, m)
}

// RecordingSink keeps every attempt in memory. Fail, when set, decides the
// outcome of each attempt.
type RecordingSink struct {
	Fail func(m Message, attempt int) error

	mu       sync.Mutex
	attempts map[string]int
	sent     []Message
}

func (s *RecordingSink) Send(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts == nil {
		s.attempts = map[string]int{}
	}
	key := string(m.Channel) + ":" + m.To + ":" + m.Subject + ":" + m.Body
	s.attempts[key]++
	if s.Fail != nil {
		if err := s.Fail(m, s.attempts[key]); err != nil {
			return err
		}
	}
	s.sent = append(s.sent, m)
	return nil
}

// Sent returns the messages delivered so far.
func (s *RecordingSink) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}
