package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/wneessen/go-mail"
)

type EmailSink struct {
	client *mail.Client
	from   string
}

// NewEmailSink builds an SMTP sink. Authentication is only negotiated when a
// username is configured.
func NewEmailSink(host string, port int, username, password, from string, timeout time.Duration) (*EmailSink, error) {
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(timeout),
	}
	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password),
		)
	}
	c, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &EmailSink{client: c, from: from}, nil
}

func (s *EmailSink) Send(ctx context.Context, m Message) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("from address %q: %w", s.from, err)
	}
	if err := msg.To(m.To); err != nil {
		return fmt.Errorf("to address %q: %w", m.To, err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return &TransportError{Channel: models.ChannelEmail, Err: err}
	}
	return nil
}
