package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/wneessen/go-mail"

	jobmetrics "github.com/northwind-digital/agency/internal/jobs"
)

// Message is a plain-text mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer sends through an SMTP relay, upgrading with STARTTLS when the
// relay offers it.
type SMTPMailer struct {
	From string
	// send is client.DialAndSendWithContext outside tests.
	send func(ctx context.Context, msgs ...*mail.Msg) error
}

// NewSMTPMailer constructs an SMTPMailer for host:port.
func NewSMTPMailer(host string, port int, from string) (*SMTPMailer, error) {
	client, err := mail.NewClient(host,
		mail.WithPort(port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(15*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("jobs: smtp client: %w", err)
	}
	return &SMTPMailer{From: from, send: client.DialAndSendWithContext}, nil
}

// Send builds msg and hands it to the relay.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("jobs: header injection in message to %q", msg.To)
	}
	out := mail.NewMsg()
	if err := out.From(m.From); err != nil {
		return fmt.Errorf("jobs: sender %q: %w", m.From, err)
	}
	if err := out.To(msg.To); err != nil {
		return fmt.Errorf("jobs: recipient %q: %w", msg.To, err)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(mail.TypeTextPlain, msg.Body)
	if err := m.send(ctx, out); err != nil {
		return fmt.Errorf("jobs: smtp send: %w", err)
	}
	return nil
}

// ConfirmationJob handles TaskSendConfirmation.
type ConfirmationJob struct {
	mailer  Mailer
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewConfirmationJob constructs the handler.
func NewConfirmationJob(mailer Mailer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConfirmationJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfirmationJob{mailer: mailer, logger: logger, metrics: metrics}
}

// Handle decodes the payload and sends the mail. Malformed payloads are not retried.
func (j *ConfirmationJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskSendConfirmation)
	var payload ConfirmationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.To == "" {
		j.logger.Warn("confirmation payload", slog.Any("error", err))
		return tracker.End(fmt.Errorf("jobs: malformed confirmation payload: %w", asynq.SkipRetry))
	}
	name := payload.Username
	if name == "" {
		name = "there"
	}
	msg := Message{
		To:      payload.To,
		Subject: "Confirm your email",
		Body: fmt.Sprintf("Hi %s,\n\nPlease confirm your email address by opening the link below:\n\n%s\n\nIf you did not sign up you can ignore this message.\n",
			name, payload.Link),
	}
	if err := j.mailer.Send(ctx, msg); err != nil {
		return tracker.End(err)
	}
	j.logger.Info("confirmation sent", slog.String("to", payload.To))
	return tracker.End(nil)
}
