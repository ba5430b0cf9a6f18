package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/podworks/podworks/internal/domain"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender logs notifications instead of sending them — used in ENV=local.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.logger.Info("notification email (local dev)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendSender sends emails via the Resend API — used in staging/production.
type ResendSender struct {
	client *resend.Client
	from   string
}

func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// NewSender returns a LogSender for ENV=local, ResendSender otherwise.
func NewSender(env, apiKey, from string, logger *slog.Logger) Sender {
	if env == "local" {
		return &LogSender{logger: logger}
	}
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// Notifier emails the operator when a job exhausts its retries.
// A missing recipient disables it.
type Notifier struct {
	sender Sender
	to     string
	logger *slog.Logger
}

func New(sender Sender, to string, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, to: to, logger: logger}
}

func (n *Notifier) JobFailed(ctx context.Context, job *domain.Job, reason string) {
	if n.to == "" {
		return
	}

	subject := fmt.Sprintf("[podworks] job %s failed permanently", job.ID)
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Job <strong>%s</strong> (%s, priority %s) failed after %d attempt(s).</p>",
		job.ID, job.Type, job.Priority, job.RetryCount+1)
	fmt.Fprintf(&b, "<p>Last error: %s</p>", reason)
	if job.Type == domain.JobTypeGenerate && job.Request.Generate != nil {
		fmt.Fprintf(&b, "<p>Prompt: %s</p>", job.Request.Generate.Prompt)
	}

	if err := n.sender.Send(ctx, n.to, subject, b.String()); err != nil {
		n.logger.Error("send failure notification", "job_id", job.ID, "error", err)
	}
}
