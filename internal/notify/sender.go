package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// Email is one outgoing plain-text message.
type Email struct {
	ToName    string
	ToAddress string
	Subject   string
	Body      string
}

type Sender interface {
	Send(ctx context.Context, e Email) error
}

// ── LogSender ─────────────────────────────────────────────

// LogSender writes messages to the log instead of delivering them. It is the
// sender used when no SendGrid key is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, e Email) error {
	s.logger.Info("notification",
		zap.String("to", e.ToAddress),
		zap.String("subject", e.Subject),
		zap.String("body", e.Body),
	)
	return nil
}

// ── SendGridSender ────────────────────────────────────────

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

type SendGridSender struct {
	key  string
	host string
	from *sgmail.Email
}

func NewSendGridSender(key, fromName, fromEmail string) *SendGridSender {
	return &SendGridSender{key: key, host: sendgridHost, from: sgmail.NewEmail(fromName, fromEmail)}
}

func (s *SendGridSender) prepare(e Email) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = e.Subject
	p.AddTos(sgmail.NewEmail(e.ToName, e.ToAddress))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", e.Body))
	return m
}

// Send posts e to the v3 mail endpoint. Cancelling ctx aborts the request.
func (s *SendGridSender) Send(ctx context.Context, e Email) error {
	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(e))

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
