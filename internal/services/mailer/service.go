// Package mailer sends backup run reports by email.
package mailer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/resticron/resticron/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for email notification operations.
type Service interface {
	SendReport(cfg models.EmailSettings, report models.RunReport) (*models.MailResult, error)
}

// Sender allows mocking the SMTP submission.
type Sender interface {
	Send(addr string, auth sasl.Client, from string, to []string, body io.Reader) error
}

// smtpSender submits over a STARTTLS connection.
type smtpSender struct{}

func (smtpSender) Send(addr string, auth sasl.Client, from string, to []string, body io.Reader) error {
	return smtp.SendMail(addr, auth, from, to, body)
}

// Impl implements the mailer Service interface.
type Impl struct {
	sender Sender
	logger zerolog.Logger
}

// New creates a new mailer service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		sender: smtpSender{},
		logger: logger,
	}
}

// NewWithSender creates a new mailer service with a custom sender (for testing).
func NewWithSender(logger zerolog.Logger, sender Sender) *Impl {
	return &Impl{
		sender: sender,
		logger: logger,
	}
}

// SendReport delivers a run report to the configured recipient. Any
// failure is recorded in the result rather than returned, since
// notification must never change the outcome of a run.
func (s *Impl) SendReport(cfg models.EmailSettings, report models.RunReport) (*models.MailResult, error) {
	result := &models.MailResult{}

	s.logger.Info().
		Str("to", cfg.To).
		Str("status", string(report.Status)).
		Msg("sending email report")

	msg := buildMessage(cfg, report)
	addr := fmt.Sprintf("%s:%d", cfg.SMTPServer, cfg.SMTPPort)

	var auth sasl.Client
	if cfg.Username != "" {
		auth = sasl.NewPlainClient("", cfg.Username, cfg.Password)
	}

	if err := s.sender.Send(addr, auth, cfg.From, []string{cfg.To}, strings.NewReader(msg)); err != nil {
		result.Error = fmt.Errorf("failed to send email: %w", err)
		return result, nil
	}

	result.Sent = true
	s.logger.Info().Msg("email report sent successfully")

	return result, nil
}

// buildMessage renders the full RFC 5322 message including headers.
func buildMessage(cfg models.EmailSettings, report models.RunReport) string {
	var b bytes.Buffer

	subject := cfg.Subject
	if report.Status == models.StatusFailure {
		subject += " [FAILED]"
	}

	b.WriteString(fmt.Sprintf("From: %s\r\n", cfg.From))
	b.WriteString(fmt.Sprintf("To: %s\r\n", cfg.To))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(formatBody(report))

	return b.String()
}

func formatBody(report models.RunReport) string {
	var b bytes.Buffer

	if report.Status == models.StatusSuccess {
		b.WriteString(fmt.Sprintf("Backup run for %s completed successfully.\n\n", report.Project))
	} else {
		b.WriteString(fmt.Sprintf("Backup run for %s FAILED.\n\n", report.Project))
	}

	b.WriteString(fmt.Sprintf("Repository:  %s\n", report.Repository))
	b.WriteString(fmt.Sprintf("Started:     %s\n", report.StartTime.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("Duration:    %s\n", report.Duration.Round(time.Second)))

	if report.Status == models.StatusSuccess {
		b.WriteString(fmt.Sprintf("Snapshot:    %s\n", report.SnapshotID))
		if report.TotalSize != "" {
			b.WriteString(fmt.Sprintf("Total size:  %s\n", report.TotalSize))
		}
		if report.SnapshotsKept > 0 || report.SnapshotsRemoved > 0 {
			b.WriteString(fmt.Sprintf("Retention:   kept %d, removed %d\n", report.SnapshotsKept, report.SnapshotsRemoved))
		}
	} else {
		b.WriteString(fmt.Sprintf("Failed step: %s\n", report.FailedStep))
		b.WriteString(fmt.Sprintf("Error:       %s\n", report.ErrorMessage))
	}

	b.WriteString(fmt.Sprintf("\nLog file: %s\n", report.LogFilePath))

	return b.String()
}
