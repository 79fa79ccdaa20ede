package email

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/Dan9191/ledger-service/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// RecipientResolver finds who should hear about an account
type RecipientResolver interface {
	Recipient(ctx context.Context, accountID string) (address, name string, err error)
}

// Sender handles sending emails via SMTP
type Sender struct {
	cfg        *config.Config
	recipients RecipientResolver
	logger     *logrus.Logger
	send       func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, recipients RecipientResolver, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:        cfg,
		recipients: recipients,
		logger:     logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// Notify emails message to the holder of accountID
func (s *Sender) Notify(ctx context.Context, accountID, message string) error {
	to, name, err := s.recipients.Recipient(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient of account %s: %w", accountID, err)
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = fmt.Sprintf("Account %s notification", accountID)

	body := fmt.Sprintf("Dear %s,\n\n", name)
	body += fmt.Sprintf("%s\nAccount: %s\nTime: %s\n", message, accountID, time.Now().Format("2006-01-02 15:04:05"))
	body += "\nBest regards,\nLedger Service"
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send notification to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}
