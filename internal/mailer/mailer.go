package mailer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"classrelay/pkg/types"
)

// Config holds SMTP settings for the transcript digest.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP sends the end-of-class transcript digest over SMTP.
type SMTP struct {
	cfg    Config
	dialer *gomail.Dialer
	logger *zap.Logger
}

// New creates an SMTP mailer.
func New(cfg Config, logger *zap.Logger) *SMTP {
	return &SMTP{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}
}

// SendTranscripts implements interfaces.Mailer. With no SMTP credentials
// configured the digest is skipped with an error log rather than failing
// the teardown.
func (m *SMTP) SendTranscripts(_ context.Context, recipient string, chats []*types.PairedChat, soloChats []*types.SoloChat) error {
	if m.cfg.Host == "" || m.cfg.Password == "" {
		m.logger.Error("smtp not configured, skipping transcript email",
			zap.String("recipient", recipient))
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", recipient)
	// Unix timestamp keeps the subject line unique per class.
	msg.SetHeader("Subject", fmt.Sprintf("Classroom chats %d", time.Now().Unix()))
	msg.SetBody("text/plain", textBody(chats, soloChats))
	msg.AddAlternative("text/html", htmlBody(chats, soloChats))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	m.logger.Info("transcript email sent", zap.String("recipient", recipient))
	return nil
}
