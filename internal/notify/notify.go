// Package notify sends account notifications by mail.
package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
	"go.uber.org/zap"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPMailer struct {
	host     string
	user     string
	password string
	from     string
	addr     string
}

func NewSMTPMailer(host string, port int, user string, password string, from string) *SMTPMailer {
	if from == "" {
		from = user
	}
	return &SMTPMailer{
		host:     host,
		user:     user,
		password: password,
		from:     from,
		addr:     fmt.Sprintf("%s:%d", host, port),
	}
}

func (m *SMTPMailer) Send(_ context.Context, msg Message) error {
	e := email.NewEmail()
	e.From = m.from
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.password, m.host)
	}
	if err := e.Send(m.addr, auth); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", msg.To, err)
	}
	return nil
}

// LogNotifier only logs the messages. It is used when no SMTP host is
// configured.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Send(_ context.Context, msg Message) error {
	if n.Log != nil {
		n.Log.Info("mail not sent, no smtp configured",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
		)
	}
	return nil
}
