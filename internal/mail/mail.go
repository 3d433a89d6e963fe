package mail

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/config"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers plain text mail.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New returns an SMTP sender when an SMTP address is configured and a
// logging sender otherwise.
func New(cfg config.MailConfig) Sender {
	if strings.TrimSpace(cfg.SMTPAddr) == "" {
		return LogSender{}
	}
	return &SMTPSender{Addr: cfg.SMTPAddr, From: cfg.From, Username: cfg.Username, Password: cfg.Password}
}

type SMTPSender struct {
	Addr     string
	From     string
	Username string
	Password string
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	var auth smtp.Auth
	if s.Username != "" {
		host, _, err := net.SplitHostPort(s.Addr)
		if err != nil {
			return eris.Wrapf(err, "mail: bad smtp address %s", s.Addr)
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(s.Addr, auth, s.From, []string{msg.To}, render(s.From, msg))
	}()
	select {
	case err := <-done:
		return eris.Wrapf(err, "mail: send to %s", msg.To)
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "mail: send cancelled")
	}
}

func render(from string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	zap.L().Info("mail not delivered, no smtp configured",
		zap.String("to", msg.To), zap.String("subject", msg.Subject), zap.String("body", msg.Body))
	return nil
}

// Recorder keeps sent messages in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
}

func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}
