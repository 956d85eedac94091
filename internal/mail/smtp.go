package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"time"
)

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Addr     string // host:port
	User     string
	Password string
	From     string
	UseTLS   bool // implicit TLS (port 465); otherwise STARTTLS when offered
	Timeout  time.Duration
}

// SMTPMailer delivers over SMTP.
type SMTPMailer struct {
	cfg  SMTPConfig
	host string
	auth smtp.Auth
	log  *slog.Logger
	now  func() time.Time
}

var _ Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(cfg SMTPConfig, log *slog.Logger) *SMTPMailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		host = cfg.Addr
	}

	var auth smtp.Auth
	if cfg.User != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, host)
	}

	return &SMTPMailer{
		cfg:  cfg,
		host: host,
		auth: auth,
		log:  log.With("component", "mail.smtp", "smtp_addr", cfg.Addr),
		now:  time.Now,
	}
}

// Send delivers msg. The whole exchange is bounded by the configured timeout
// and by ctx.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := m.now()
	log := m.log.With("to", msg.To, "subject", msg.Subject, "tls", m.cfg.UseTLS)

	conn, err := m.dial(ctx)
	if err != nil {
		log.Error("smtp dial failed", "err", err)
		return fmt.Errorf("mail: dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := m.deliver(conn, msg); err != nil {
		log.Error("smtp delivery failed", "err", err)
		return fmt.Errorf("mail: send: %w", err)
	}

	log.Info("email sent", "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (m *SMTPMailer) dial(ctx context.Context) (net.Conn, error) {
	if m.cfg.UseTLS {
		d := tls.Dialer{Config: &tls.Config{ServerName: m.host, MinVersion: tls.VersionTLS12}}
		return d.DialContext(ctx, "tcp", m.cfg.Addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", m.cfg.Addr)
}

func (m *SMTPMailer) deliver(conn net.Conn, msg Message) error {
	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() { _ = c.Close() }()

	if !m.cfg.UseTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: m.host, MinVersion: tls.VersionTLS12}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if m.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(m.auth); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
	}

	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg.encode(m.cfg.From, m.now())); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return c.Quit()
}
