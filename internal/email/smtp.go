package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/eraser-privacy/dataremoval/internal/config"
)

const (
	implicitTLSPort = 465
	dialTimeout     = 30 * time.Second
	sessionTimeout  = 2 * time.Minute
)

// SMTPSender opens a fresh connection per message. Port 465 uses implicit
// TLS; every other port connects in plain text and upgrades with STARTTLS.
type SMTPSender struct {
	config  config.SMTPConfig
	now     func() time.Time
	timeout time.Duration // whole SMTP exchange after dialing
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{config: cfg, now: time.Now, timeout: sessionTimeout}
}

func (s *SMTPSender) Name() string { return "smtp" }

func (s *SMTPSender) Send(ctx context.Context, msg Message) Result {
	if s.config.Server == "" {
		return Result{Error: fmt.Errorf("no SMTP server configured")}
	}

	raw, id, err := Compose(msg, s.now())
	if err != nil {
		return Result{Error: err}
	}

	addr := net.JoinHostPort(s.config.Server, strconv.Itoa(s.config.Port))
	client, err := s.dial(ctx, addr)
	if err != nil {
		return Result{Error: sanitizeSMTPError(err)}
	}
	defer client.Close()

	if err := s.deliver(client, msg.From, msg.To, raw); err != nil {
		return Result{Error: sanitizeSMTPError(err)}
	}
	return Result{Success: true, MessageID: id}
}

func (s *SMTPSender) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName: s.config.Server,
		MinVersion: tls.VersionTLS12,
	}
}

func (s *SMTPSender) dial(ctx context.Context, addr string) (*smtp.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if s.config.Port == implicitTLSPort {
		d := &tls.Dialer{Config: s.tlsConfig()}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("TLS connection failed: %w", err)
		}
		return s.newClient(conn)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	client, err := s.newClient(conn)
	if err != nil {
		return nil, err
	}
	if err := client.StartTLS(s.tlsConfig()); err != nil {
		client.Close()
		return nil, fmt.Errorf("STARTTLS failed: %w", err)
	}
	return client, nil
}

// newClient bounds the rest of the session so a stalled server cannot
// hang the run. The deadline carries over to the TLS upgrade.
func (s *SMTPSender) newClient(conn net.Conn) (*smtp.Client, error) {
	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}
	client, err := smtp.NewClient(conn, s.config.Server)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SMTP client creation failed: %w", err)
	}
	return client, nil
}

func (s *SMTPSender) deliver(client *smtp.Client, from, to string, msg []byte) error {
	if s.config.Password != "" {
		auth := smtp.PlainAuth("", s.config.Email, s.config.Password, s.config.Server)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("%w: %v", ErrAuth, err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("sender rejected: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("recipient rejected: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data command failed: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("message write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message finalization failed: %w", err)
	}
	return client.Quit()
}

// sanitizeSMTPError keeps the failure class but drops server chatter that
// may echo credentials back.
func sanitizeSMTPError(err error) error {
	if errors.Is(err, ErrAuth) {
		return ErrAuth
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code == 535 {
		return ErrAuth
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "certificate") {
		return fmt.Errorf("TLS certificate error")
	}
	return err
}
