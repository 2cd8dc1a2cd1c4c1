// Package transport contains delivery transports for the send worker pool.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/logger"
	"github.com/ignite/mailqueue/internal/worker"
)

// SMTPConfig holds the relay connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// HELOHost is the hostname announced to the relay. Defaults to Host.
	HELOHost string
}

// SMTPTransport delivers queued messages through an SMTP relay.
// Permanent rejections (5xx replies) surface as domain.PermanentError so
// the queue fails them without retry; everything else is transient.
type SMTPTransport struct {
	cfg SMTPConfig
	log *logger.Logger
}

// NewSMTP creates an SMTP transport for the given relay.
func NewSMTP(cfg SMTPConfig) *SMTPTransport {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.HELOHost == "" {
		cfg.HELOHost = cfg.Host
	}
	return &SMTPTransport{cfg: cfg, log: logger.With("smtp")}
}

// Name identifies the transport in events and queue rows.
func (t *SMTPTransport) Name() string { return "smtp" }

// Send performs one SMTP transaction for the item.
func (t *SMTPTransport) Send(ctx context.Context, item *domain.QueueItem) (*worker.SendResult, error) {
	if t.cfg.Host == "" {
		return nil, fmt.Errorf("smtp host not configured")
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), t.cfg.HELOHost)
	msg := buildMessage(&item.Payload, messageID)

	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	resp, err := t.transact(ctx, addr, item.Payload.From.Email, item.Payload.Recipient.Email, msg)
	if err != nil {
		return nil, classify(err)
	}

	t.log.Debug("message accepted", "recipient", item.Payload.Recipient.Email, "message_id", messageID)
	return &worker.SendResult{MessageID: messageID, Response: resp}, nil
}

// buildMessage renders RFC 5322 headers plus a multipart/alternative body.
func buildMessage(p *domain.MessagePayload, messageID string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", p.From.Formatted())
	fmt.Fprintf(&buf, "To: %s\r\n", p.Recipient.Formatted())
	fmt.Fprintf(&buf, "Subject: %s\r\n", p.Subject)
	fmt.Fprintf(&buf, "Message-ID: <%s>\r\n", messageID)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	if p.ReplyTo != nil {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", p.ReplyTo.Formatted())
	}
	for k, v := range p.Headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}

	boundary := fmt.Sprintf("=_%s", uuid.New().String()[:16])
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	buf.WriteString("\r\n")

	if p.TextBody != "" {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		buf.WriteString(p.TextBody)
		buf.WriteString("\r\n")
	}
	if p.HTMLBody != "" {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		buf.WriteString(p.HTMLBody)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

// transact runs the SMTP conversation. If AUTH fails it reconnects without
// AUTH since private relays often run open on the submission port.
func (t *SMTPTransport) transact(ctx context.Context, addr, from, to string, msg []byte) (string, error) {
	dialAndSetup := func(tryAuth bool) (*smtp.Client, error) {
		dialer := &net.Dialer{Timeout: 30 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("smtp connect to %s: %w", addr, err)
		}
		c, err := smtp.NewClient(conn, t.cfg.HELOHost)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("smtp client: %w", err)
		}
		if ok, _ := c.Extension("STARTTLS"); ok {
			tlsCfg := &tls.Config{ServerName: t.cfg.Host}
			if tlsErr := c.StartTLS(tlsCfg); tlsErr != nil {
				t.log.Warn("STARTTLS failed, continuing without TLS", "error", tlsErr)
			}
		}
		if tryAuth && t.cfg.Username != "" {
			if authErr := c.Auth(&plainAuth{user: t.cfg.Username, pass: t.cfg.Password}); authErr != nil {
				c.Close()
				return nil, authErr
			}
		}
		return c, nil
	}

	client, err := dialAndSetup(t.cfg.Username != "")
	if err != nil && t.cfg.Username != "" {
		t.log.Warn("AUTH failed, retrying without AUTH", "error", err)
		client, err = dialAndSetup(false)
	}
	if err != nil {
		return "", fmt.Errorf("smtp setup: %w", err)
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		return "", fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return "", fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("DATA close: %w", err)
	}
	if err := client.Quit(); err != nil {
		t.log.Debug("QUIT failed after accepted message", "error", err)
	}
	return "250 accepted", nil
}

// classify maps SMTP 5xx replies to permanent failures.
func classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 && tpErr.Code < 600 {
		return &domain.PermanentError{Reason: fmt.Sprintf("%d %s", tpErr.Code, tpErr.Msg)}
	}
	return err
}

// plainAuth implements smtp.Auth without the TLS requirement stdlib's
// PlainAuth enforces. Relays on private networks often skip TLS on the
// submission port.
type plainAuth struct {
	user, pass string
}

func (a *plainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.user + "\x00" + a.pass), nil
}

func (a *plainAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	return nil, nil
}
