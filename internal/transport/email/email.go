package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	kit "courier/internal/transport"
	logx "courier/pkg/logx"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
}

// Adapter delivers email over SMTP with optional STARTTLS and AUTH PLAIN.
//
// One SMTP session per Send; the dispatch ctx bounds the whole exchange via
// the connection deadline.
type Adapter struct {
	cfg  Config
	log  logx.Logger
	addr string
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is empty")
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("smtp from address %q: %w", cfg.From, err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	return &Adapter{
		cfg:  cfg,
		log:  log,
		addr: fmt.Sprintf("%s:%d", cfg.Host, port),
	}, nil
}

func (a *Adapter) Name() string { return kit.ChannelEmail }

func (a *Adapter) Send(ctx context.Context, address string, msg kit.Message) (kit.SendResult, error) {
	to, err := mail.ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return kit.SendResult{}, kit.Permanentf("email: bad address %q", address)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", a.addr)
	if err != nil {
		return kit.SendResult{}, err
	}
	// The ctx deadline (per-attempt timeout) bounds the whole SMTP exchange.
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	c, err := smtp.NewClient(conn, a.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return kit.SendResult{}, classify(err)
	}
	defer c.Close()

	if a.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: a.cfg.Host}); err != nil {
				return kit.SendResult{}, classify(err)
			}
		}
	}
	if a.cfg.Username != "" {
		auth := smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.Host)
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(auth); err != nil {
				return kit.SendResult{}, classify(err)
			}
		}
	}

	if err := c.Mail(a.cfg.From); err != nil {
		return kit.SendResult{}, classify(err)
	}
	if err := c.Rcpt(to.Address); err != nil {
		return kit.SendResult{}, classify(err)
	}

	w, err := c.Data()
	if err != nil {
		return kit.SendResult{}, classify(err)
	}
	if _, err := w.Write(render(a.cfg.From, to.Address, msg)); err != nil {
		_ = w.Close()
		return kit.SendResult{}, classify(err)
	}
	if err := w.Close(); err != nil {
		return kit.SendResult{}, classify(err)
	}

	if err := c.Quit(); err != nil {
		// Message is accepted at this point; a failed QUIT is not a delivery failure.
		a.log.Debug("smtp quit failed", logx.Err(err))
	}
	return kit.SendResult{}, nil
}

// render assembles a minimal RFC 5322 message. The body is pre-rendered text;
// composition belongs to the caller.
func render(from, to string, msg kit.Message) []byte {
	var b strings.Builder
	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	if msg.CorrelationID != "" {
		fmt.Fprintf(&b, "X-Correlation-ID: %s\r\n", sanitizeHeader(msg.CorrelationID))
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

// classify maps SMTP protocol errors: permanent negative completion (5xx)
// means the mailbox/session is unusable for this dispatch; 4xx codes are
// transient per RFC 5321.
func classify(err error) error {
	var tp *textproto.Error
	if errors.As(err, &tp) && tp.Code >= 500 {
		return kit.Permanent(err)
	}
	return err
}
