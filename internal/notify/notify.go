// Package notify delivers OTP codes to share recipients.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/wneessen/go-mail"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/domain"
)

var (
	_ app.Notifier = (*LogNotifier)(nil)
	_ app.Notifier = (*SMTPNotifier)(nil)
)

// LogNotifier writes codes to the log. It is meant for development only.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) SendOTP(_ context.Context, recipient string, _ domain.Token, ch domain.OTPChallenge) error {
	l := n.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Warn("otp issued (log notifier)", "domain", "notify", "recipient", recipient, "code", ch.Code, "expires_at", ch.ExpiresAt)
	return nil
}

// SMTPConfig configures SMTPNotifier.
type SMTPConfig struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
	BaseURL  string        // used to render the share link in the message
	Timeout  time.Duration // bounds one whole delivery, dial included
}

const defaultSMTPTimeout = 10 * time.Second

// SMTPNotifier mails codes through an SMTP relay.
type SMTPNotifier struct {
	cfg  SMTPConfig
	host string
	port int
	send func(ctx context.Context, m *mail.Msg) error
}

// NewSMTP returns an SMTP notifier.
func NewSMTP(cfg SMTPConfig) (*SMTPNotifier, error) {
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, errors.Wrap(err, "smtp addr")
	}
	if host == "" || cfg.From == "" {
		return nil, errors.New("smtp host and from address are required")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, errors.Errorf("smtp port %q", portStr)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	n := &SMTPNotifier{cfg: cfg, host: host, port: port}
	n.send = n.dialAndSend
	return n, nil
}

func (n *SMTPNotifier) SendOTP(ctx context.Context, recipient string, token domain.Token, ch domain.OTPChallenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(recipient, "\r\n") {
		return errors.New("invalid recipient")
	}
	m, err := n.message(recipient, token, ch)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()
	if err := n.send(ctx, m); err != nil {
		return errors.Wrap(err, "send mail")
	}
	return nil
}

func (n *SMTPNotifier) dialAndSend(ctx context.Context, m *mail.Msg) error {
	opts := []mail.Option{
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(n.cfg.Timeout),
		mail.WithDialContextFunc(deadlineDial),
		mail.WithPort(n.port),
	}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}
	client, err := mail.NewClient(n.host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, m)
}

// deadlineDial dials under ctx and carries its deadline onto the connection,
// so a relay that accepts and then stalls cannot hold the caller.
func deadlineDial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(dl); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (n *SMTPNotifier) message(recipient string, token domain.Token, ch domain.OTPChallenge) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(n.cfg.From); err != nil {
		return nil, errors.Wrap(err, "from address")
	}
	if err := m.To(recipient); err != nil {
		return nil, errors.Wrap(err, "recipient")
	}
	m.Subject("Your download code")
	m.SetDate()

	var b strings.Builder
	fmt.Fprintf(&b, "Your one-time code is %s.\r\n", ch.Code)
	if n.cfg.BaseURL != "" {
		fmt.Fprintf(&b, "Use it to download %s/%s\r\n", strings.TrimRight(n.cfg.BaseURL, "/"), token)
	}
	fmt.Fprintf(&b, "It expires at %s.\r\n", ch.ExpiresAt.UTC().Format(time.RFC1123))
	m.SetBodyString(mail.TypeTextPlain, b.String())
	return m, nil
}
