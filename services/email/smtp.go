package emailsvc

import (
	"context"

	"github.com/pkg/errors"
	"gopkg.in/gomail.v2"

	"github.com/trezcool/peereval/core"
)

// implicit TLS port; other ports negotiate STARTTLS
const smtpsPort = 465

type smtpService struct {
	dialer *gomail.Dialer
	from   string
}

var _ core.EmailService = (*smtpService)(nil)

// NewSMTPService sends mail through an authenticated SMTP relay.
func NewSMTPService(conf *core.Config) core.EmailService {
	d := gomail.NewDialer(conf.Email.Host, conf.Email.Port, conf.Email.Username, conf.Email.Password)
	d.SSL = conf.Email.Port == smtpsPort
	from := conf.FromEmail()
	return &smtpService{
		dialer: d,
		from:   from.String(),
	}
}

func (svc *smtpService) SendMessage(ctx context.Context, msg *core.EmailMessage) error {
	if err := prepare(ctx, msg); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", svc.from)
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, m.FormatAddress(addr.Address, addr.Name))
	}
	m.SetHeader("To", to...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.TextContent)

	// gomail has no context support; a cancelled request still waits for the relay.
	if err := svc.dialer.DialAndSend(m); err != nil {
		return errors.Wrap(err, "sending email")
	}
	return nil
}
