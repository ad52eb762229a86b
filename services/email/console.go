package emailsvc

import (
	"context"
	"fmt"
	"log"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/peereval/core"
)

type consoleService struct {
	from          mail.Address
	std           *log.Logger
	disableOutput bool
}

var _ core.EmailService = (*consoleService)(nil)

// NewConsoleService prints outgoing mail instead of sending it.
func NewConsoleService(conf *core.Config, std *log.Logger) core.EmailService {
	if std == nil {
		std = log.New(os.Stdout, "", log.LstdFlags)
	}
	return &consoleService{
		from: conf.FromEmail(),
		std:  std,
	}
}

func (svc *consoleService) SendMessage(ctx context.Context, msg *core.EmailMessage) error {
	if err := prepare(ctx, msg); err != nil {
		return err
	}
	body, err := svc.format(*msg)
	if err != nil {
		return err
	}
	if !svc.disableOutput {
		svc.std.Println(body)
	}
	return nil
}

func (svc *consoleService) format(msg core.EmailMessage) (string, error) {
	body := new(strings.Builder)

	// Write mail header
	_, _ = fmt.Fprintf(body, "From: %s\r\n", svc.from.String())
	_, _ = fmt.Fprint(body, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(body, "Subject: %s\r\n", msg.Subject)
	_, _ = fmt.Fprintf(body, "To: %s\r\n", core.JoinAddresses(msg.To))

	altW := multipart.NewWriter(body)
	_, _ = fmt.Fprintf(body, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", altW.Boundary())

	w, err := altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return "", errors.Wrap(err, "creating text/plain part")
	}
	_, _ = fmt.Fprintf(w, "%s\r\n", msg.TextContent)
	if err = altW.Close(); err != nil {
		return "", errors.Wrap(err, "closing multipart writer")
	}
	return body.String(), nil
}

// ConsoleServiceMock records messages instead of printing them.
type ConsoleServiceMock struct {
	consoleService

	mu   sync.Mutex
	sent []core.EmailMessage
	// Err, when set, is returned by SendMessage and nothing is recorded.
	Err error
}

func NewConsoleServiceMock(conf *core.Config) *ConsoleServiceMock {
	return &ConsoleServiceMock{
		consoleService: consoleService{
			from:          conf.FromEmail(),
			std:           log.New(os.Stdout, "", 0),
			disableOutput: true,
		},
	}
}

func (svc *ConsoleServiceMock) SendMessage(ctx context.Context, msg *core.EmailMessage) error {
	svc.mu.Lock()
	failure := svc.Err
	svc.mu.Unlock()
	if failure != nil {
		return failure
	}

	if err := svc.consoleService.SendMessage(ctx, msg); err != nil {
		return err
	}
	svc.mu.Lock()
	svc.sent = append(svc.sent, *msg)
	svc.mu.Unlock()
	return nil
}

func (svc *ConsoleServiceMock) SetErr(err error) {
	svc.mu.Lock()
	svc.Err = err
	svc.mu.Unlock()
}

// SentMessages returns a copy of the recorded messages.
func (svc *ConsoleServiceMock) SentMessages() []core.EmailMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]core.EmailMessage(nil), svc.sent...)
}

// LastMessageTo returns the latest message sent to addr.
func (svc *ConsoleServiceMock) LastMessageTo(addr string) (core.EmailMessage, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for i := len(svc.sent) - 1; i >= 0; i-- {
		for _, to := range svc.sent[i].To {
			if strings.EqualFold(to.Address, addr) {
				return svc.sent[i], true
			}
		}
	}
	return core.EmailMessage{}, false
}

func (svc *ConsoleServiceMock) Reset() {
	svc.mu.Lock()
	svc.sent = nil
	svc.Err = nil
	svc.mu.Unlock()
}

var (
	errNoRecipients = errors.New("email has no recipients")
	errNoContent    = errors.New("email has no content")
)

// prepare renders msg and checks it can be sent.
func prepare(ctx context.Context, msg *core.EmailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := msg.Render(); err != nil {
		return errors.Wrap(err, "rendering email")
	}
	if !msg.HasRecipients() {
		return errNoRecipients
	}
	if !msg.HasContent() {
		return errNoContent
	}
	return nil
}
