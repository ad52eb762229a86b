package emailsvc

import (
	"log"

	"github.com/trezcool/peereval/core"
)

// New returns the email service of the configured backend.
func New(conf *core.Config, std *log.Logger) (core.EmailService, error) {
	switch conf.Email.Backend {
	case core.EmailConsole:
		return NewConsoleService(conf, std), nil
	case core.EmailSMTP:
		return NewSMTPService(conf), nil
	case core.EmailSendgrid:
		return NewSendgridService(conf), nil
	}
	return nil, core.NewConfigError("unknown email backend %q", conf.Email.Backend)
}
