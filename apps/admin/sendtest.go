package main

import (
	"log"
	"net/mail"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/peereval/apps"
	"github.com/trezcool/peereval/core"
	emailsvc "github.com/trezcool/peereval/services/email"
)

var newMailerFunc = emailsvc.New // mockable

func (cli *commandLine) sendTestCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "sendtest ADDRESS",
		Short: "Send a test message through the configured email backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := mail.ParseAddress(args[0])
			if err != nil {
				return apps.NewArgumentError("invalid address: " + args[0])
			}
			if name != "" {
				addr.Name = name
			}
			return cli.sendTest(cmd, *addr)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "recipient name")
	return cmd
}

func (cli *commandLine) sendTest(cmd *cobra.Command, to mail.Address) error {
	if err := cli.conf.Validate(); err != nil {
		return err
	}
	mailSvc, err := newMailerFunc(cli.conf, log.New(cli.out, "", 0))
	if err != nil {
		return err
	}
	core.ParseEmailTemplates(cli.conf.AppName, cli.logger)

	name := to.Name
	if name == "" {
		name = to.Address
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{to},
		Subject:      cli.conf.AppName + " test message",
		TemplateName: "test_message",
		TemplateData: map[string]string{"Name": name},
	}
	if err = mailSvc.SendMessage(cmd.Context(), msg); err != nil {
		return errors.Wrap(err, "sending test message")
	}
	cmd.Printf("test message sent to %s via %s\n", to.Address, cli.conf.Email.Backend)
	return nil
}
