package core

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"

	"github.com/trezcool/peereval/fs"
)

var (
	templates   map[string]*texttmpl.Template // {name: *Template}
	tmplAppName string
	tmplInit    sync.Once

	errTemplateNotFound = errors.New("email template not found")
)

type (
	EmailMessage struct {
		To      []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
	}

	ContextData struct {
		AppName string
		Data    interface{}
	}

	// EmailService is any service that can send emails.
	// A nil error means the message was accepted by the outgoing relay.
	EmailService interface {
		SendMessage(ctx context.Context, msg *EmailMessage) error
	}
)

func (m *EmailMessage) getContextData() ContextData {
	return ContextData{
		AppName: tmplAppName,
		Data:    m.TemplateData,
	}
}

// Render fills TextContent from BodyStr or from the named template.
func (m *EmailMessage) Render() error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
		return nil
	} else if m.TemplateName == "" {
		return nil
	}

	tmplInit.Do(func() { parseTemplates("") }) // no-op when ParseEmailTemplates ran first
	tmpl, ok := templates[m.TemplateName]
	if !ok {
		return errors.Wrap(errTemplateNotFound, m.TemplateName)
	}

	var buff bytes.Buffer
	if err := tmpl.Execute(&buff, m.getContextData()); err != nil {
		return errors.Wrap(err, "executing template "+m.TemplateName)
	}
	m.TextContent = buff.String()
	return nil
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return m.TextContent != "" }

// JoinAddresses formats addrs as a mail header value.
func JoinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}

// ParseEmailTemplates loads the embedded email templates once.
func ParseEmailTemplates(appName string, logger Logger) {
	tmplInit.Do(func() {
		if err := parseTemplates(appName); err != nil {
			logger.Error(fmt.Sprintf("parsing email templates: %v", err), err)
		}
	})
}

func parseTemplates(appName string) error {
	templates = make(map[string]*texttmpl.Template)
	tmplAppName = appName

	root := path.Join("assets", "templates", "email")
	fps, err := appfs.FS.ReadDir(root)
	if err != nil {
		return errors.Wrap(err, "reading "+root)
	}
	for _, fp := range fps {
		fname := fp.Name()
		if fp.IsDir() || strings.HasPrefix(fname, "_") || path.Ext(fname) != ".txt" {
			continue
		}
		tmpl, err := texttmpl.ParseFS(appfs.FS, path.Join(root, fname))
		if err != nil {
			return errors.Wrap(err, "parsing "+fname)
		}
		templates[strings.TrimSuffix(fname, ".txt")] = tmpl.Option("missingkey=error")
	}
	return nil
}
