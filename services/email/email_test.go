package emailsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/mail"
	"testing"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trezcool/peereval/core"
)

func testConfig() *core.Config {
	conf := &core.Config{AppName: "Peer Eval", TestMode: true}
	conf.Email.Backend = core.EmailConsole
	conf.Email.From = "noreply@test.ca"
	return conf
}

func codeMessage() *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Name: "Alice Ampere", Address: "alice@test.ca"}},
		Subject:      "Peer Eval Login Code",
		TemplateName: "login_code",
		TemplateData: map[string]string{"Code": "123456"},
	}
}

func TestNew(t *testing.T) {
	for _, backend := range []string{core.EmailConsole, core.EmailSMTP, core.EmailSendgrid} {
		conf := testConfig()
		conf.Email.Backend = backend
		svc, err := New(conf, nil)
		require.NoError(t, err, backend)
		assert.NotNil(t, svc, backend)
	}

	conf := testConfig()
	conf.Email.Backend = "pigeon"
	_, err := New(conf, nil)
	assert.True(t, core.IsConfigError(err))
}

func TestConsoleService(t *testing.T) {
	var buf bytes.Buffer
	svc := NewConsoleService(testConfig(), log.New(&buf, "", 0))

	require.NoError(t, svc.SendMessage(context.Background(), codeMessage()))
	out := buf.String()
	assert.Contains(t, out, `From: "Peer Eval" <noreply@test.ca>`)
	assert.Contains(t, out, "Subject: Peer Eval Login Code")
	assert.Contains(t, out, `To: "Alice Ampere" <alice@test.ca>`)
	assert.Contains(t, out, "Content-Type: multipart/alternative; boundary=")
	assert.Contains(t, out, "Your Code is: 123456")
}

func TestPrepare_errors(t *testing.T) {
	svc := NewConsoleService(testConfig(), log.New(&bytes.Buffer{}, "", 0))

	tests := []struct {
		name    string
		ctx     func() context.Context
		msg     *core.EmailMessage
		wantErr error
	}{
		{
			name:    "no recipients",
			msg:     &core.EmailMessage{BodyStr: "hi"},
			wantErr: errNoRecipients,
		},
		{
			name:    "no content",
			msg:     &core.EmailMessage{To: []mail.Address{{Address: "a@test.ca"}}},
			wantErr: errNoContent,
		},
		{
			name: "cancelled",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			msg:     codeMessage(),
			wantErr: context.Canceled,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.ctx != nil {
				ctx = tc.ctx()
			}
			assert.Equal(t, tc.wantErr, errors.Cause(svc.SendMessage(ctx, tc.msg)))
		})
	}

	msg := codeMessage()
	msg.TemplateName = "nope"
	assert.Error(t, svc.SendMessage(context.Background(), msg))
}

func TestConsoleServiceMock(t *testing.T) {
	svc := NewConsoleServiceMock(testConfig())
	ctx := context.Background()

	require.NoError(t, svc.SendMessage(ctx, codeMessage()))
	msg, ok := svc.LastMessageTo("ALICE@test.ca")
	require.True(t, ok)
	assert.Contains(t, msg.TextContent, "123456")
	_, ok = svc.LastMessageTo("bob@test.ca")
	assert.False(t, ok)

	relayErr := errors.New("relay down")
	svc.SetErr(relayErr)
	assert.Equal(t, relayErr, svc.SendMessage(ctx, codeMessage()))
	assert.Len(t, svc.SentMessages(), 1)

	svc.Reset()
	assert.Empty(t, svc.SentMessages())
	assert.NoError(t, svc.SendMessage(ctx, codeMessage()))
}

func TestSendgridService(t *testing.T) {
	var got rest.Request
	mock := func(status int, err error) func(rest.Request) (*rest.Response, error) {
		return func(req rest.Request) (*rest.Response, error) {
			got = req
			if err != nil {
				return nil, err
			}
			return &rest.Response{StatusCode: status, Body: `{"errors": []}`}, nil
		}
	}
	origAPI := sendgridAPI
	defer func() { sendgridAPI = origAPI }()

	conf := testConfig()
	conf.Email.SendgridAPIKey = "SG.test"
	svc := NewSendgridService(conf)
	ctx := context.Background()

	sendgridAPI = mock(http.StatusAccepted, nil)
	require.NoError(t, svc.SendMessage(ctx, codeMessage()))
	assert.Equal(t, rest.Method(http.MethodPost), got.Method)
	assert.Equal(t, "https://api.sendgrid.com/v3/mail/send", got.BaseURL)
	assert.Equal(t, "Bearer SG.test", got.Headers["Authorization"])

	var body struct {
		From struct {
			Email string `json:"email"`
		} `json:"from"`
		Personalizations []struct {
			To []struct {
				Email string `json:"email"`
			} `json:"to"`
			Subject string `json:"subject"`
		} `json:"personalizations"`
		Content []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(got.Body, &body))
	assert.Equal(t, "noreply@test.ca", body.From.Email)
	require.Len(t, body.Personalizations, 1)
	assert.Equal(t, "alice@test.ca", body.Personalizations[0].To[0].Email)
	assert.Equal(t, "Peer Eval Login Code", body.Personalizations[0].Subject)
	require.Len(t, body.Content, 1)
	assert.Contains(t, body.Content[0].Value, "Your Code is: 123456")

	sendgridAPI = mock(http.StatusUnauthorized, nil)
	err := svc.SendMessage(ctx, codeMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 401")

	sendgridAPI = mock(0, errors.New("connection refused"))
	assert.Error(t, svc.SendMessage(ctx, codeMessage()))
}

func TestSMTPService_unreachable(t *testing.T) {
	defer goleak.VerifyNone(t)

	// grab a free port and close it so that dialing fails fast
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	conf := testConfig()
	conf.Email.Backend = core.EmailSMTP
	conf.Email.Host = "127.0.0.1"
	conf.Email.Port = port
	conf.Email.Username = "relay"
	conf.Email.Password = "secret"

	svc := NewSMTPService(conf)
	assert.False(t, svc.(*smtpService).dialer.SSL)
	err = svc.SendMessage(context.Background(), codeMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sending email")

	conf.Email.Port = smtpsPort
	assert.True(t, NewSMTPService(conf).(*smtpService).dialer.SSL)
}
