package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/peereval/apps/api/echo"
	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/evaluation"
	"github.com/trezcool/peereval/core/roster"
	"github.com/trezcool/peereval/core/session"
	"github.com/trezcool/peereval/services/email"
	"github.com/trezcool/peereval/storage/database/inmem"
	"github.com/trezcool/peereval/tests"
)

const sessionCookie = "peereval_session"

var codeRe = regexp.MustCompile(`Your Code is: (\d{6})`)

type testApp struct {
	Server
	mailSvc *emailsvc.ConsoleServiceMock
	evalSvc *evaluation.Service
}

type setupOptions struct {
	repo evaluation.Repository
}

func setup(t *testing.T, opts ...setupOptions) *testApp {
	t.Helper()
	conf := testutil.Config()
	crs := testutil.Course()
	core.ParseEmailTemplates(conf.AppName, testutil.NopLogger{})

	var repo evaluation.Repository
	if len(opts) > 0 && opts[0].repo != nil {
		repo = opts[0].repo
	} else {
		repo = evaluation.NewTableRepository(inmemdb.NewResultsTable(), crs.Criteria)
	}

	rstr := testutil.Roster()
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	sessSvc := session.NewService(session.NewStore(conf.Server.SessionTTL), rstr, mailSvc, session.Options{})
	evalSvc := evaluation.NewService(repo, crs, conf.Results.MaxConflictRetries)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)

	srv := NewServer(ServerDeps{
		Conf:           conf,
		Logger:         testutil.NopLogger{},
		Roster:         rstr,
		SessionSvc:     sessSvc,
		EvaluationSvc:  evalSvc,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testApp{Server: srv, mailSvc: mailSvc, evalSvc: evalSvc}
}

// client plays the part of a browser: it keeps the session cookie between requests.
type client struct {
	t      *testing.T
	app    *testApp
	cookie *http.Cookie
}

func (app *testApp) newClient(t *testing.T) *client {
	return &client{t: t, app: app}
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.app.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == sessionCookie {
			c.cookie = ck
		}
	}
	return rec
}

func (c *client) get(path string) *httptest.ResponseRecorder {
	return c.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (c *client) postJSON(path string, data []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *client) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// lastCode returns the code most recently mailed to student.
func (c *client) lastCode(student roster.Student) string {
	c.t.Helper()
	msg, ok := c.app.mailSvc.LastMessageTo(student.Email)
	if !ok {
		c.t.Fatalf("no code sent to %s", student.Email)
	}
	m := codeRe.FindStringSubmatch(msg.TextContent)
	if len(m) != 2 {
		c.t.Fatalf("no code in %q", msg.TextContent)
	}
	return m[1]
}

// apiLogin logs student in through the JSON API.
func (c *client) apiLogin(student roster.Student) {
	c.t.Helper()
	if rec := c.postJSON("/api/v1/login/code", marshallObj(c.t, SendCodeRequest{Name: student.Name})); rec.Code != http.StatusOK {
		c.t.Fatalf("send code: %d %s", rec.Code, rec.Body.String())
	}
	if rec := c.postJSON("/api/v1/login", marshallObj(c.t, LoginRequest{Code: c.lastCode(student)})); rec.Code != http.StatusOK {
		c.t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
}

// webLogin logs student in through the HTML forms.
func (c *client) webLogin(student roster.Student) {
	c.t.Helper()
	if rec := c.postForm("/login/code", url.Values{"name": {student.Name}}); rec.Code != http.StatusOK {
		c.t.Fatalf("send code: %d %s", rec.Code, rec.Body.String())
	}
	if rec := c.postForm("/login", url.Values{"code": {c.lastCode(student)}}); rec.Code != http.StatusSeeOther {
		c.t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	wantCode int
	wantData []byte
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ObjectsAreEqualValues(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
