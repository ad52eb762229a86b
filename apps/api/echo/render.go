package echoapi

import (
	"html/template"
	"io"
	"path"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/peereval/fs"
)

// Page templates
const (
	tmplLogin      = "login"
	tmplEvaluation = "evaluation"
	tmplSuccess    = "success"
	tmplError      = "error"
)

type renderer struct {
	appName string
	once    sync.Once
	tmpl    *template.Template
	err     error
}

var _ echo.Renderer = (*renderer)(nil)

func newRenderer(appName string) *renderer {
	return &renderer{appName: appName}
}

func (r *renderer) parse() {
	pattern := path.Join("assets", "templates", "web", "*.gohtml")
	r.tmpl, r.err = template.New("web").Option("missingkey=error").ParseFS(appfs.FS, pattern)
	if r.err != nil {
		r.err = errors.Wrap(r.err, "parsing web templates")
	}
}

func (r *renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	r.once.Do(r.parse)
	if r.err != nil {
		return r.err
	}
	if p, ok := data.(titled); ok && p.title() == "" {
		p.setTitle(r.appName)
	}
	return r.tmpl.ExecuteTemplate(w, name, data)
}

type titled interface {
	title() string
	setTitle(string)
}

// basePage carries what the layout needs.
type basePage struct {
	Title string
}

func (p *basePage) title() string      { return p.Title }
func (p *basePage) setTitle(t string) { p.Title = t }

type errorPage struct {
	basePage
	Code    int
	Message string
}
