package echoapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/course"
	"github.com/trezcool/peereval/core/evaluation"
	"github.com/trezcool/peereval/core/roster"
	"github.com/trezcool/peereval/core/session"
)

type (
	webApp struct {
		conf    *core.Config
		logger  core.Logger
		roster  roster.Provider
		sessSvc *session.Service
		evalSvc *evaluation.Service
	}

	loginPage struct {
		basePage
		Names    []string
		Selected string
		Message  string
		Error    string
	}

	scoreInput struct {
		Criterion string
		Field     string
		Value     int
		Warn      bool
	}

	memberBlock struct {
		Student      roster.Student
		Self         bool
		Scores       []scoreInput
		CommentField string
		Comment      string
		Overall      float64
		OverallOK    bool
		Error        string
	}

	evaluationPage struct {
		basePage
		Notice    []string
		User      roster.Student
		Members   []memberBlock
		Min       int
		Max       int
		Step      int
		WarnBelow float64
		Error     string
	}

	successPage struct {
		basePage
		User  roster.Student
		Count int
	}
)

func registerWebRoutes(e *echo.Echo, sessions, authed echo.MiddlewareFunc, deps ServerDeps) {
	app := webApp{
		conf:    deps.Conf,
		logger:  deps.Logger,
		roster:  deps.Roster,
		sessSvc: deps.SessionSvc,
		evalSvc: deps.EvaluationSvc,
	}

	g := e.Group("", sessions)
	g.GET("/", app.loginForm)
	g.POST("/login/code", app.sendCode)
	g.POST("/login", app.login)
	g.POST("/logout", app.logout)

	ag := g.Group("/evaluation", authed)
	ag.GET("", app.evaluationForm)
	ag.POST("", app.submit)
}

func (app *webApp) course() course.Course { return app.evalSvc.Course() }

func (app *webApp) newLoginPage() *loginPage {
	return &loginPage{
		basePage: basePage{Title: app.course().Title},
		Names:    app.roster.Current().Names(),
	}
}

func (app *webApp) loginForm(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	if _, ok := sess.User(); ok {
		return ctx.Redirect(http.StatusSeeOther, "/evaluation")
	}
	page := app.newLoginPage()
	if pending, ok := sess.Pending(); ok {
		page.Selected = pending.Name
	}
	return ctx.Render(http.StatusOK, tmplLogin, page)
}

func (app *webApp) sendCode(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	if _, ok := sess.User(); ok {
		return ctx.Redirect(http.StatusSeeOther, "/evaluation")
	}

	page := app.newLoginPage()
	page.Selected = core.CleanString(ctx.FormValue("name"))
	if page.Selected == "" {
		page.Error = "Please select your name."
		return ctx.Render(http.StatusBadRequest, tmplLogin, page)
	}

	student, err := app.sessSvc.SendCode(ctx.Request().Context(), sess, page.Selected)
	if err != nil {
		var authErr *session.AuthError
		if errors.As(err, &authErr) {
			page.Error = authErr.Error()
			return ctx.Render(http.StatusBadRequest, tmplLogin, page)
		}
		return errors.Wrap(err, "sending code")
	}
	page.Message = "Code sent to " + student.Email
	return ctx.Render(http.StatusOK, tmplLogin, page)
}

func (app *webApp) login(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	if _, err = app.sessSvc.Login(sess, ctx.FormValue("code")); err != nil {
		var authErr *session.AuthError
		if errors.As(err, &authErr) {
			page := app.newLoginPage()
			if pending, ok := sess.Pending(); ok {
				page.Selected = pending.Name
			}
			page.Error = authErr.Error()
			return ctx.Render(http.StatusBadRequest, tmplLogin, page)
		}
		return errors.Wrap(err, "logging in")
	}
	return ctx.Redirect(http.StatusSeeOther, "/evaluation")
}

func (app *webApp) logout(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	fresh := app.sessSvc.Logout(sess)
	if err = setSessionCookie(ctx, app.conf, fresh); err != nil {
		return errors.Wrap(err, "setting session cookie")
	}
	return ctx.Redirect(http.StatusSeeOther, "/")
}

func (app *webApp) evaluationForm(ctx echo.Context) error {
	usr, members, err := app.evaluator(ctx)
	if err != nil {
		return err
	}
	page := app.newEvaluationPage(usr, members, nil)
	return ctx.Render(http.StatusOK, tmplEvaluation, page)
}

func (app *webApp) submit(ctx echo.Context) error {
	usr, members, err := app.evaluator(ctx)
	if err != nil {
		return err
	}

	inputs, fldErrs := parseEvaluationForm(ctx, members, app.course())
	page := app.newEvaluationPage(usr, members, inputs)
	if len(fldErrs) > 0 {
		page.setFieldErrors(fldErrs)
		page.Error = "Please correct the highlighted scores."
		return ctx.Render(http.StatusBadRequest, tmplEvaluation, page)
	}

	rows, err := app.evalSvc.Submit(ctx.Request().Context(), usr, members, inputs)
	if err != nil {
		switch origErr := errors.Cause(err).(type) {
		case *core.ValidationError:
			page.setFieldErrors(origErr.Fields)
			page.Error = origErr.Error()
			return ctx.Render(http.StatusBadRequest, tmplEvaluation, page)
		case *evaluation.StoreFailure:
			page.Error = storeFailureText
			app.logger.Error(fmt.Sprintf("saving evaluation: %v", origErr), origErr, usr)
			return ctx.Render(http.StatusServiceUnavailable, tmplEvaluation, page)
		}
		return errors.Wrap(err, "submitting evaluation")
	}

	return ctx.Render(http.StatusOK, tmplSuccess, &successPage{
		basePage: basePage{Title: app.course().Title},
		User:     usr,
		Count:    len(rows),
	})
}

// evaluator returns the logged in student and their group, self included, in roster order.
func (app *webApp) evaluator(ctx echo.Context) (roster.Student, []roster.Student, error) {
	sess, err := getContextSession(ctx)
	if err != nil {
		return roster.Student{}, nil, err
	}
	usr, ok := sess.User()
	if !ok {
		return roster.Student{}, nil, errUnauthorized
	}
	return usr, app.roster.Current().GroupMembers(usr.Group), nil
}

// newEvaluationPage fills the form with inputs, or with the maximum score when inputs is nil.
func (app *webApp) newEvaluationPage(usr roster.Student, members []roster.Student, inputs []evaluation.PeerInput) *evaluationPage {
	crs := app.course()
	byPeer := make(map[string]evaluation.PeerInput, len(inputs))
	for _, in := range inputs {
		byPeer[in.PeerID] = in
	}

	page := &evaluationPage{
		basePage:  basePage{Title: crs.Title},
		Notice:    paragraphs(crs.Notice),
		User:      usr,
		Members:   make([]memberBlock, 0, len(members)),
		Min:       course.MinScore,
		Max:       course.MaxScore,
		Step:      crs.ScoreStep,
		WarnBelow: crs.WarnBelow,
	}
	for _, m := range members {
		in, ok := byPeer[m.ID]
		blk := memberBlock{
			Student:      m,
			Self:         m.ID == usr.ID,
			Scores:       make([]scoreInput, len(crs.Criteria)),
			CommentField: commentField(m.ID),
			Comment:      in.Comment,
		}
		scores := make([]int, len(crs.Criteria))
		for i, cr := range crs.Criteria {
			v := course.MaxScore
			if ok && i < len(in.Scores) {
				v = in.Scores[i]
			}
			scores[i] = v
			blk.Scores[i] = scoreInput{Criterion: cr, Field: scoreField(m.ID, i), Value: v, Warn: crs.Warn(float64(v))}
		}
		blk.Overall = evaluation.Overall(scores)
		blk.OverallOK = !crs.Warn(blk.Overall)
		page.Members = append(page.Members, blk)
	}
	return page
}

func (page *evaluationPage) setFieldErrors(fldErrs []core.FieldError) {
	byPeer := make(map[string][]string, len(fldErrs))
	for _, fe := range fldErrs {
		byPeer[fe.Field] = append(byPeer[fe.Field], fe.Error)
	}
	for i := range page.Members {
		if msgs, ok := byPeer[page.Members[i].Student.ID]; ok {
			page.Members[i].Error = strings.Join(msgs, "; ")
		}
	}
}

// parseEvaluationForm reads one score per criterion and a comment for every member.
// Unreadable scores are reported per member and replaced by the maximum score.
func parseEvaluationForm(ctx echo.Context, members []roster.Student, crs course.Course) ([]evaluation.PeerInput, []core.FieldError) {
	inputs := make([]evaluation.PeerInput, 0, len(members))
	var fldErrs []core.FieldError
	for _, m := range members {
		in := evaluation.PeerInput{
			PeerID:  m.ID,
			Scores:  make([]int, len(crs.Criteria)),
			Comment: core.CleanString(ctx.FormValue(commentField(m.ID))),
		}
		for i, cr := range crs.Criteria {
			raw := core.CleanString(ctx.FormValue(scoreField(m.ID, i)))
			v, err := strconv.Atoi(raw)
			if err != nil {
				fldErrs = append(fldErrs, core.FieldError{Field: m.ID, Error: fmt.Sprintf("%s: %q is not a whole number", cr, raw)})
				v = course.MaxScore
			}
			in.Scores[i] = v
		}
		inputs = append(inputs, in)
	}
	return inputs, fldErrs
}

func scoreField(peerID string, criterion int) string {
	return "score-" + peerID + "-" + strconv.Itoa(criterion)
}

func commentField(peerID string) string {
	return "comment-" + peerID
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = core.CleanString(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
