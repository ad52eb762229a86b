package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/course"
	"github.com/trezcool/peereval/core/evaluation"
	"github.com/trezcool/peereval/core/roster"
	"github.com/trezcool/peereval/core/session"
)

type (
	jsonApi struct {
		conf       *core.Config
		roster     roster.Provider
		sessSvc    *session.Service
		evalSvc    *evaluation.Service
		validate   *validator.Validate
		translator ut.Translator
	}

	SendCodeRequest struct {
		Name string `json:"name" validate:"required,notblank"`
	}

	SendCodeResponse struct {
		Message string `json:"message"`
	}

	LoginRequest struct {
		Code string `json:"code" validate:"required,notblank"`
	}

	LoginResponse struct {
		Student roster.Student `json:"student"`
	}

	RosterResponse struct {
		Names []string `json:"names"`
	}

	EvaluationFormResponse struct {
		Course    course.Course    `json:"course"`
		Evaluator roster.Student   `json:"evaluator"`
		Members   []roster.Student `json:"members"`
	}

	SubmitRequest struct {
		Peers []evaluation.PeerInput `json:"peers" validate:"required,dive"`
	}

	SubmitResponse struct {
		Rows []evaluation.Row `json:"rows"`
	}
)

func registerAPIRoutes(g *echo.Group, authed echo.MiddlewareFunc, deps ServerDeps) {
	api := jsonApi{
		conf:       deps.Conf,
		roster:     deps.Roster,
		sessSvc:    deps.SessionSvc,
		evalSvc:    deps.EvaluationSvc,
		validate:   deps.Validate,
		translator: deps.Translator,
	}

	// un-authed endpoints
	g.GET("/roster", api.rosterNames)
	g.POST("/login/code", api.sendCode)
	g.POST("/login", api.login)
	g.POST("/logout", api.logout)

	// authed endpoints
	eg := g.Group("/evaluation", authed)
	eg.GET("", api.evaluationForm)
	eg.POST("", api.submit)
}

// Handlers

func (api *jsonApi) rosterNames(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, RosterResponse{Names: api.roster.Current().Names()})
}

func (api *jsonApi) sendCode(ctx echo.Context) error {
	var data SendCodeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SendCodeRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}

	student, err := api.sessSvc.SendCode(ctx.Request().Context(), sess, data.Name)
	if err != nil {
		return errors.Wrap(err, "sending code")
	}
	return ctx.JSON(http.StatusOK, SendCodeResponse{Message: "Code sent to " + student.Email})
}

func (api *jsonApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}

	student, err := api.sessSvc.Login(sess, data.Code)
	if err != nil {
		return errors.Wrap(err, "logging in")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Student: student})
}

func (api *jsonApi) logout(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	fresh := api.sessSvc.Logout(sess)
	if err = setSessionCookie(ctx, api.conf, fresh); err != nil {
		return errors.Wrap(err, "setting session cookie")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *jsonApi) evaluationForm(ctx echo.Context) error {
	usr, members, err := api.evaluator(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, EvaluationFormResponse{
		Course:    api.evalSvc.Course(),
		Evaluator: usr,
		Members:   members,
	})
}

func (api *jsonApi) submit(ctx echo.Context) error {
	var data SubmitRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	usr, members, err := api.evaluator(ctx)
	if err != nil {
		return err
	}

	rows, err := api.evalSvc.Submit(ctx.Request().Context(), usr, members, data.Peers)
	if err != nil {
		return errors.Wrap(err, "submitting evaluation")
	}
	return ctx.JSON(http.StatusCreated, SubmitResponse{Rows: rows})
}

func (api *jsonApi) evaluator(ctx echo.Context) (roster.Student, []roster.Student, error) {
	sess, err := getContextSession(ctx)
	if err != nil {
		return roster.Student{}, nil, err
	}
	usr, ok := sess.User()
	if !ok {
		return roster.Student{}, nil, errUnauthorized
	}
	return usr, api.roster.Current().GroupMembers(usr.Group), nil
}
