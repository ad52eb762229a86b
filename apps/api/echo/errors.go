package echoapi

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/evaluation"
	"github.com/trezcool/peereval/core/roster"
	"github.com/trezcool/peereval/core/session"
)

var (
	errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
	errNoSession    = errors.New("session not found in echo.Context")
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
// API requests get JSON; browser requests get the error page.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		case *session.AuthError:
			code = http.StatusBadRequest
			if origErr.Suggestion != "" {
				message = echo.Map{"error": origErr.Error(), "suggestion": origErr.Suggestion}
			} else {
				message = origErr.Error()
			}
		case *evaluation.StoreFailure:
			code = http.StatusServiceUnavailable
			message = storeFailureText
			logger.Error(fmt.Sprintf("results store: %v", origErr), origErr, contextUser(ctx))
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, errors.Wrap(err, msg), contextUser(ctx))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}

		// Send response
		if ctx.Response().Committed {
			return
		}
		if ctx.Request().Method == http.MethodHead { // Issue #608
			err = ctx.NoContent(code)
		} else if isAPIRequest(ctx) {
			if m, ok := message.(string); ok {
				message = echo.Map{"error": m}
			}
			err = ctx.JSON(code, message)
		} else {
			err = ctx.Render(code, tmplError, &errorPage{Code: code, Message: flatten(message)})
		}
		if err != nil {
			ctx.Echo().Logger.Error(err)
		}
	}
}

const storeFailureText = "Your evaluation could not be saved right now. Please try again."

func isAPIRequest(ctx echo.Context) bool {
	return strings.HasPrefix(ctx.Request().URL.Path, "/api/")
}

// flatten turns an error message of any shape into one line of text.
func flatten(message interface{}) string {
	switch m := message.(type) {
	case string:
		return m
	case map[string]string:
		parts := make([]string, 0, len(m))
		for _, v := range m {
			parts = append(parts, v)
		}
		sort.Strings(parts)
		return strings.Join(parts, "; ")
	case echo.Map:
		if e, ok := m["error"].(string); ok {
			return e
		}
	}
	return fmt.Sprint(message)
}

// contextUser returns the logged in student, if any, for error reports.
func contextUser(ctx echo.Context) roster.Student {
	if sess, err := getContextSession(ctx); err == nil {
		if usr, ok := sess.User(); ok {
			return usr
		}
	}
	return roster.Student{}
}
