package session

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/mail"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/roster"
)

const (
	codeMin = 100000
	codeMax = 999999

	codeSubject  = "Peer Eval Login Code"
	codeTemplate = "login_code"
)

var (
	GenerateCode = newCode          // mockable
	bcryptCost   = bcrypt.DefaultCost // lowered in tests

	// errors
	ErrUnknownName          = errors.New("no student with this name")
	ErrSendFailed           = errors.New("could not send the verification code")
	ErrNoPendingCode        = errors.New("no verification code was requested")
	ErrInvalidCode          = errors.New("Invalid Code")
	ErrCodeExpired          = errors.New("verification code expired")
	ErrTooManyAttempts      = errors.New("too many attempts")
	ErrAlreadyAuthenticated = errors.New("already logged in")
)

// AuthError is a recoverable login failure; the message is meant for the user.
type AuthError struct {
	Err        error
	Suggestion string // closest roster name, for ErrUnknownName
	cause      error
}

func newAuthError(err error, cause ...error) *AuthError {
	ae := &AuthError{Err: err}
	if len(cause) > 0 {
		ae.cause = cause[0]
	}
	return ae
}

func (ae *AuthError) Error() string {
	switch ae.Err {
	case ErrUnknownName:
		if ae.Suggestion != "" {
			return ae.Err.Error() + "; did you mean " + strconv.Quote(ae.Suggestion) + "?"
		}
	case ErrSendFailed:
		if ae.cause != nil {
			return ae.Err.Error() + ": " + ae.cause.Error()
		}
	case ErrCodeExpired, ErrTooManyAttempts:
		return ae.Err.Error() + "; please request a new code"
	}
	return ae.Err.Error()
}

func (ae *AuthError) Unwrap() error { return ae.Err }

func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

type (
	Options struct {
		// MaxCodeAttempts caps wrong guesses per sent code; 0 means unlimited.
		MaxCodeAttempts int
		// CodeTTL bounds the age of a sent code; 0 means codes never expire.
		CodeTTL time.Duration
	}

	Service struct {
		store   *Store
		roster  roster.Provider
		mailSvc core.EmailService
		opts    Options
	}
)

func NewService(store *Store, rp roster.Provider, mailSvc core.EmailService, opts Options) *Service {
	return &Service{
		store:   store,
		roster:  rp,
		mailSvc: mailSvc,
		opts:    opts,
	}
}

// Start opens a new session in the AwaitingSelection state.
func (svc *Service) Start() *Session {
	return svc.store.New()
}

// Resume returns the live session with the given ID.
func (svc *Service) Resume(id string) (*Session, bool) {
	return svc.store.Get(id)
}

// SendCode emails a fresh one-time code to the student named `name`.
// On success the session moves to CodeSent and any previous code is forgotten;
// on failure the session is left untouched. The session is not locked while the
// email is being sent.
func (svc *Service) SendCode(ctx context.Context, sess *Session, name string) (roster.Student, error) {
	if sess.State() == Authenticated {
		return roster.Student{}, newAuthError(ErrAlreadyAuthenticated)
	}

	r := svc.roster.Current()
	student, err := r.FindByName(name)
	if err != nil {
		ae := newAuthError(ErrUnknownName)
		if s, ok := r.Suggest(name); ok {
			ae.Suggestion = s
		}
		return roster.Student{}, ae
	}

	code, err := GenerateCode()
	if err != nil {
		return roster.Student{}, errors.Wrap(err, "generating code")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcryptCost)
	if err != nil {
		return roster.Student{}, errors.Wrap(err, "hashing code")
	}

	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: student.Name, Address: student.Email}},
		Subject:      codeSubject,
		TemplateName: codeTemplate,
		TemplateData: map[string]string{"Code": code},
	}
	if err = svc.mailSvc.SendMessage(ctx, msg); err != nil {
		return roster.Student{}, newAuthError(ErrSendFailed, err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// logged in by another request while the email was in flight
	if sess.state == Authenticated {
		return roster.Student{}, newAuthError(ErrAlreadyAuthenticated)
	}
	sess.state = CodeSent
	sess.pending = student
	sess.codeHash = hash
	sess.codeSentAt = NowFunc()
	sess.attempts = 0
	return student, nil
}

// Login checks `code` against the most recently sent code and authenticates the pending student.
func (svc *Service) Login(sess *Session, code string) (roster.Student, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state == Authenticated {
		return sess.user, nil
	}
	if sess.state != CodeSent || sess.codeHash == nil {
		return roster.Student{}, newAuthError(ErrNoPendingCode)
	}
	if svc.opts.CodeTTL > 0 && NowFunc().Sub(sess.codeSentAt) > svc.opts.CodeTTL {
		sess.clear()
		return roster.Student{}, newAuthError(ErrCodeExpired)
	}

	code = core.CleanString(code)
	if code == "" || bcrypt.CompareHashAndPassword(sess.codeHash, []byte(code)) != nil {
		sess.attempts++
		if svc.opts.MaxCodeAttempts > 0 && sess.attempts >= svc.opts.MaxCodeAttempts {
			sess.clear()
			return roster.Student{}, newAuthError(ErrTooManyAttempts)
		}
		return roster.Student{}, newAuthError(ErrInvalidCode)
	}

	user := sess.pending
	sess.clear()
	sess.state = Authenticated
	sess.user = user
	return user, nil
}

// Logout discards the session and returns a new one.
func (svc *Service) Logout(sess *Session) *Session {
	sess.mu.Lock()
	sess.clear()
	sess.mu.Unlock()
	svc.store.Delete(sess.ID)
	return svc.store.New()
}

// newCode returns a uniformly random 6-digit code.
func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}
