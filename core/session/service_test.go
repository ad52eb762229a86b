package session

import (
	"context"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/roster"
)

func init() {
	bcryptCost = bcrypt.MinCost
}

var testRoster = roster.MustNew(
	roster.Student{ID: "1001", Name: "Alice Ampere", Email: "alice@test.ca", Group: "1"},
	roster.Student{ID: "1002", Name: "Andre Avogadro", Email: "andre@test.ca", Group: "1"},
)

// mailbox keeps the messages it is asked to send.
type mailbox struct {
	mu   sync.Mutex
	msgs []core.EmailMessage
	err  error
}

func (mb *mailbox) SendMessage(_ context.Context, msg *core.EmailMessage) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.err != nil {
		return mb.err
	}
	if err := msg.Render(); err != nil {
		return err
	}
	mb.msgs = append(mb.msgs, *msg)
	return nil
}

var codeRe = regexp.MustCompile(`Your Code is: (\d{6})`)

func (mb *mailbox) lastCode(t *testing.T) string {
	t.Helper()
	mb.mu.Lock()
	defer mb.mu.Unlock()
	require.NotEmpty(t, mb.msgs, "no message sent")
	m := codeRe.FindStringSubmatch(mb.msgs[len(mb.msgs)-1].TextContent)
	require.Len(t, m, 2, "no code in %q", mb.msgs[len(mb.msgs)-1].TextContent)
	return m[1]
}

func setup(opts Options) (*Service, *mailbox) {
	mb := new(mailbox)
	return NewService(NewStore(time.Hour), testRoster, mb, opts), mb
}

func authErr(t *testing.T, err error) *AuthError {
	t.Helper()
	var ae *AuthError
	require.True(t, errors.As(err, &ae), "want *AuthError, got %T (%v)", err, err)
	return ae
}

func TestService_loginFlow(t *testing.T) {
	svc, mb := setup(Options{})
	ctx := context.Background()
	sess := svc.Start()
	assert.Equal(t, AwaitingSelection, sess.State())

	student, err := svc.SendCode(ctx, sess, " Alice Ampere ")
	require.NoError(t, err)
	assert.Equal(t, "1001", student.ID)
	assert.Equal(t, CodeSent, sess.State())

	require.Len(t, mb.msgs, 1)
	msg := mb.msgs[0]
	assert.Equal(t, "Peer Eval Login Code", msg.Subject)
	assert.Equal(t, "alice@test.ca", msg.To[0].Address)

	code := mb.lastCode(t)
	usr, err := svc.Login(sess, " "+code+" ")
	require.NoError(t, err)
	assert.Equal(t, "1001", usr.ID)
	assert.Equal(t, Authenticated, sess.State())

	got, ok := sess.User()
	assert.True(t, ok)
	assert.Equal(t, usr, got)
	_, pending := sess.Pending()
	assert.False(t, pending, "pending code is cleared")

	// logout discards the session
	fresh := svc.Logout(sess)
	assert.NotEqual(t, sess.ID, fresh.ID)
	assert.Equal(t, AwaitingSelection, fresh.State())
	_, ok = svc.Resume(sess.ID)
	assert.False(t, ok)
	_, ok = fresh.User()
	assert.False(t, ok)
}

func TestService_SendCode_errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown name with suggestion", func(t *testing.T) {
		svc, mb := setup(Options{})
		sess := svc.Start()
		_, err := svc.SendCode(ctx, sess, "Alice Amper")
		ae := authErr(t, err)
		assert.Equal(t, ErrUnknownName, ae.Err)
		assert.Equal(t, "Alice Ampere", ae.Suggestion)
		assert.Contains(t, ae.Error(), `did you mean "Alice Ampere"?`)
		assert.Empty(t, mb.msgs)
		assert.Equal(t, AwaitingSelection, sess.State())
	})

	t.Run("unknown name without suggestion", func(t *testing.T) {
		svc, _ := setup(Options{})
		_, err := svc.SendCode(ctx, svc.Start(), "zzz")
		ae := authErr(t, err)
		assert.Empty(t, ae.Suggestion)
	})

	t.Run("send failure leaves state unchanged", func(t *testing.T) {
		svc, mb := setup(Options{})
		sess := svc.Start()
		_, err := svc.SendCode(ctx, sess, "Alice Ampere")
		require.NoError(t, err)
		code := mb.lastCode(t)

		mb.err = errors.New("relay down")
		_, err = svc.SendCode(ctx, sess, "Andre Avogadro")
		ae := authErr(t, err)
		assert.Equal(t, ErrSendFailed, ae.Err)
		assert.Contains(t, ae.Error(), "relay down")

		pending, ok := sess.Pending()
		assert.True(t, ok)
		assert.Equal(t, "1001", pending.ID, "previous pending student kept")
		_, err = svc.Login(sess, code)
		assert.NoError(t, err, "previous code still valid")
	})

	t.Run("already logged in", func(t *testing.T) {
		svc, mb := setup(Options{})
		sess := svc.Start()
		_, _ = svc.SendCode(ctx, sess, "Alice Ampere")
		_, err := svc.Login(sess, mb.lastCode(t))
		require.NoError(t, err)
		_, err = svc.SendCode(ctx, sess, "Andre Avogadro")
		assert.Equal(t, ErrAlreadyAuthenticated, authErr(t, err).Err)
	})
}

func TestService_Login_errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no pending code", func(t *testing.T) {
		svc, _ := setup(Options{})
		_, err := svc.Login(svc.Start(), "123456")
		assert.Equal(t, ErrNoPendingCode, authErr(t, err).Err)
	})

	t.Run("only the latest code works", func(t *testing.T) {
		svc, mb := setup(Options{})
		sess := svc.Start()
		codes := []string{"111111", "222222"}
		var i int
		GenerateCode = func() (string, error) { c := codes[i]; i++; return c, nil }
		defer func() { GenerateCode = newCode }()

		_, err := svc.SendCode(ctx, sess, "Alice Ampere")
		require.NoError(t, err)
		_, err = svc.SendCode(ctx, sess, "Andre Avogadro")
		require.NoError(t, err)
		require.Equal(t, "222222", mb.lastCode(t))

		_, err = svc.Login(sess, "111111")
		ae := authErr(t, err)
		assert.Equal(t, ErrInvalidCode, ae.Err)
		assert.Equal(t, "Invalid Code", ae.Error())
		assert.Equal(t, CodeSent, sess.State(), "user may retry")

		usr, err := svc.Login(sess, "222222")
		require.NoError(t, err)
		assert.Equal(t, "1002", usr.ID, "the latest pending student logs in")
	})

	t.Run("no attempt limit by default", func(t *testing.T) {
		svc, mb := setup(Options{})
		sess := svc.Start()
		_, _ = svc.SendCode(ctx, sess, "Alice Ampere")
		for i := 0; i < 20; i++ {
			_, err := svc.Login(sess, "000000")
			assert.Equal(t, ErrInvalidCode, authErr(t, err).Err)
		}
		_, err := svc.Login(sess, mb.lastCode(t))
		assert.NoError(t, err)
	})

	t.Run("attempt limit", func(t *testing.T) {
		svc, mb := setup(Options{MaxCodeAttempts: 3})
		sess := svc.Start()
		_, _ = svc.SendCode(ctx, sess, "Alice Ampere")
		code := mb.lastCode(t)
		for i := 0; i < 2; i++ {
			_, err := svc.Login(sess, "000000")
			assert.Equal(t, ErrInvalidCode, authErr(t, err).Err)
		}
		_, err := svc.Login(sess, "000000")
		assert.Equal(t, ErrTooManyAttempts, authErr(t, err).Err)
		assert.Equal(t, AwaitingSelection, sess.State())

		_, err = svc.Login(sess, code)
		assert.Equal(t, ErrNoPendingCode, authErr(t, err).Err, "the code was invalidated")
	})

	t.Run("code expiry", func(t *testing.T) {
		now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
		NowFunc = func() time.Time { return now }
		defer func() { NowFunc = time.Now }()

		svc, mb := setup(Options{CodeTTL: 10 * time.Minute})
		sess := svc.Start()
		_, _ = svc.SendCode(ctx, sess, "Alice Ampere")
		code := mb.lastCode(t)

		now = now.Add(11 * time.Minute)
		_, err := svc.Login(sess, code)
		assert.Equal(t, ErrCodeExpired, authErr(t, err).Err)
		assert.Equal(t, AwaitingSelection, sess.State())
	})
}

func TestNewCode(t *testing.T) {
	seen := make(map[string]bool)
	var prev string
	for i := 0; i < 50; i++ {
		code, err := newCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.True(t, n >= codeMin && n <= codeMax, "code %d out of range", n)
		assert.NotEqual(t, prev, code, "consecutive codes differ")
		prev = code
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45, "codes are spread out")
}

func TestStore(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	NowFunc = func() time.Time { return now }
	defer func() { NowFunc = time.Now }()

	st := NewStore(time.Hour)
	s1, s2 := st.New(), st.New()
	assert.Equal(t, 2, st.Len())

	now = now.Add(45 * time.Minute)
	_, ok := st.Get(s1.ID) // keeps s1 alive
	assert.True(t, ok)

	now = now.Add(30 * time.Minute)
	_, ok = st.Get(s2.ID)
	assert.False(t, ok, "idle session expired")
	_, ok = st.Get(s1.ID)
	assert.True(t, ok)

	for i := 0; i < 3; i++ {
		st.New()
	}
	now = now.Add(2 * time.Hour)
	assert.Equal(t, 4, st.Prune())
	assert.Equal(t, 0, st.Len())

	_, ok = st.Get("nope")
	assert.False(t, ok)
}

func TestStore_concurrent(t *testing.T) {
	svc, _ := setup(Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := svc.Start()
			name := testRoster.Names()[i%2]
			if _, err := svc.SendCode(ctx, sess, name); err != nil {
				t.Errorf("SendCode(%s): %v", name, err)
			}
			if _, ok := svc.Resume(sess.ID); !ok {
				t.Errorf("Resume(%s) failed", sess.ID)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, svc.store.Len())
}

// gatedMail blocks every send until release is closed.
type gatedMail struct {
	entered chan struct{}
	release chan struct{}
}

func (gm *gatedMail) SendMessage(ctx context.Context, _ *core.EmailMessage) error {
	gm.entered <- struct{}{}
	select {
	case <-gm.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestService_SendCode_slowMail(t *testing.T) {
	gm := &gatedMail{entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc := NewService(NewStore(time.Hour), testRoster, gm, Options{})
	a, b := svc.Start(), svc.Start()

	sent := make(chan error, 1)
	go func() {
		_, err := svc.SendCode(context.Background(), a, "Alice Ampere")
		sent <- err
	}()
	<-gm.entered

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, okA := svc.Resume(a.ID)
		_, okB := svc.Resume(b.ID)
		assert.True(t, okA)
		assert.True(t, okB)
		assert.Equal(t, AwaitingSelection, a.State(), "nothing committed before the email is sent")
		svc.store.Prune()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sessions blocked while an email is being sent")
	}

	close(gm.release)
	require.NoError(t, <-sent)
	assert.Equal(t, CodeSent, a.State())
	assert.Equal(t, AwaitingSelection, b.State())
}
