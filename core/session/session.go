package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/peereval/core/roster"
)

var NowFunc = time.Now // mockable

// State of the one-time code login.
type State int

const (
	AwaitingSelection State = iota
	CodeSent
	Authenticated
)

func (s State) String() string {
	switch s {
	case AwaitingSelection:
		return "awaiting_selection"
	case CodeSent:
		return "code_sent"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// Session is the server-side state of one browser session.
// It is created at session start and discarded on logout or idle expiry.
type Session struct {
	ID        string
	CreatedAt time.Time

	lastSeen atomic.Int64 // unix nanoseconds; never guarded by mu

	mu         sync.Mutex
	state      State
	pending    roster.Student
	codeHash   []byte
	codeSentAt time.Time
	attempts   int
	user       roster.Student
}

func newSession() *Session {
	now := NowFunc()
	sess := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		state:     AwaitingSelection,
	}
	sess.touch(now)
	return sess
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the authenticated student.
func (s *Session) User() (roster.Student, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.state == Authenticated
}

// Pending returns the student a code was last sent to.
func (s *Session) Pending() (roster.Student, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.state == CodeSent
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// clear drops everything but the identifiers.
func (s *Session) clear() {
	s.state = AwaitingSelection
	s.pending = roster.Student{}
	s.codeHash = nil
	s.codeSentAt = time.Time{}
	s.attempts = 0
	s.user = roster.Student{}
}

// Store keeps sessions in memory. Sessions idle for longer than ttl are dropped.
// The store lock is never held together with a session lock.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// New creates and registers a session.
func (st *Store) New() *Session {
	sess := newSession()
	st.mu.Lock()
	st.sessions[sess.ID] = sess
	st.mu.Unlock()
	return sess
}

// Get returns a live session and marks it as seen.
func (st *Store) Get(id string) (*Session, bool) {
	now := NowFunc()
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	if st.ttl > 0 && sess.idleSince(now) > st.ttl {
		delete(st.sessions, id)
		return nil, false
	}
	sess.touch(now)
	return sess, true
}

func (st *Store) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Prune drops idle sessions and returns how many were removed.
func (st *Store) Prune() int {
	if st.ttl <= 0 {
		return 0
	}
	now := NowFunc()
	st.mu.Lock()
	defer st.mu.Unlock()

	var n int
	for id, sess := range st.sessions {
		if sess.idleSince(now) > st.ttl {
			delete(st.sessions, id)
			n++
		}
	}
	return n
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
