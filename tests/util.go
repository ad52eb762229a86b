package testutil

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/course"
	"github.com/trezcool/peereval/core/roster"
	"github.com/trezcool/peereval/storage/database"
)

// Students of the test roster: group 1 has A1 and A2, group 2 has B1, B2 and B3.
var (
	A1 = roster.Student{ID: "1001", Name: "Alice Ampere", Email: "alice@test.ca", Group: "1"}
	A2 = roster.Student{ID: "1002", Name: "Andre Avogadro", Email: "andre@test.ca", Group: "1"}
	B1 = roster.Student{ID: "2001", Name: "Blaise Bernoulli", Email: "blaise@test.ca", Group: "2"}
	B2 = roster.Student{ID: "2002", Name: "Bella Bessel", Email: "bella@test.ca", Group: "2"}
	B3 = roster.Student{ID: "2003", Name: "Boris Boltzmann", Email: "boris@test.ca", Group: "2"}

	Students = []roster.Student{A1, A2, B1, B2, B3}
)

// Roster returns the test roster.
func Roster() *roster.Roster {
	return roster.MustNew(Students...)
}

// Course returns the default course profile.
func Course() course.Course {
	return course.Default()
}

// Config returns a configuration for tests: console mail, in-memory results.
func Config() *core.Config {
	conf := &core.Config{
		Env:       "TEST",
		Build:     "test",
		TestMode:  true,
		AppName:   "Peer Eval",
		SecretKey: "test-secret",
	}
	conf.Server.Address = ":0"
	conf.Server.ShutdownTimeout = time.Second
	conf.Server.SessionTTL = time.Hour
	conf.Roster.File = "students.csv"
	conf.Email.Backend = core.EmailConsole
	conf.Email.From = "noreply@test.ca"
	conf.Results.Backend = core.ResultsMemory
	conf.Results.MaxConflictRetries = 3
	return conf
}

// WriteRoster writes students as a roster CSV file in dir and returns its path.
func WriteRoster(t *testing.T, dir string, students ...roster.Student) string {
	t.Helper()
	path := filepath.Join(dir, "students.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("WriteRoster(): %v", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	_ = w.Write(roster.RequiredColumns)
	for _, s := range students {
		_ = w.Write([]string{s.ID, s.Name, s.Email, s.Group})
	}
	w.Flush()
	if err = w.Error(); err != nil {
		t.Fatalf("WriteRoster(): %v", err)
	}
	return path
}

// OpenSQLite returns a migrated in-memory SQLite results database, closed at the end of the test.
func OpenSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	conf := Config()
	conf.Results.Backend = core.ResultsSQL
	conf.Results.DBDriver = database.SQLite
	conf.Results.DBURL = ":memory:"

	db, err := database.Open(context.Background(), conf)
	if err != nil {
		t.Fatalf("OpenSQLite(): %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = database.Migrate(db, "up"); err != nil {
		t.Fatalf("OpenSQLite(): %v", err)
	}
	return db
}

// NopLogger discards everything.
type NopLogger struct{}

var _ core.Logger = NopLogger{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}
