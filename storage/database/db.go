package database

import (
	"context"
	"path"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/trezcool/goose"
	_ "modernc.org/sqlite"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/fs"
)

// Supported drivers
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

var GooseRunFunc = goose.RunFS // mockable

// Open connects to the results database and waits until it answers.
func Open(ctx context.Context, conf *core.Config) (*sqlx.DB, error) {
	driver := conf.Results.DBDriver
	if driver != Postgres && driver != SQLite {
		return nil, core.NewConfigError("unknown database driver %q", driver)
	}
	db, err := sqlx.Open(driver, conf.Results.DBURL)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if driver == SQLite {
		// each connection to ":memory:" is a separate database
		db.SetMaxOpenConns(1)
	}
	if err = ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(ctx context.Context, db *sqlx.DB) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "pinging database")
		case <-time.After(time.Duration(attempts) * 100 * time.Millisecond):
		}
	}
	return errors.Wrap(err, "DB ping timeout")
}

// Migrate runs a goose command (up, down, status...) with the embedded migrations of db's driver.
func Migrate(db *sqlx.DB, command string, args ...string) error {
	dialect := db.DriverName()
	if dialect == SQLite {
		dialect = "sqlite3"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return errors.Wrap(err, "setting migration dialect")
	}
	dir := path.Join("migrations", db.DriverName())
	if err := GooseRunFunc(command, db.DB, appfs.FS, dir, args...); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}
