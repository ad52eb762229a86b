// Package shared wires the dependencies used by both the API and the admin CLI.
package shared

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/course"
	"github.com/trezcool/peereval/core/evaluation"
	"github.com/trezcool/peereval/storage/database"
	inmemdb "github.com/trezcool/peereval/storage/database/inmem"
	sqlxrepos "github.com/trezcool/peereval/storage/database/sqlx"
	"github.com/trezcool/peereval/storage/sheets"
)

// Results is the configured results backend.
type Results struct {
	Repo evaluation.Repository
	DB   *sqlx.DB // sql backend only
}

func (res Results) Close() error {
	if res.DB != nil {
		return res.DB.Close()
	}
	return nil
}

// OpenResults connects to the results backend selected by conf.Results.Backend.
// The sql backend is migrated up unless migrate is false.
func OpenResults(ctx context.Context, conf *core.Config, crs course.Course, migrate bool) (Results, error) {
	switch conf.Results.Backend {
	case core.ResultsMemory:
		return Results{Repo: evaluation.NewTableRepository(inmemdb.NewResultsTable(), crs.Criteria)}, nil

	case core.ResultsSheets:
		store, err := sheets.New(ctx, conf)
		if err != nil {
			return Results{}, err
		}
		return Results{Repo: evaluation.NewTableRepository(store, crs.Criteria)}, nil

	case core.ResultsSQL:
		db, err := database.Open(ctx, conf)
		if err != nil {
			return Results{}, err
		}
		if migrate {
			if err = database.Migrate(db, "up"); err != nil {
				_ = db.Close()
				return Results{}, err
			}
		}
		return Results{Repo: sqlxrepos.NewResultsRepository(db, crs.Criteria), DB: db}, nil
	}
	return Results{}, core.NewConfigError("unknown results backend %q", conf.Results.Backend)
}

// LoadDomain loads the course profile and validates conf.
func LoadDomain(conf *core.Config) (course.Course, error) {
	if err := conf.Validate(); err != nil {
		return course.Course{}, err
	}
	return course.Load(conf.Course.File)
}
