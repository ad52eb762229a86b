package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/peereval/core/evaluation"
	"github.com/trezcool/peereval/storage/database"
)

// postgres: could not serialize access due to concurrent update
const pqSerializationFailure = "40001"

type evaluationRow struct {
	ID            int64       `db:"id"`
	EvaluatorID   string      `db:"evaluator_id"`
	EvaluatorName string      `db:"evaluator_name"`
	Group         string      `db:"group_name"`
	PeerID        string      `db:"peer_id"`
	PeerName      string      `db:"peer_name"`
	SubmittedAt   string      `db:"submitted_at"`
	Overall       float64     `db:"overall"`
	Comment       null.String `db:"comment"`
	Scores        string      `db:"scores"` // JSON object {criterion: score}
}

type resultsRepository struct {
	db       *sqlx.DB
	criteria []string
}

var _ evaluation.Repository = (*resultsRepository)(nil)

// NewResultsRepository stores one SQL row per results row.
func NewResultsRepository(db *sqlx.DB, criteria []string) evaluation.Repository {
	return &resultsRepository{db: db, criteria: criteria}
}

func (repo *resultsRepository) ReplaceEvaluatorRows(ctx context.Context, evaluatorID string, rows []evaluation.Row) error {
	key := evaluation.NormalizeID(evaluatorID)
	dbRows := make([]evaluationRow, 0, len(rows))
	for _, r := range rows {
		dbr, err := repo.toDB(key, r)
		if err != nil {
			return err
		}
		dbRows = append(dbRows, dbr)
	}

	var opts *sql.TxOptions
	if repo.db.DriverName() == database.Postgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	tx, err := repo.db.BeginTxx(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM evaluation WHERE evaluator_id = ?`), key); err != nil {
		return conflictOr(err, "deleting previous rows")
	}
	q := `INSERT INTO evaluation
		(evaluator_id, evaluator_name, group_name, peer_id, peer_name, submitted_at, overall, comment, scores)
		VALUES (:evaluator_id, :evaluator_name, :group_name, :peer_id, :peer_name, :submitted_at, :overall, :comment, :scores)`
	for _, dbr := range dbRows {
		if _, err = tx.NamedExecContext(ctx, q, dbr); err != nil {
			return conflictOr(err, "inserting rows")
		}
	}
	if err = tx.Commit(); err != nil {
		return conflictOr(err, "committing transaction")
	}
	return nil
}

func (repo *resultsRepository) QueryTable(ctx context.Context) (evaluation.Table, error) {
	var dbRows []evaluationRow
	if err := repo.db.SelectContext(ctx, &dbRows, `SELECT * FROM evaluation ORDER BY id`); err != nil {
		return evaluation.Table{}, errors.Wrap(err, "querying evaluations")
	}
	if len(dbRows) == 0 {
		return evaluation.Table{}, nil
	}

	// criteria dropped from the course profile keep their column
	criteria := append([]string(nil), repo.criteria...)
	known := make(map[string]bool, len(criteria))
	for _, c := range criteria {
		known[c] = true
	}
	rows := make([]evaluation.Row, 0, len(dbRows))
	scoresByRow := make([]map[string]int, 0, len(dbRows))
	var extra []string
	for _, dbr := range dbRows {
		r, scores, err := fromDB(dbr)
		if err != nil {
			return evaluation.Table{}, err
		}
		for c := range scores {
			if !known[c] {
				known[c] = true
				extra = append(extra, c)
			}
		}
		rows = append(rows, r)
		scoresByRow = append(scoresByRow, scores)
	}
	sort.Strings(extra)
	criteria = append(criteria, extra...)

	for i := range rows {
		rows[i].Scores = make([]int, len(criteria))
		for j, c := range criteria {
			rows[i].Scores[j] = scoresByRow[i][c]
		}
	}
	return evaluation.TableFromRows(rows, criteria, ""), nil
}

func (repo *resultsRepository) toDB(evaluatorID string, r evaluation.Row) (evaluationRow, error) {
	scores := make(map[string]int, len(repo.criteria))
	for i, c := range repo.criteria {
		if i < len(r.Scores) {
			scores[c] = r.Scores[i]
		}
	}
	b, err := json.Marshal(scores)
	if err != nil {
		return evaluationRow{}, errors.Wrap(err, "encoding scores")
	}
	return evaluationRow{
		EvaluatorID:   evaluatorID,
		EvaluatorName: r.EvaluatorName,
		Group:         r.Group,
		PeerID:        r.PeerID,
		PeerName:      r.PeerName,
		SubmittedAt:   r.Timestamp.Format(evaluation.TimestampLayout),
		Overall:       r.Overall,
		Comment:       null.NewString(r.Comment, r.Comment != ""),
		Scores:        string(b),
	}, nil
}

func fromDB(dbr evaluationRow) (evaluation.Row, map[string]int, error) {
	var scores map[string]int
	if err := json.Unmarshal([]byte(dbr.Scores), &scores); err != nil {
		return evaluation.Row{}, nil, errors.Wrapf(err, "decoding scores of row %d", dbr.ID)
	}
	ts, err := time.Parse(evaluation.TimestampLayout, dbr.SubmittedAt)
	if err != nil {
		return evaluation.Row{}, nil, errors.Wrapf(err, "parsing timestamp of row %d", dbr.ID)
	}
	return evaluation.Row{
		EvaluatorName: dbr.EvaluatorName,
		EvaluatorID:   dbr.EvaluatorID,
		Group:         dbr.Group,
		PeerName:      dbr.PeerName,
		PeerID:        dbr.PeerID,
		Timestamp:     ts,
		Comment:       dbr.Comment.String,
		Overall:       dbr.Overall,
	}, scores, nil
}

func conflictOr(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqSerializationFailure {
		return errors.Wrap(evaluation.ErrConflict, msg)
	}
	return errors.Wrap(err, msg)
}
