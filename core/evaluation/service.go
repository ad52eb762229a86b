package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/course"
	"github.com/trezcool/peereval/core/roster"
)

var (
	NowFunc = time.Now // mockable

	// ErrConflict is returned by stores when the results table changed since it was read.
	ErrConflict = errors.New("results table changed concurrently")

	errEmptyEvaluator  = errors.New("evaluator ID is required")
	errEvaluatorMixup  = errors.New("rows must all belong to the submitting evaluator")
	errNoMembers       = errors.New("no group members to evaluate")
	errUnknownPeerText = "%s is not a member of your group"
)

// StoreFailure is returned when the results store cannot be read or written.
// The evaluation is not saved; the user may retry.
type StoreFailure struct {
	Op  string
	Err error
}

func (f *StoreFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Op, f.Err)
}

func (f *StoreFailure) Unwrap() error { return f.Err }

func IsStoreFailure(err error) bool {
	var sf *StoreFailure
	return errors.As(err, &sf)
}

type (
	// Repository persists the results table.
	Repository interface {
		// ReplaceEvaluatorRows removes every row of evaluatorID and appends rows.
		ReplaceEvaluatorRows(ctx context.Context, evaluatorID string, rows []Row) error
		// QueryTable returns the whole results table; an absent table is an empty Table.
		QueryTable(ctx context.Context) (Table, error)
	}

	// TableStore reads and overwrites a whole results table.
	TableStore interface {
		LoadTable(ctx context.Context) (Table, error)
		// SaveTable overwrites the stored table; it returns ErrConflict when the stored
		// version is no longer t.Version.
		SaveTable(ctx context.Context, t Table) error
	}

	// PeerInput is what the evaluator entered for one group member.
	PeerInput struct {
		PeerID  string `json:"peer_id" validate:"required"`
		Scores  []int  `json:"scores" validate:"required"`
		Comment string `json:"comment" validate:"max=2000"`
	}

	Service struct {
		repo       Repository
		course     course.Course
		maxRetries int
	}
)

// NewTableRepository adapts a whole-table store to a Repository using Merge.
func NewTableRepository(store TableStore, criteria []string) Repository {
	return &tableRepository{store: store, criteria: criteria}
}

type tableRepository struct {
	store    TableStore
	criteria []string
}

func (repo *tableRepository) ReplaceEvaluatorRows(ctx context.Context, evaluatorID string, rows []Row) error {
	t, err := repo.store.LoadTable(ctx)
	if err != nil {
		return errors.Wrap(err, "loading results table")
	}
	if err = repo.store.SaveTable(ctx, Merge(t, evaluatorID, rows, repo.criteria)); err != nil {
		return errors.Wrap(err, "saving results table")
	}
	return nil
}

func (repo *tableRepository) QueryTable(ctx context.Context) (Table, error) {
	return repo.store.LoadTable(ctx)
}

// NewService returns the evaluation service. Writes that hit ErrConflict are retried
// up to maxRetries times with a fresh read.
func NewService(repo Repository, crs course.Course, maxRetries int) *Service {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Service{
		repo:       repo,
		course:     crs,
		maxRetries: maxRetries,
	}
}

func (svc *Service) Course() course.Course { return svc.course }

// BuildRows turns the evaluator's inputs into one row per group member, in member order.
// Every member needs exactly one input; scores are clamped to the allowed range.
func (svc *Service) BuildRows(evaluator roster.Student, members []roster.Student, inputs []PeerInput) ([]Row, error) {
	if len(members) == 0 {
		return nil, core.NewValidationError(errNoMembers)
	}
	byPeer := make(map[string]PeerInput, len(inputs))
	for _, in := range inputs {
		id := core.CleanString(in.PeerID)
		if _, dup := byPeer[id]; dup {
			return nil, core.NewValidationError(errors.Errorf("duplicate scores for %s", id))
		}
		byPeer[id] = in
	}

	var fldErrs []core.FieldError
	for id := range byPeer {
		if !containsStudent(members, id) {
			fldErrs = append(fldErrs, core.FieldError{Field: id, Error: fmt.Sprintf(errUnknownPeerText, id)})
		}
	}

	now := NowFunc()
	rows := make([]Row, 0, len(members))
	for _, m := range members {
		in, ok := byPeer[m.ID]
		if !ok {
			fldErrs = append(fldErrs, core.FieldError{Field: m.ID, Error: "scores for " + m.Name + " are missing"})
			continue
		}
		if len(in.Scores) != len(svc.course.Criteria) {
			fldErrs = append(fldErrs, core.FieldError{
				Field: m.ID,
				Error: fmt.Sprintf("expected %d scores for %s, got %d", len(svc.course.Criteria), m.Name, len(in.Scores)),
			})
			continue
		}
		scores := make([]int, len(in.Scores))
		for i, s := range in.Scores {
			scores[i] = ClampScore(s)
		}
		rows = append(rows, Row{
			EvaluatorName: evaluator.Name,
			EvaluatorID:   evaluator.ID,
			Group:         evaluator.Group,
			PeerName:      m.Name,
			PeerID:        m.ID,
			Timestamp:     now,
			Comment:       core.CleanString(in.Comment),
			Scores:        scores,
			Overall:       Overall(scores),
		})
	}
	if len(fldErrs) > 0 {
		return nil, core.NewValidationError(errors.New("invalid evaluation"), fldErrs...)
	}
	return rows, nil
}

// Submit builds the evaluator's rows and upserts them.
func (svc *Service) Submit(ctx context.Context, evaluator roster.Student, members []roster.Student, inputs []PeerInput) ([]Row, error) {
	rows, err := svc.BuildRows(evaluator, members, inputs)
	if err != nil {
		return nil, err
	}
	if err = svc.Upsert(ctx, evaluator.ID, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Upsert replaces every stored row of evaluatorID with rows.
// Any store error is returned as a *StoreFailure.
func (svc *Service) Upsert(ctx context.Context, evaluatorID string, rows []Row) error {
	evaluatorID = core.CleanString(evaluatorID)
	if evaluatorID == "" {
		return errEmptyEvaluator
	}
	for _, r := range rows {
		if NormalizeID(r.EvaluatorID) != NormalizeID(evaluatorID) {
			return errEvaluatorMixup
		}
	}

	var err error
	for attempt := 0; attempt <= svc.maxRetries; attempt++ {
		if err = svc.repo.ReplaceEvaluatorRows(ctx, evaluatorID, rows); err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) || ctx.Err() != nil {
			break
		}
	}
	return &StoreFailure{Op: "saving evaluation", Err: err}
}

// Results returns the whole results table.
func (svc *Service) Results(ctx context.Context) (Table, error) {
	t, err := svc.repo.QueryTable(ctx)
	if err != nil {
		return Table{}, &StoreFailure{Op: "reading results", Err: err}
	}
	return t, nil
}

func containsStudent(students []roster.Student, id string) bool {
	for _, s := range students {
		if s.ID == id {
			return true
		}
	}
	return false
}
