package inmemdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/peereval/core/evaluation"
)

func TestResultsTable(t *testing.T) {
	ctx := context.Background()
	db := NewResultsTable()

	tbl, err := db.LoadTable(ctx)
	require.NoError(t, err)
	assert.True(t, tbl.IsEmpty())
	assert.Empty(t, tbl.Version)

	tbl.Header = []string{"Evaluator ID", "Overall Score"}
	tbl.Records = [][]string{{"1001", "90"}}
	require.NoError(t, db.SaveTable(ctx, tbl))

	got, err := db.LoadTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", got.Version)
	assert.Equal(t, tbl.Header, got.Header)
	assert.Equal(t, tbl.Records, got.Records)

	// stale version
	assert.Equal(t, evaluation.ErrConflict, db.SaveTable(ctx, tbl))

	// loaded tables are copies
	got.Records[0][1] = "0"
	again, err := db.LoadTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, "90", again.Records[0][1])

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = db.LoadTable(cctx)
	assert.Error(t, err)
	assert.Error(t, db.SaveTable(cctx, again))
}

func TestResultsTable_withService(t *testing.T) {
	criteria := []string{"Effort", "Quality"}
	repo := evaluation.NewTableRepository(NewResultsTable(), criteria)
	ctx := context.Background()

	rows := []evaluation.Row{
		{EvaluatorID: "1001", PeerID: "1001", Scores: []int{80, 90}, Overall: 85},
		{EvaluatorID: "1001", PeerID: "1002", Scores: []int{70, 70}, Overall: 70},
	}
	require.NoError(t, repo.ReplaceEvaluatorRows(ctx, "1001", rows))
	require.NoError(t, repo.ReplaceEvaluatorRows(ctx, "1002", []evaluation.Row{
		{EvaluatorID: "1002", PeerID: "1001", Scores: []int{100, 100}, Overall: 100},
	}))
	require.NoError(t, repo.ReplaceEvaluatorRows(ctx, "1001", rows[:1]))

	tbl, err := repo.QueryTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, evaluation.Header(criteria), tbl.Header)
	require.Len(t, tbl.Records, 2)
	assert.Len(t, tbl.EvaluatorRecords("1001"), 1)
	assert.Len(t, tbl.EvaluatorRecords("1002"), 1)
	assert.Equal(t, "1002", tbl.Records[0][tbl.Column(evaluation.ColEvaluatorID)], "resubmission goes last")
}
