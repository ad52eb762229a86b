package inmemdb

import (
	"context"
	"strconv"
	"sync"

	"github.com/trezcool/peereval/core/evaluation"
)

// ResultsTable keeps the results table in memory.
// Every save bumps the version, so a stale read is rejected like on a shared sheet.
type ResultsTable struct {
	mu      sync.RWMutex
	header  []string
	records [][]string
	version int
}

var _ evaluation.TableStore = (*ResultsTable)(nil)

func NewResultsTable() *ResultsTable {
	return &ResultsTable{}
}

func (db *ResultsTable) LoadTable(ctx context.Context) (evaluation.Table, error) {
	if err := ctx.Err(); err != nil {
		return evaluation.Table{}, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	t := evaluation.Table{
		Header:  append([]string(nil), db.header...),
		Records: make([][]string, 0, len(db.records)),
	}
	for _, rec := range db.records {
		t.Records = append(t.Records, append([]string(nil), rec...))
	}
	if db.version > 0 {
		t.Version = strconv.Itoa(db.version)
	}
	return t, nil
}

func (db *ResultsTable) SaveTable(ctx context.Context, t evaluation.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if t.Version != db.currentVersion() {
		return evaluation.ErrConflict
	}
	db.header = append([]string(nil), t.Header...)
	db.records = make([][]string, 0, len(t.Records))
	for _, rec := range t.Records {
		db.records = append(db.records, append([]string(nil), rec...))
	}
	db.version++
	return nil
}

func (db *ResultsTable) currentVersion() string {
	if db.version == 0 {
		return ""
	}
	return strconv.Itoa(db.version)
}
