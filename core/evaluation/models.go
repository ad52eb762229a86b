package evaluation

import (
	"strconv"
	"strings"
	"time"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/course"
)

// Results table columns (criteria columns follow)
const (
	ColEvaluator   = "Evaluator"
	ColEvaluatorID = "Evaluator ID"
	ColGroup       = "Group"
	ColPeerName    = "Peer Name"
	ColPeerID      = "Peer ID"
	ColTimestamp   = "Timestamp"
	ColOverall     = "Overall Score"
	ColComments    = "Comments"

	TimestampLayout = "2006-01-02 15:04:05"
)

var baseColumns = []string{ColEvaluator, ColEvaluatorID, ColGroup, ColPeerName, ColPeerID, ColTimestamp, ColOverall, ColComments}

// Row is one evaluator's scores for one group member (self included).
type Row struct {
	EvaluatorName string    `json:"evaluator"`
	EvaluatorID   string    `json:"evaluator_id"`
	Group         string    `json:"group"`
	PeerName      string    `json:"peer_name"`
	PeerID        string    `json:"peer_id"`
	Timestamp     time.Time `json:"timestamp"`
	Comment       string    `json:"comment"`
	Scores        []int     `json:"scores"` // aligned with the course criteria
	Overall       float64   `json:"overall"`
}

// Table is the full results table as stored: a header and its records.
type Table struct {
	Header  []string
	Records [][]string
	// Version identifies the stored revision the table was read from; empty if none exists yet.
	Version string
}

// Header returns the canonical results header for the given criteria.
func Header(criteria []string) []string {
	h := make([]string, 0, len(baseColumns)+len(criteria))
	h = append(h, baseColumns...)
	return append(h, criteria...)
}

// ClampScore bounds a criterion score to [course.MinScore, course.MaxScore].
func ClampScore(score int) int {
	if score < course.MinScore {
		return course.MinScore
	}
	if score > course.MaxScore {
		return course.MaxScore
	}
	return score
}

// Overall is the unweighted arithmetic mean of the criterion scores.
func Overall(scores []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum int
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores))
}

// NormalizeID makes IDs read back from a spreadsheet comparable: whitespace is trimmed
// and integral decimals such as "1001.0" become "1001".
func NormalizeID(id string) string {
	id = core.CleanString(id)
	i := strings.IndexByte(id, '.')
	if i <= 0 || !allIn(id[:i], "0123456789") || !allIn(id[i+1:], "0") {
		return id
	}
	return id[:i]
}

// Record renders the row as cells in header order.
func (r Row) Record(header, criteria []string) []string {
	rec := make([]string, len(header))
	for i, col := range header {
		col = core.CleanString(col)
		switch col {
		case ColEvaluator:
			rec[i] = r.EvaluatorName
		case ColEvaluatorID:
			rec[i] = r.EvaluatorID
		case ColGroup:
			rec[i] = r.Group
		case ColPeerName:
			rec[i] = r.PeerName
		case ColPeerID:
			rec[i] = r.PeerID
		case ColTimestamp:
			if !r.Timestamp.IsZero() {
				rec[i] = r.Timestamp.Format(TimestampLayout)
			}
		case ColOverall:
			rec[i] = strconv.FormatFloat(r.Overall, 'f', -1, 64)
		case ColComments:
			rec[i] = r.Comment
		default:
			for j, cr := range criteria {
				if cr == col && j < len(r.Scores) {
					rec[i] = strconv.Itoa(r.Scores[j])
					break
				}
			}
		}
	}
	return rec
}

// TableFromRows builds a table holding rows, in order.
func TableFromRows(rows []Row, criteria []string, version string) Table {
	t := Table{Header: Header(criteria), Version: version}
	t.Records = make([][]string, 0, len(rows))
	for _, r := range rows {
		t.Records = append(t.Records, r.Record(t.Header, criteria))
	}
	return t
}

func (t Table) IsEmpty() bool {
	return len(t.Header) == 0 && len(t.Records) == 0
}

// Column returns the index of the named column, -1 if absent.
func (t Table) Column(name string) int {
	for i, col := range t.Header {
		if core.CleanString(col) == name {
			return i
		}
	}
	return -1
}

// EvaluatorRecords returns the records submitted by evaluatorID.
func (t Table) EvaluatorRecords(evaluatorID string) [][]string {
	col := t.Column(ColEvaluatorID)
	if col < 0 {
		return nil
	}
	key := NormalizeID(evaluatorID)
	var recs [][]string
	for _, rec := range t.Records {
		if col < len(rec) && NormalizeID(rec[col]) == key {
			recs = append(recs, rec)
		}
	}
	return recs
}

func allIn(s, chars string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune(chars, c) {
			return false
		}
	}
	return true
}
