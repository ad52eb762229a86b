package evaluation

import "github.com/trezcool/peereval/core"

// Merge returns the table in which every record of evaluatorID has been replaced by rows.
// Untouched records keep their relative order and the new rows are appended after them.
// Canonical columns missing from the stored header are appended to it and older records
// are padded, so the stored column order is never rewritten.
// The input table is not modified.
func Merge(t Table, evaluatorID string, rows []Row, criteria []string) Table {
	header := unionHeader(t.Header, Header(criteria))
	merged := Table{
		Header:  header,
		Records: make([][]string, 0, len(t.Records)+len(rows)),
		Version: t.Version,
	}

	col := merged.Column(ColEvaluatorID)
	key := NormalizeID(evaluatorID)
	for _, rec := range t.Records {
		if col < len(rec) && NormalizeID(rec[col]) == key {
			continue
		}
		merged.Records = append(merged.Records, pad(rec, len(header)))
	}
	for _, r := range rows {
		merged.Records = append(merged.Records, r.Record(header, criteria))
	}
	return merged
}

func unionHeader(stored, canonical []string) []string {
	header := make([]string, 0, len(stored)+len(canonical))
	seen := make(map[string]bool, len(stored))
	for _, col := range stored {
		header = append(header, col)
		seen[core.CleanString(col)] = true
	}
	for _, col := range canonical {
		if !seen[col] {
			header = append(header, col)
		}
	}
	return header
}

func pad(rec []string, n int) []string {
	out := make([]string, len(rec), max(n, len(rec)))
	copy(out, rec)
	for len(out) < n {
		out = append(out, "")
	}
	return out
}
