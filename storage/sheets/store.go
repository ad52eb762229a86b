// Package sheets stores the results table in a Google Sheets spreadsheet.
package sheets

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/core/evaluation"
)

const (
	spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"
	lastColumn          = "ZZZ"
	valueInputOption    = "RAW"
)

var ErrSpreadsheetNotFound = errors.New("spreadsheet not found")

// Store reads and writes the first worksheet of a spreadsheet.
// The Drive file version serves as the table version.
type Store struct {
	sheets *gsheets.Service
	drive  *drive.Service
	name   string

	mu    sync.Mutex
	id    string
	title string
}

var _ evaluation.TableStore = (*Store)(nil)

// New authenticates with the service account key of conf.Results.CredentialsFile.
func New(ctx context.Context, conf *core.Config) (*Store, error) {
	data, err := os.ReadFile(conf.Results.CredentialsFile)
	if err != nil {
		return nil, core.NewConfigError("reading Google credentials: %v", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, gsheets.SpreadsheetsScope, drive.DriveMetadataReadonlyScope)
	if err != nil {
		return nil, core.NewConfigError("parsing Google credentials: %v", err)
	}
	return NewWithOptions(ctx, conf.Results.SheetName, conf.Results.SpreadsheetID, option.WithCredentials(creds))
}

// NewWithOptions addresses the spreadsheet by id, or by name when id is empty.
func NewWithOptions(ctx context.Context, name, id string, opts ...option.ClientOption) (*Store, error) {
	if id == "" && name == "" {
		return nil, core.NewConfigError("spreadsheet name or ID is required")
	}
	ss, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating sheets client")
	}
	ds, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating drive client")
	}
	return &Store{sheets: ss, drive: ds, name: name, id: id}, nil
}

// resolve finds the spreadsheet ID and the title of its first worksheet.
func (st *Store) resolve(ctx context.Context) (string, string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.id != "" && st.title != "" {
		return st.id, st.title, nil
	}

	if st.id == "" {
		q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
			strings.ReplaceAll(st.name, "'", `\'`), spreadsheetMimeType)
		res, err := st.drive.Files.List().Q(q).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
		if err != nil {
			return "", "", errors.Wrap(err, "looking up spreadsheet")
		}
		if len(res.Files) == 0 {
			return "", "", errors.Wrap(ErrSpreadsheetNotFound, st.name)
		}
		st.id = res.Files[0].Id
	}

	ss, err := st.sheets.Spreadsheets.Get(st.id).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return "", "", errors.Wrap(err, "reading spreadsheet")
	}
	if len(ss.Sheets) == 0 || ss.Sheets[0].Properties == nil {
		return "", "", errors.Errorf("spreadsheet %s has no worksheet", st.id)
	}
	st.title = ss.Sheets[0].Properties.Title
	return st.id, st.title, nil
}

func (st *Store) version(ctx context.Context, id string) (string, error) {
	f, err := st.drive.Files.Get(id).Fields("version").Context(ctx).Do()
	if err != nil {
		return "", errors.Wrap(err, "reading spreadsheet version")
	}
	return strconv.FormatInt(f.Version, 10), nil
}

func (st *Store) LoadTable(ctx context.Context) (evaluation.Table, error) {
	id, title, err := st.resolve(ctx)
	if err != nil {
		return evaluation.Table{}, err
	}
	// read the version first: a write in between makes the next save conflict
	ver, err := st.version(ctx, id)
	if err != nil {
		return evaluation.Table{}, err
	}
	vr, err := st.sheets.Spreadsheets.Values.Get(id, quote(title)).
		ValueRenderOption("FORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return evaluation.Table{}, errors.Wrap(err, "reading values")
	}

	t := evaluation.Table{Version: ver}
	for i, row := range vr.Values {
		rec := make([]string, len(row))
		for j, cell := range row {
			rec[j] = fmt.Sprint(cell)
		}
		if i == 0 {
			t.Header = rec
			continue
		}
		if isBlank(rec) {
			continue
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

func (st *Store) SaveTable(ctx context.Context, t evaluation.Table) error {
	id, title, err := st.resolve(ctx)
	if err != nil {
		return err
	}
	ver, err := st.version(ctx, id)
	if err != nil {
		return err
	}
	if ver != t.Version {
		return evaluation.ErrConflict
	}

	values := make([][]interface{}, 0, len(t.Records)+1)
	values = append(values, toCells(t.Header))
	for _, rec := range t.Records {
		values = append(values, toCells(rec))
	}
	// cells are stored verbatim: IDs keep leading zeros and comments are never parsed as formulas
	_, err = st.sheets.Spreadsheets.Values.Update(id, quote(title)+"!A1", &gsheets.ValueRange{Values: values}).
		ValueInputOption(valueInputOption).Context(ctx).Do()
	if err != nil {
		return errors.Wrap(err, "writing values")
	}

	// drop rows left over from a longer table
	rest := fmt.Sprintf("%s!A%d:%s", quote(title), len(values)+1, lastColumn)
	if _, err = st.sheets.Spreadsheets.Values.Clear(id, rest, &gsheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return errors.Wrap(err, "clearing trailing rows")
	}
	return nil
}

func quote(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func toCells(rec []string) []interface{} {
	cells := make([]interface{}, len(rec))
	for i, v := range rec {
		cells[i] = v
	}
	return cells
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
