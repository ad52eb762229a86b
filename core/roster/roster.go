package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/peereval/core"
)

// Roster CSV columns
const (
	ColumnID    = "Student ID"
	ColumnName  = "Student Name"
	ColumnEmail = "Email"
	ColumnGroup = "Group #"
)

var (
	RequiredColumns = []string{ColumnID, ColumnName, ColumnEmail, ColumnGroup}

	// minimum difflib ratio for a name to be suggested
	suggestMinRatio = .6

	validate = validator.New()

	// errors
	ErrNotFound = errors.New("student not found")
)

type Student struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"-" validate:"required,email"`
	Group string `json:"group" validate:"required"`
}

// Roster is an immutable table of students.
type Roster struct {
	students []Student
	byID     map[string]int
	names    []string
}

// Provider gives access to the roster currently in effect.
type Provider interface {
	Current() *Roster
}

var _ Provider = (*Roster)(nil)

// New builds a Roster from students, keeping their order.
func New(students ...Student) (*Roster, error) {
	r := &Roster{
		students: make([]Student, 0, len(students)),
		byID:     make(map[string]int, len(students)),
	}
	seen := make(map[string]bool, len(students))
	for _, s := range students {
		s = clean(s)
		if _, dup := r.byID[s.ID]; dup {
			return nil, core.NewConfigError("roster: duplicate student ID %q", s.ID)
		}
		r.byID[s.ID] = len(r.students)
		r.students = append(r.students, s)
		if !seen[s.Name] {
			seen[s.Name] = true
			r.names = append(r.names, s.Name)
		}
	}
	sort.Strings(r.names)
	return r, nil
}

// MustNew is New for fixed rosters; it panics on error.
func MustNew(students ...Student) *Roster {
	r, err := New(students...)
	if err != nil {
		panic(err)
	}
	return r
}

// LoadFile reads a roster CSV file. Any failure is a core.ConfigError.
func LoadFile(path string) (*Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.NewConfigError("could not load %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	r, err := Load(f)
	if err != nil {
		return nil, core.NewConfigError("could not load %s: %v", path, err)
	}
	return r, nil
}

// Load parses a roster CSV. The header must contain RequiredColumns; other columns are ignored.
func Load(rdr io.Reader) (*Roster, error) {
	cr := csv.NewReader(rdr)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty roster")
	} else if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}

	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[core.CleanString(strings.TrimPrefix(col, "\ufeff"))] = i
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}

	cell := func(rec []string, col string) string {
		if i := idx[col]; i < len(rec) {
			return rec[i]
		}
		return ""
	}

	var students []Student
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if isBlank(rec) {
			continue
		}
		s := clean(Student{
			ID:    cell(rec, ColumnID),
			Name:  cell(rec, ColumnName),
			Email: cell(rec, ColumnEmail),
			Group: cell(rec, ColumnGroup),
		})
		if err := validate.Struct(s); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		students = append(students, s)
	}
	if len(students) == 0 {
		return nil, errors.New("empty roster")
	}
	return New(students...)
}

func (r *Roster) Current() *Roster { return r }

func (r *Roster) Len() int { return len(r.students) }

// Students returns a copy of all students in file order.
func (r *Roster) Students() []Student {
	return append([]Student(nil), r.students...)
}

// Names returns the sorted, de-duplicated student names.
func (r *Roster) Names() []string {
	return append([]string(nil), r.names...)
}

// FindByName returns the first student with the given display name.
func (r *Roster) FindByName(name string) (Student, error) {
	name = core.CleanString(name)
	if name != "" {
		for _, s := range r.students {
			if s.Name == name {
				return s, nil
			}
		}
	}
	return Student{}, ErrNotFound
}

func (r *Roster) FindByID(id string) (Student, error) {
	if i, ok := r.byID[core.CleanString(id)]; ok {
		return r.students[i], nil
	}
	return Student{}, ErrNotFound
}

// GroupMembers returns the students of a group in file order.
func (r *Roster) GroupMembers(group string) []Student {
	group = core.CleanString(group)
	var members []Student
	for _, s := range r.students {
		if s.Group == group {
			members = append(members, s)
		}
	}
	return members
}

// Groups returns the sorted group identifiers.
func (r *Roster) Groups() []string {
	seen := make(map[string]bool)
	var groups []string
	for _, s := range r.students {
		if !seen[s.Group] {
			seen[s.Group] = true
			groups = append(groups, s.Group)
		}
	}
	sort.Strings(groups)
	return groups
}

// Suggest returns the roster name closest to `name`, if any is close enough.
func (r *Roster) Suggest(name string) (string, bool) {
	name = strings.ToLower(core.CleanString(name))
	if name == "" {
		return "", false
	}
	var (
		best      string
		bestRatio float64
	)
	for _, n := range r.names {
		ratio := difflib.NewMatcher(strings.Split(name, ""), strings.Split(strings.ToLower(n), "")).Ratio()
		if ratio > bestRatio {
			best, bestRatio = n, ratio
		}
	}
	return best, bestRatio >= suggestMinRatio
}

func (s Student) String() string {
	return fmt.Sprintf("%s (%s)", s.Name, s.ID)
}

func clean(s Student) Student {
	return Student{
		ID:    core.CleanString(s.ID),
		Name:  core.CleanString(s.Name),
		Email: core.CleanString(s.Email),
		Group: core.CleanString(s.Group),
	}
}

func isBlank(rec []string) bool {
	for _, c := range rec {
		if core.CleanString(c) != "" {
			return false
		}
	}
	return true
}
