package roster

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/peereval/core"
)

const rosterCSV = "\ufeffGroup #,Student ID,Student Name,Email,Section\n" +
	"1, 1001 ,Alice Ampere,alice@test.ca,A\n" +
	"1,1002,Andre Avogadro,andre@test.ca,A\n" +
	",,,,\n" +
	"2,2001,Blaise Bernoulli,blaise@test.ca,B\n" +
	"2,2002,Bella Bessel,bella@test.ca,B\n"

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "students.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	r, err := Load(strings.NewReader(rosterCSV))
	require.NoError(t, err)

	want := []Student{
		{ID: "1001", Name: "Alice Ampere", Email: "alice@test.ca", Group: "1"},
		{ID: "1002", Name: "Andre Avogadro", Email: "andre@test.ca", Group: "1"},
		{ID: "2001", Name: "Blaise Bernoulli", Email: "blaise@test.ca", Group: "2"},
		{ID: "2002", Name: "Bella Bessel", Email: "bella@test.ca", Group: "2"},
	}
	if diff := cmp.Diff(want, r.Students()); diff != "" {
		t.Errorf("Students() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, []string{"Alice Ampere", "Andre Avogadro", "Bella Bessel", "Blaise Bernoulli"}, r.Names())
	assert.Equal(t, []string{"1", "2"}, r.Groups())
}

func TestLoad_errors(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		wantErr string
	}{
		{"empty file", "", "empty roster"},
		{"header only", "Student ID,Student Name,Email,Group #\n", "empty roster"},
		{"missing columns", "Student ID,Name,Email\n1001,Alice,a@test.ca\n", "missing columns: Student Name, Group #"},
		{"invalid email", "Student ID,Student Name,Email,Group #\n1001,Alice,nope,1\n", "line 2"},
		{"blank name", "Student ID,Student Name,Email,Group #\n1001, ,a@test.ca,1\n", "line 2"},
		{"duplicate ID", "Student ID,Student Name,Email,Group #\n1001,Alice,a@test.ca,1\n1001,Bob,b@test.ca,1\n", "duplicate student ID"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.csv))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "nope.csv"))
	assert.True(t, core.IsConfigError(err), "missing file: %v", err)

	_, err = LoadFile(writeFile(t, dir, "garbage"))
	assert.True(t, core.IsConfigError(err), "bad file: %v", err)

	r, err := LoadFile(writeFile(t, dir, rosterCSV))
	require.NoError(t, err)
	assert.Equal(t, 4, r.Len())
}

func TestRoster_lookups(t *testing.T) {
	r, err := Load(strings.NewReader(rosterCSV))
	require.NoError(t, err)

	s, err := r.FindByName("  Andre Avogadro ")
	require.NoError(t, err)
	assert.Equal(t, "1002", s.ID)

	_, err = r.FindByName("andre avogadro")
	assert.Equal(t, ErrNotFound, err, "names are case-sensitive")
	_, err = r.FindByName("")
	assert.Equal(t, ErrNotFound, err)

	s, err = r.FindByID(" 2001")
	require.NoError(t, err)
	assert.Equal(t, "Blaise Bernoulli", s.Name)
	_, err = r.FindByID("9999")
	assert.Equal(t, ErrNotFound, err)

	members := r.GroupMembers("1")
	require.Len(t, members, 2)
	assert.Equal(t, "1001", members[0].ID)
	assert.Equal(t, "1002", members[1].ID)
	assert.Empty(t, r.GroupMembers("3"))
}

func TestRoster_duplicateNames(t *testing.T) {
	r := MustNew(
		Student{ID: "1", Name: "Sam Smith", Email: "s1@test.ca", Group: "1"},
		Student{ID: "2", Name: "Sam Smith", Email: "s2@test.ca", Group: "2"},
	)
	assert.Equal(t, []string{"Sam Smith"}, r.Names())
	s, err := r.FindByName("Sam Smith")
	require.NoError(t, err)
	assert.Equal(t, "1", s.ID, "first match in file order")
}

func TestRoster_Suggest(t *testing.T) {
	r, err := Load(strings.NewReader(rosterCSV))
	require.NoError(t, err)

	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"alice ampere", "Alice Ampere", true},
		{"Andre Avogadr", "Andre Avogadro", true},
		{"Bella Bessl", "Bella Bessel", true},
		{"xyz", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := r.Suggest(tc.name)
		assert.Equal(t, tc.wantOK, ok, tc.name)
		if tc.wantOK {
			assert.Equal(t, tc.want, got, tc.name)
		}
	}
}

func TestStudent_String(t *testing.T) {
	s := Student{ID: "1001", Name: "Alice Ampere"}
	assert.Equal(t, "Alice Ampere (1001)", s.String())
}
