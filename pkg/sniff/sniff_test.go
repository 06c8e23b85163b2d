package sniff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/materials-commons/mcload/pkg/loaderr"
	"github.com/materials-commons/mcload/pkg/mcdb/mcmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func setting(delimiter string, hasHeader bool) mcmodel.FileSetting {
	s := mcmodel.NewFileSetting()
	s.Delimiter = delimiter
	s.HasHeader = hasHeader
	return s
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name      string
		contents  string
		delimiter string
		hasHeader bool
		names     []string
		values    []string
	}{
		{
			name:      "header and sample",
			contents:  "a,b,c\n1,2,3\n",
			delimiter: ",",
			hasHeader: true,
			names:     []string{"a", "b", "c"},
			values:    []string{"1", "2", "3"},
		},
		{
			name:      "no header",
			contents:  "x;y\n",
			delimiter: ";",
			hasHeader: false,
			names:     []string{"col-1", "col-2"},
			values:    []string{"x", "y"},
		},
		{
			name:      "header only",
			contents:  "id,name\n",
			delimiter: ",",
			hasHeader: true,
			names:     []string{"id", "name"},
			values:    []string{},
		},
		{
			name:      "header only without newline",
			contents:  "id,name",
			delimiter: ",",
			hasHeader: true,
			names:     []string{"id", "name"},
			values:    []string{},
		},
		{
			name:      "crlf line endings",
			contents:  "a,b\r\n1,2\r\n",
			delimiter: ",",
			hasHeader: true,
			names:     []string{"a", "b"},
			values:    []string{"1", "2"},
		},
		{
			name:      "byte order mark is dropped",
			contents:  "\uFEFFa,b\n1,2\n",
			delimiter: ",",
			hasHeader: true,
			names:     []string{"a", "b"},
			values:    []string{"1", "2"},
		},
		{
			name:      "empty tokens are kept",
			contents:  ",a,,b,\n1,,2\n",
			delimiter: ",",
			hasHeader: true,
			names:     []string{"", "a", "", "b", ""},
			values:    []string{"1", "", "2"},
		},
		{
			name:      "tokens are not trimmed",
			contents:  " a | b \n",
			delimiter: "|",
			hasHeader: false,
			names:     []string{"col-1", "col-2"},
			values:    []string{" a ", " b "},
		},
		{
			name:      "multi character delimiter",
			contents:  "a::b::c\n1::2::3\n",
			delimiter: "::",
			hasHeader: true,
			names:     []string{"a", "b", "c"},
			values:    []string{"1", "2", "3"},
		},
		{
			name:      "mismatched lengths pass through",
			contents:  "a,b,c\n1,2\n",
			delimiter: ",",
			hasHeader: true,
			names:     []string{"a", "b", "c"},
			values:    []string{"1", "2"},
		},
		{
			name:      "duplicate names allowed",
			contents:  "a,a\n1,2\n",
			delimiter: ",",
			hasHeader: true,
			names:     []string{"a", "a"},
			values:    []string{"1", "2"},
		},
		{
			name:      "only first two lines read",
			contents:  "a\tb\n1\t2\n3\t4\n",
			delimiter: "\t",
			hasHeader: true,
			names:     []string{"a", "b"},
			values:    []string{"1", "2"},
		},
		{
			name:      "empty file",
			contents:  "",
			delimiter: ",",
			hasHeader: true,
			names:     []string{},
			values:    []string{},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := writeFile(t, test.contents)
			columns, err := New().Sniff(path, setting(test.delimiter, test.hasHeader))
			require.NoError(t, err)
			assert.Equal(t, test.names, columns.Names)
			assert.Equal(t, test.values, columns.Values)
		})
	}
}

func TestSniffMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.csv")
	_, err := New().Sniff(path, setting(",", true))
	require.Error(t, err)
	assert.True(t, loaderr.Is(err, loaderr.NotFound))
	assert.Contains(t, err.Error(), path)
}

func TestSniffReadFailure(t *testing.T) {
	// Opening a directory works but reading it does not.
	dir := t.TempDir()
	_, err := New().Sniff(dir, setting(",", true))
	require.Error(t, err)
	assert.True(t, loaderr.Is(err, loaderr.IOFailure))
	assert.Contains(t, err.Error(), "read failed")
}

func TestSniffRejectsEmptyDelimiter(t *testing.T) {
	path := writeFile(t, "a,b\n")
	_, err := New().Sniff(path, setting("", true))
	assert.True(t, loaderr.Is(err, loaderr.InvalidInput))
}

func TestSniffRejectsOverlongLine(t *testing.T) {
	s := &Sniffer{MaxLineBytes: 16}

	path := writeFile(t, strings.Repeat("x", 64)+"\n1\n")
	_, err := s.Sniff(path, setting(",", true))
	assert.True(t, loaderr.Is(err, loaderr.InvalidInput))

	path = writeFile(t, "a,b\n"+strings.Repeat("y", 64)+"\n")
	_, err = s.Sniff(path, setting(",", true))
	assert.True(t, loaderr.Is(err, loaderr.InvalidInput))

	// A line over the default bufio buffer but under the limit is fine.
	long := strings.Repeat("z", 10000)
	path = writeFile(t, long+",end\n")
	columns, err := New().Sniff(path, setting(",", false))
	require.NoError(t, err)
	assert.Equal(t, []string{long, "end"}, columns.Values)
}

func TestApplyUpdatesSetting(t *testing.T) {
	path := writeFile(t, "name;age\nann;41\n")

	fs := setting(";", true)
	require.NoError(t, New().Apply(path, &fs))
	assert.Equal(t, []string{"name", "age"}, fs.ColumnNames)
	assert.Equal(t, []string{"ann", "41"}, fs.ColumnValues)
	assert.Equal(t, ";", fs.Delimiter)

	value, ok := fs.ColumnValue(1)
	assert.True(t, ok)
	assert.Equal(t, "41", value)

	_, ok = fs.ColumnValue(2)
	assert.False(t, ok)

	// A failed sniff leaves the previous columns alone.
	fs.Delimiter = ""
	require.Error(t, New().Apply(path, &fs))
	assert.Equal(t, []string{"name", "age"}, fs.ColumnNames)
}
