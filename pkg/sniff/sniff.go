// Package sniff reads the first lines of a delimited text file and works out
// its column names and one sample row.
package sniff

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/materials-commons/mcload/pkg/loaderr"
	"github.com/materials-commons/mcload/pkg/mcdb/mcmodel"
	pkgerrors "github.com/pkg/errors"
)

// DefaultMaxLineBytes bounds how much of a line is read before the file is
// rejected as not being line oriented.
const DefaultMaxLineBytes = 1024 * 1024

const utf8BOM = "\uFEFF"

// Columns is the result of sniffing a file. Names and Values are never nil.
// Their lengths can differ when the header and the first data row disagree.
type Columns struct {
	Names  []string `json:"column_names"`
	Values []string `json:"column_values"`
}

type Sniffer struct {
	MaxLineBytes int
}

func New() *Sniffer {
	return &Sniffer{MaxLineBytes: DefaultMaxLineBytes}
}

// Sniff splits the first line of the file at path on setting.Delimiter.
//
// With a header the first line gives the names and the second line, if
// there is one, gives the sample values. Without a header the first line is
// the sample and the names are col-1, col-2 and so on. Tokens are not
// trimmed and empty tokens are kept. An empty file yields no names and no
// values.
func (s *Sniffer) Sniff(path string, setting mcmodel.FileSetting) (*Columns, error) {
	if setting.Delimiter == "" {
		return nil, loaderr.Invalid("sniff", "", "delimiter for '%s' is empty", path)
	}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, loaderr.Missing("sniff", "", path)
	case err != nil:
		return nil, loaderr.IO("sniff", "", path, pkgerrors.Wrap(err, "open failed"))
	}
	defer f.Close()

	lines := newLineReader(f, s.maxLineBytes())

	first, ok, err := lines.next()
	if err != nil {
		return nil, s.readError(path, 1, err)
	}

	if !ok {
		return &Columns{Names: []string{}, Values: []string{}}, nil
	}

	firstTokens := strings.Split(strings.TrimPrefix(first, utf8BOM), setting.Delimiter)

	if !setting.HasHeader {
		return &Columns{Names: syntheticNames(len(firstTokens)), Values: firstTokens}, nil
	}

	columns := &Columns{Names: firstTokens, Values: []string{}}

	second, ok, err := lines.next()
	if err != nil {
		return nil, s.readError(path, 2, err)
	}

	if ok {
		columns.Values = strings.Split(second, setting.Delimiter)
	}

	return columns, nil
}

// Apply sniffs path with setting's delimiter and header flag and stores the
// result in setting.
func (s *Sniffer) Apply(path string, setting *mcmodel.FileSetting) error {
	columns, err := s.Sniff(path, *setting)
	if err != nil {
		return err
	}

	setting.ColumnNames = columns.Names
	setting.ColumnValues = columns.Values

	return nil
}

func (s *Sniffer) maxLineBytes() int {
	if s.MaxLineBytes <= 0 {
		return DefaultMaxLineBytes
	}

	return s.MaxLineBytes
}

func (s *Sniffer) readError(path string, lineNumber int, err error) error {
	if errors.Is(err, errLineTooLong) {
		return loaderr.Invalid("sniff", "", "line %d of '%s' is longer than %d bytes", lineNumber, path, s.maxLineBytes())
	}

	return loaderr.IO("sniff", "", path, pkgerrors.Wrapf(err, "read failed on line %d", lineNumber))
}

func syntheticNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("col-%d", i+1)
	}

	return names
}

var errLineTooLong = errors.New("line too long")

type lineReader struct {
	r   *bufio.Reader
	max int
}

func newLineReader(r io.Reader, max int) *lineReader {
	return &lineReader{r: bufio.NewReader(r), max: max}
}

// next returns the next line without its terminator. ok is false at end of
// input. A final line without a newline is still returned.
func (l *lineReader) next() (string, bool, error) {
	var buf []byte
	for {
		chunk, err := l.r.ReadSlice('\n')
		if len(buf)+len(chunk) > l.max+2 {
			return "", false, errLineTooLong
		}
		buf = append(buf, chunk...)

		switch {
		case err == nil:
			return trimEOL(buf), true, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(buf) == 0 {
				return "", false, nil
			}
			return trimEOL(buf), true, nil
		default:
			return "", false, err
		}
	}
}

func trimEOL(b []byte) string {
	s := string(b)
	if strings.HasSuffix(s, "\n") {
		s = strings.TrimSuffix(s[:len(s)-1], "\r")
	}

	return s
}
