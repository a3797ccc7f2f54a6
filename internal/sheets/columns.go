package sheets

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxColumnIndex is the 0-based index of XFD, the last column a sheet can hold.
const MaxColumnIndex = 16383

// LetterToIndex converts a column name such as "A" or "AZ" to a 0-based index.
// Lowercase letters are accepted. Columns past XFD are rejected.
func LetterToIndex(letters string) (int, error) {
	letters = strings.ToUpper(strings.TrimSpace(letters))
	if letters == "" {
		return 0, fmt.Errorf("column letters are required")
	}
	if len(letters) > 3 {
		return 0, fmt.Errorf("column %q is out of range", letters)
	}
	value := 0
	for _, ch := range letters {
		if ch < 'A' || ch > 'Z' {
			return 0, fmt.Errorf("invalid column %q", letters)
		}
		value = value*26 + int(ch-'A'+1)
	}
	if value-1 > MaxColumnIndex {
		return 0, fmt.Errorf("column %q is out of range", letters)
	}
	return value - 1, nil
}

// IndexToLetter converts a 0-based column index to its letters.
func IndexToLetter(index int) string {
	if index < 0 {
		return ""
	}
	var buf []byte
	for n := index + 1; n > 0; {
		n--
		buf = append([]byte{byte('A' + n%26)}, buf...)
		n /= 26
	}
	return string(buf)
}

// CellName joins a column index and a 1-based row into A1 notation.
func CellName(col, row int) string {
	return IndexToLetter(col) + strconv.Itoa(row)
}

// QuoteSheet wraps a sheet name for use in an A1 range.
func QuoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// Columns names the sheet columns a job reads and writes.
type Columns struct {
	Article string
	Target  string
	Output  string
	// Label is optional; empty means the column right of Output.
	Label string
}

// Layout is Columns resolved to 0-based indices.
type Layout struct {
	Article int
	Target  int
	Output  int
	Label   int
}

// Resolve validates the letters and computes indices.
func (c Columns) Resolve() (Layout, error) {
	var (
		l   Layout
		err error
	)
	if l.Article, err = LetterToIndex(c.Article); err != nil {
		return Layout{}, fmt.Errorf("article column: %w", err)
	}
	if l.Target, err = LetterToIndex(c.Target); err != nil {
		return Layout{}, fmt.Errorf("target column: %w", err)
	}
	if l.Output, err = LetterToIndex(c.Output); err != nil {
		return Layout{}, fmt.Errorf("output column: %w", err)
	}
	if strings.TrimSpace(c.Label) == "" {
		if l.Output == MaxColumnIndex {
			return Layout{}, fmt.Errorf("label column: no column right of %s", IndexToLetter(l.Output))
		}
		l.Label = l.Output + 1
		return l, nil
	}
	if l.Label, err = LetterToIndex(c.Label); err != nil {
		return Layout{}, fmt.Errorf("label column: %w", err)
	}
	return l, nil
}

// lastRead is the rightmost column a candidate read must cover: Z or further
// when a configured column lies beyond it.
func (l Layout) lastRead() int {
	last := 25
	for _, c := range []int{l.Article, l.Target, l.Output} {
		if c > last {
			last = c
		}
	}
	return last
}
