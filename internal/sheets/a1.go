package sheets

import (
	"fmt"
	"strconv"
	"strings"
)

// A1Range is a parsed range such as 'Sheet1'!A2:Z or Sheet1!C7.
// Indices are 0-based columns and 1-based rows; EndRow 0 means open-ended.
type A1Range struct {
	Sheet    string
	StartCol int
	StartRow int
	EndCol   int
	EndRow   int
}

// ParseA1 parses the subset of A1 notation this service produces.
func ParseA1(rng string) (A1Range, error) {
	bang := strings.LastIndex(rng, "!")
	if bang <= 0 {
		return A1Range{}, fmt.Errorf("range %q: missing sheet name", rng)
	}
	sheet := rng[:bang]
	if len(sheet) >= 2 && sheet[0] == '\'' && sheet[len(sheet)-1] == '\'' {
		sheet = strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
	}
	out := A1Range{Sheet: sheet}

	startRef, endRef, isSpan := strings.Cut(rng[bang+1:], ":")
	var err error
	if out.StartCol, out.StartRow, err = splitRef(startRef); err != nil {
		return A1Range{}, fmt.Errorf("range %q: %w", rng, err)
	}
	if !isSpan {
		out.EndCol, out.EndRow = out.StartCol, out.StartRow
		return out, nil
	}
	if out.EndCol, out.EndRow, err = splitRef(endRef); err != nil {
		return A1Range{}, fmt.Errorf("range %q: %w", rng, err)
	}
	return out, nil
}

// splitRef splits "C7" into (2, 7) and "Z" into (25, 0).
func splitRef(ref string) (int, int, error) {
	i := 0
	for i < len(ref) && (ref[i] >= 'A' && ref[i] <= 'Z' || ref[i] >= 'a' && ref[i] <= 'z') {
		i++
	}
	col, err := LetterToIndex(ref[:i])
	if err != nil {
		return 0, 0, err
	}
	if i == len(ref) {
		return col, 0, nil
	}
	row, err := strconv.Atoi(ref[i:])
	if err != nil || row < 1 {
		return 0, 0, fmt.Errorf("invalid row in %q", ref)
	}
	return col, row, nil
}
