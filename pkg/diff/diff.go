// Package diff renders line-oriented differences between two snapshots of a
// report, used for status-file drift logs and verify --diff output.
package diff

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	maxDiffLines    = 10000
	truncateMessage = "... (diff truncated, exceeds 10,000 lines) ..."
)

// Line is one rendered diff line.
type Line struct {
	Op   byte // ' ', '-' or '+'
	Text string
}

// Lines computes a line-level diff. Whole lines are compared, so a changed
// value shows as one removed and one added line.
func Lines(before, after []byte) []Line {
	dmp := diffmatchpatch.New()
	a, b, table := dmp.DiffLinesToChars(string(before), string(after))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), table)

	var out []Line
	for _, d := range diffs {
		op := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			op = '-'
		case diffmatchpatch.DiffInsert:
			op = '+'
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out = append(out, Line{Op: op, Text: strings.TrimSuffix(line, "\n")})
		}
	}
	return out
}

// Stat counts added and removed lines.
func Stat(before, after []byte) (added, removed int) {
	for _, l := range Lines(before, after) {
		switch l.Op {
		case '+':
			added++
		case '-':
			removed++
		}
	}
	return added, removed
}

// Unified renders a unified-style diff with a single hunk. Identical input
// yields an empty string; output beyond 10,000 lines is truncated.
func Unified(before, after []byte, beforeLabel, afterLabel string) string {
	if bytes.Equal(before, after) {
		return ""
	}
	lines := Lines(before, after)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s\n", beforeLabel)
	fmt.Fprintf(&buf, "+++ %s\n", afterLabel)
	fmt.Fprintf(&buf, "@@ -1,%d +1,%d @@\n", countLines(before), countLines(after))
	for i, l := range lines {
		if i >= maxDiffLines {
			buf.WriteString(truncateMessage)
			buf.WriteByte('\n')
			break
		}
		buf.WriteByte(l.Op)
		buf.WriteString(l.Text)
		buf.WriteByte('\n')
	}
	return buf.String()
}

func countLines(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	n := bytes.Count(b, []byte("\n"))
	if b[len(b)-1] != '\n' {
		n++
	}
	return n
}
