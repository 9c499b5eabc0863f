// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
	"strings"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// DiffResult contains the complete diff information
type DiffResult struct {
	Hunks []Hunk
	Stats struct {
		Additions int
		Deletions int
		Changes   int
	}
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{
		contextLines: contextLines,
	}
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) (*DiffResult, error) {
	ops := Ops(SplitLines(string(oldContent)), SplitLines(string(newContent)))

	lines := numberLines(ops)
	result := &DiffResult{Hunks: e.extractHunks(lines)}

	for _, l := range lines {
		switch l.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions

	return result, nil
}

// numberLines converts an edit script into diff lines carrying their
// 1-based positions in the old and new content.
func numberLines(ops []Op) []Line {
	lines := make([]Line, len(ops))
	oldNum, newNum := 0, 0
	for i, op := range ops {
		l := Line{Content: strings.TrimSuffix(op.Line, "\n")}
		switch op.Type {
		case Equal:
			oldNum++
			newNum++
			l.Type, l.OldNum, l.NewNum = Context, oldNum, newNum
		case Delete:
			oldNum++
			l.Type, l.OldNum = Deletion, oldNum
		case Insert:
			newNum++
			l.Type, l.NewNum = Addition, newNum
		}
		lines[i] = l
	}
	return lines
}

// extractHunks groups changed lines, with contextLines of surrounding
// context, into hunks. Hunks whose context would overlap are merged.
func (e *Engine) extractHunks(lines []Line) []Hunk {
	var hunks []Hunk
	start, end := -1, -1

	flush := func() {
		if start < 0 {
			return
		}
		hunks = append(hunks, makeHunk(lines, start, end))
		start, end = -1, -1
	}

	for i, l := range lines {
		if l.Type == Context {
			continue
		}
		lo := max(0, i-e.contextLines)
		hi := min(len(lines), i+e.contextLines+1)
		if start >= 0 && lo > end {
			flush()
		}
		if start < 0 {
			start = lo
		}
		end = hi
	}
	flush()

	return hunks
}

func makeHunk(lines []Line, start, end int) Hunk {
	h := Hunk{Lines: append([]Line(nil), lines[start:end]...)}

	// Positions before the hunk, for hunks that open with a pure insertion
	// or deletion.
	oldBefore, newBefore := 0, 0
	for _, l := range lines[:start] {
		if l.OldNum > 0 {
			oldBefore = l.OldNum
		}
		if l.NewNum > 0 {
			newBefore = l.NewNum
		}
	}

	for _, l := range h.Lines {
		if l.Type != Addition {
			h.OldLines++
		}
		if l.Type != Deletion {
			h.NewLines++
		}
	}
	h.OldStart = oldBefore
	if h.OldLines > 0 {
		h.OldStart++
	}
	h.NewStart = newBefore
	if h.NewLines > 0 {
		h.NewStart++
	}
	return h
}

// Format returns a string representation of the diff
func (r *DiffResult) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+ ")
			case Deletion:
				buf.WriteString("- ")
			case Context:
				buf.WriteString("  ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}
