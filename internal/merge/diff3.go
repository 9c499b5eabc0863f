// Package merge holds the storage-independent parts of merging: the
// line-based three-way text merge and the merge-base search.
package merge

import (
	"strings"

	"relgit/internal/diff"
)

const (
	MarkerOurs   = "<<<<<<< ours"
	MarkerSep    = "======="
	MarkerTheirs = ">>>>>>> theirs"
)

// Result of a three-way text merge. Text holds conflict markers when Clean
// is false.
type Result struct {
	Text      string
	Clean     bool
	Conflicts int
}

// hunk replaces base lines [start, end) with lines.
type hunk struct {
	start, end int
	lines      []string
}

// hunks turns the edit script base→side into replacement hunks.
func hunks(base, side []string) []hunk {
	var out []hunk
	pos := 0
	var cur *hunk
	for _, op := range diff.Ops(base, side) {
		switch op.Type {
		case diff.Equal:
			if cur != nil {
				out = append(out, *cur)
				cur = nil
			}
			pos++
		case diff.Delete:
			if cur == nil {
				cur = &hunk{start: pos, end: pos}
			}
			pos++
			cur.end = pos
		case diff.Insert:
			if cur == nil {
				cur = &hunk{start: pos, end: pos}
			}
			cur.lines = append(cur.lines, op.Line)
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// ThreeWay merges ours and theirs, both derived from base, line by line.
// Regions changed by only one side take that side; regions changed by both
// sides identically are taken once; anything else is a conflict.
func ThreeWay(base, ours, theirs string) Result {
	if ours == theirs {
		return Result{Text: ours, Clean: true}
	}
	if base == ours {
		return Result{Text: theirs, Clean: true}
	}
	if base == theirs {
		return Result{Text: ours, Clean: true}
	}

	baseLines := diff.SplitLines(base)
	oh := hunks(baseLines, diff.SplitLines(ours))
	th := hunks(baseLines, diff.SplitLines(theirs))

	var out strings.Builder
	res := Result{Clean: true}
	pos, i, j := 0, 0, 0

	for i < len(oh) || j < len(th) {
		// Seed the group with whichever hunk starts first.
		var start, end int
		switch {
		case j >= len(th) || (i < len(oh) && oh[i].start <= th[j].start):
			start, end = oh[i].start, oh[i].end
		default:
			start, end = th[j].start, th[j].end
		}

		// Pull in every hunk from either side that overlaps the group,
		// widening it until it is stable.
		gi, gj := i, j
		for {
			grew := false
			for gi < len(oh) && overlaps(oh[gi], start, end) {
				end = max(end, oh[gi].end)
				gi++
				grew = true
			}
			for gj < len(th) && overlaps(th[gj], start, end) {
				end = max(end, th[gj].end)
				gj++
				grew = true
			}
			if !grew {
				break
			}
		}

		writeLines(&out, baseLines[pos:start])

		oursSide := oh[i:gi]
		theirsSide := th[j:gj]
		switch {
		case len(theirsSide) == 0:
			writeLines(&out, apply(baseLines, oursSide, start, end))
		case len(oursSide) == 0:
			writeLines(&out, apply(baseLines, theirsSide, start, end))
		default:
			o := apply(baseLines, oursSide, start, end)
			t := apply(baseLines, theirsSide, start, end)
			if equalLines(o, t) {
				writeLines(&out, o)
			} else {
				res.Clean = false
				res.Conflicts++
				writeConflict(&out, o, t)
			}
		}

		pos, i, j = end, gi, gj
	}
	writeLines(&out, baseLines[pos:])

	res.Text = out.String()
	return res
}

// overlaps reports whether h touches the group [start, end). Two insertions
// at the same base position overlap.
func overlaps(h hunk, start, end int) bool {
	return h.start < end || h.start == start
}

// apply rebuilds base[start:end] with side's hunks applied.
func apply(base []string, side []hunk, start, end int) []string {
	var out []string
	cur := start
	for _, h := range side {
		out = append(out, base[cur:h.start]...)
		out = append(out, h.lines...)
		cur = h.end
	}
	return append(out, base[cur:end]...)
}

func writeLines(b *strings.Builder, lines []string) {
	for _, l := range lines {
		b.WriteString(l)
	}
}

func writeConflict(b *strings.Builder, ours, theirs []string) {
	b.WriteString(MarkerOurs + "\n")
	writeBlock(b, ours)
	b.WriteString(MarkerSep + "\n")
	writeBlock(b, theirs)
	b.WriteString(MarkerTheirs + "\n")
}

// writeBlock writes lines, terminating the last one so the next marker
// starts on its own line.
func writeBlock(b *strings.Builder, lines []string) {
	writeLines(b, lines)
	if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
		b.WriteByte('\n')
	}
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
