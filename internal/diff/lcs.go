package diff

import "strings"

// OpType classifies one step of an edit script.
type OpType int

const (
	Equal OpType = iota
	Insert
	Delete
)

// Op is one line of an edit script turning a into b.
type Op struct {
	Type OpType
	Line string
}

// SplitLines splits s after every newline. Each element keeps its "\n"; the
// last one lacks it when s does not end in a newline.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// lcsMatrix holds, at [i][j], the length of the longest common subsequence
// of a[i:] and b[j:].
func lcsMatrix(a, b []string) [][]int {
	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
	}

	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				matrix[i][j] = matrix[i+1][j+1] + 1
			} else {
				matrix[i][j] = max(matrix[i+1][j], matrix[i][j+1])
			}
		}
	}

	return matrix
}

// Ops computes a minimal line edit script from a to b. Within a changed
// region deletions come before insertions.
func Ops(a, b []string) []Op {
	// Trim the common prefix and suffix so the matrix only covers the
	// changed middle.
	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	ops := make([]Op, 0, len(a)+len(b))
	for _, l := range a[:prefix] {
		ops = append(ops, Op{Type: Equal, Line: l})
	}

	ma, mb := a[prefix:len(a)-suffix], b[prefix:len(b)-suffix]
	lcs := lcsMatrix(ma, mb)
	i, j := 0, 0
	for i < len(ma) || j < len(mb) {
		switch {
		case i < len(ma) && j < len(mb) && ma[i] == mb[j]:
			ops = append(ops, Op{Type: Equal, Line: ma[i]})
			i++
			j++
		case j == len(mb) || (i < len(ma) && lcs[i+1][j] >= lcs[i][j+1]):
			ops = append(ops, Op{Type: Delete, Line: ma[i]})
			i++
		default:
			ops = append(ops, Op{Type: Insert, Line: mb[j]})
			j++
		}
	}

	for _, l := range a[len(a)-suffix:] {
		ops = append(ops, Op{Type: Equal, Line: l})
	}
	return ops
}
