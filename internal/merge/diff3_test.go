package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreeWay(t *testing.T) {
	tests := []struct {
		name               string
		base, ours, theirs string
		want               string
		clean              bool
	}{
		{
			name: "only theirs changed",
			base: "a\nb\nc\n", ours: "a\nb\nc\n", theirs: "a\nB\nc\n",
			want: "a\nB\nc\n", clean: true,
		},
		{
			name: "only ours changed",
			base: "a\nb\nc\n", ours: "A\nb\nc\n", theirs: "a\nb\nc\n",
			want: "A\nb\nc\n", clean: true,
		},
		{
			name: "disjoint line edits",
			base: "1\n2\n3\n4\n5\n", ours: "one\n2\n3\n4\n5\n", theirs: "1\n2\n3\n4\nfive\n",
			want: "one\n2\n3\n4\nfive\n", clean: true,
		},
		{
			name: "same edit on both sides",
			base: "a\nb\nc\n", ours: "a\nX\nc\nd\n", theirs: "a\nX\nc\ne\n",
			want: "a\nX\nc\n" + MarkerOurs + "\nd\n" + MarkerSep + "\ne\n" + MarkerTheirs + "\n",
			clean: false,
		},
		{
			name: "insertions at different points",
			base: "a\nb\nc\n", ours: "a\nnew1\nb\nc\n", theirs: "a\nb\nc\nnew2\n",
			want: "a\nnew1\nb\nc\nnew2\n", clean: true,
		},
		{
			name: "one side deletes a line",
			base: "a\nb\nc\nd\n", ours: "a\nc\nd\n", theirs: "a\nb\nc\nD\n",
			want: "a\nc\nD\n", clean: true,
		},
		{
			name: "conflicting replacement",
			base: "X\n", ours: "A-text\n", theirs: "B-text\n",
			want:  MarkerOurs + "\nA-text\n" + MarkerSep + "\nB-text\n" + MarkerTheirs + "\n",
			clean: false,
		},
		{
			name: "conflict without trailing newline",
			base: "X", ours: "A", theirs: "B",
			want:  MarkerOurs + "\nA\n" + MarkerSep + "\nB\n" + MarkerTheirs + "\n",
			clean: false,
		},
		{
			name: "both insert at same point",
			base: "a\nb\n", ours: "a\nx\nb\n", theirs: "a\ny\nb\n",
			want:  "a\n" + MarkerOurs + "\nx\n" + MarkerSep + "\ny\n" + MarkerTheirs + "\nb\n",
			clean: false,
		},
		{
			name: "empty base",
			base: "", ours: "same\n", theirs: "same\n",
			want: "same\n", clean: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ThreeWay(tt.base, tt.ours, tt.theirs)
			assert.Equal(t, tt.want, res.Text)
			assert.Equal(t, tt.clean, res.Clean)
			if tt.clean {
				assert.Equal(t, 0, res.Conflicts)
			} else {
				assert.Positive(t, res.Conflicts)
			}
		})
	}
}

func TestThreeWayIsSymmetricWhenClean(t *testing.T) {
	base := "1\n2\n3\n4\n5\n6\n"
	ours := "1\ntwo\n3\n4\n5\n6\n"
	theirs := "1\n2\n3\n4\nfive\n6\n"

	a := ThreeWay(base, ours, theirs)
	b := ThreeWay(base, theirs, ours)
	assert.True(t, a.Clean)
	assert.Equal(t, a.Text, b.Text)
}
