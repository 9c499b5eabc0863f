package tree

import (
	"errors"
	"testing"

	verr "relgit/internal/errors"
	"relgit/internal/hashing"
	"relgit/internal/object"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var h = hashing.Native{}

func blob(s string) string { return h.HashBlob([]byte(s)) }

func build(t *testing.T, files map[string]string, order ...string) *object.Tree {
	t.Helper()
	tr := object.EmptyTree(h)
	for _, p := range order {
		var err error
		tr, err = Update(h, tr, p, blob(files[p]))
		require.NoError(t, err)
	}
	return tr
}

func TestSplit(t *testing.T) {
	segs, err := Split("/movies//1.json/")
	require.NoError(t, err)
	assert.Equal(t, []string{"movies", "1.json"}, segs)

	for _, bad := range []string{"", "/", "a/../b", "./a"} {
		_, err := Split(bad)
		assert.Error(t, err, bad)
		assert.True(t, errors.Is(err, verr.ErrValidation))
	}
}

func TestUpdateReadRoundTrip(t *testing.T) {
	paths := []string{"a.txt", "movies/1.json", "movies/sub/deep/2.json", "z"}
	tr := object.EmptyTree(h)

	for _, p := range paths {
		oid := blob(p)
		var err error
		tr, err = Update(h, tr, p, oid)
		require.NoError(t, err)

		e := Read(tr, p)
		require.NotNil(t, e, p)
		assert.Equal(t, oid, e.OID)
		assert.Equal(t, p, e.Path)
	}
	assert.Nil(t, Read(tr, "movies/missing"))
	assert.Nil(t, Read(tr, "a.txt/nested"))
	assert.NotNil(t, Read(tr, "movies/sub"))
	assert.Nil(t, ReadBlob(tr, "movies/sub"))
}

func TestUpdateIsCopyOnWrite(t *testing.T) {
	files := map[string]string{"movies/1.json": "one", "books/1.json": "b"}
	orig := build(t, files, "movies/1.json", "books/1.json")
	origOID := orig.OID
	origMovies := orig.Entry("movies").OID

	next, err := Update(h, orig, "movies/2.json", blob("two"))
	require.NoError(t, err)

	assert.Equal(t, origOID, orig.OID)
	assert.Equal(t, origOID, object.HashTree(h, orig))
	assert.Nil(t, Read(orig, "movies/2.json"))
	assert.Equal(t, origMovies, orig.Entry("movies").OID)

	assert.NotEqual(t, origOID, next.OID)
	assert.NotEqual(t, origMovies, next.Entry("movies").OID)
	// untouched sibling subtree is shared
	assert.Same(t, orig.Entry("books").Tree, next.Entry("books").Tree)
}

func TestUpdateKeepsInsertionOrder(t *testing.T) {
	tr := build(t, map[string]string{"b": "1", "a": "2"}, "b", "a")
	assert.Equal(t, "b", tr.Entries[0].Name)
	assert.Equal(t, "a", tr.Entries[1].Name)

	tr, err := Update(h, tr, "b", blob("changed"))
	require.NoError(t, err)
	assert.Equal(t, "b", tr.Entries[0].Name, "replaced entry keeps its slot")
}

func TestHashIsPureFunctionOfEntries(t *testing.T) {
	files := map[string]string{"x/1": "1", "x/2": "2", "y": "3"}
	a := build(t, files, "x/1", "x/2", "y")
	b := build(t, files, "x/1", "x/2", "y")
	assert.Equal(t, a.OID, b.OID)

	c := build(t, files, "y", "x/1", "x/2")
	assert.NotEqual(t, a.OID, c.OID, "insertion order is part of the hash")
}

func TestRemove(t *testing.T) {
	files := map[string]string{"movies/1.json": "1", "movies/2.json": "2", "top": "t"}
	orig := build(t, files, "movies/1.json", "movies/2.json", "top")

	next, err := Remove(h, orig, "movies/1.json")
	require.NoError(t, err)
	assert.Nil(t, Read(next, "movies/1.json"))
	assert.NotNil(t, Read(next, "movies/2.json"))
	assert.NotNil(t, Read(orig, "movies/1.json"), "original untouched")

	next, err = Remove(h, next, "movies/2.json")
	require.NoError(t, err)
	assert.Nil(t, next.Entry("movies"), "empty directory pruned")

	only := build(t, files, "top")
	assert.Equal(t, only.OID, next.OID)
}

func TestRemoveMissing(t *testing.T) {
	tr := build(t, map[string]string{"a/b": "1"}, "a/b")

	for _, p := range []string{"nope", "a/c", "a/b/c", "x/y/z"} {
		_, err := Remove(h, tr, p)
		require.Error(t, err, p)
		assert.True(t, errors.Is(err, verr.ErrPathNotFound), p)
	}
}

func TestFlattenAndBuild(t *testing.T) {
	files := map[string]string{"m/1": "1", "m/2": "2", "r": "r", "n/o/p": "p"}
	tr := build(t, files, "m/1", "r", "m/2", "n/o/p")

	leaves := Flatten(tr)
	var paths []string
	for _, l := range leaves {
		paths = append(paths, l.Path)
		assert.Equal(t, blob(files[l.Path]), l.OID)
	}
	assert.Equal(t, []string{"m/1", "m/2", "r", "n/o/p"}, paths)

	rebuilt, err := Build(h, leaves)
	require.NoError(t, err)
	assert.Equal(t, tr.OID, rebuilt.OID)
}

func TestBuildKeepsModes(t *testing.T) {
	tr, err := Build(h, []Leaf{
		{Path: "bin/run.sh", Mode: "100755", OID: blob("#!/bin/sh")},
		{Path: "README", Mode: object.ModeBlob, OID: blob("hi")},
	})
	require.NoError(t, err)

	assert.Equal(t, "100755", Read(tr, "bin/run.sh").Mode)
	assert.Equal(t, object.HashTree(h, tr), tr.OID)
	assert.Equal(t, object.HashTree(h, tr.Entry("bin").Tree), tr.Entry("bin").OID)
}

func TestUpdateKeepsMode(t *testing.T) {
	tr, err := Build(h, []Leaf{
		{Path: "bin/run.sh", Mode: "100755", OID: blob("#!/bin/sh")},
		{Path: "link", Mode: "120000", OID: blob("target")},
	})
	require.NoError(t, err)

	tr, err = Update(h, tr, "bin/run.sh", blob("#!/bin/bash"))
	require.NoError(t, err)
	tr, err = Update(h, tr, "link", blob("elsewhere"))
	require.NoError(t, err)

	assert.Equal(t, "100755", Read(tr, "bin/run.sh").Mode)
	assert.Equal(t, "120000", Read(tr, "link").Mode)
	assert.Equal(t, object.HashTree(h, tr), tr.OID)

	// A blob written over a directory is a plain file.
	tr, err = Update(h, tr, "bin", blob("now a file"))
	require.NoError(t, err)
	assert.Equal(t, object.ModeBlob, Read(tr, "bin").Mode)
}

func TestUpdateReplacesKindInPlace(t *testing.T) {
	files := map[string]string{"a": "1", "p": "2", "z": "3", "d/x": "4"}
	tr := build(t, files, "a", "p", "d/x", "z")

	toDir, err := Update(h, tr, "p/inner", blob("5"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "p", "d", "z"}, names(toDir))
	assert.True(t, toDir.Entry("p").IsTree())

	toBlob, err := Update(h, tr, "d", blob("6"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "p", "d", "z"}, names(toBlob))
	assert.False(t, toBlob.Entry("d").IsTree())
}

func TestNested(t *testing.T) {
	assert.True(t, Nested("p", "p/x"))
	assert.True(t, Nested("d/a/b.md", "d"))
	assert.False(t, Nested("p", "p"))
	assert.False(t, Nested("p", "px/y"))
	assert.False(t, Nested("a/b", "a/c"))
}

func names(t *object.Tree) []string {
	var out []string
	for _, e := range t.Entries {
		out = append(out, e.Name)
	}
	return out
}
