package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	verr "relgit/internal/errors"
	"relgit/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI against db and returns what commands wrote through
// cobra's output.
func run(t *testing.T, db string, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--db", db, "--org", "acme", "--repo", "notes", "--branch", "main"}, args...))
	err := rootCmd.Execute()
	if err != nil && cur.backend != nil {
		cur.backend.Close()
		cur.store, cur.backend = nil, nil
	}
	return out.String(), err
}

func TestCLIRoundTrip(t *testing.T) {
	db := filepath.Join(t.TempDir(), "db")

	_, err := run(t, db, "", "init")
	require.NoError(t, err)

	_, err = run(t, db, "", "init")
	assert.True(t, errors.Is(err, verr.ErrBranchExists))

	_, err = run(t, db, "hello\n", "put", "docs/hello.txt", "-m", "say hello")
	require.NoError(t, err)

	out, err := run(t, db, "", "cat", "docs/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	_, err = run(t, db, "", "branch", "dev")
	require.NoError(t, err)
	_, err = run(t, db, "bye\n", "-b", "dev", "put", "docs/bye.txt")
	require.NoError(t, err)
	_, err = run(t, db, "", "merge", "dev")
	require.NoError(t, err)

	out, err = run(t, db, "", "cat", "docs/bye.txt")
	require.NoError(t, err)
	assert.Equal(t, "bye\n", out)

	_, err = run(t, db, "", "rm", "docs")
	require.NoError(t, err)
	_, err = run(t, db, "", "cat", "docs/hello.txt")
	assert.True(t, errors.Is(err, verr.ErrPathNotFound))
}

func TestShort(t *testing.T) {
	assert.Equal(t, "0123456789", short("0123456789abcdef"))
	assert.Equal(t, "abc", short("abc"))
	assert.Equal(t, "first", firstLine("first\nsecond"))
}

func TestPrintTree(t *testing.T) {
	entries := []repo.IndexEntry{
		{Path: "README", Dir: "", BlobOID: "aaaaaaaaaaaaaaaa"},
		{Path: "docs/a.txt", Dir: "docs", BlobOID: "bbbbbbbbbbbbbbbb"},
		{Path: "docs/img/logo.png", Dir: "docs/img", BlobOID: "cccccccccccccccc"},
	}
	var out bytes.Buffer
	require.NoError(t, printTree(&out, "acme/notes@main", "", entries))

	s := out.String()
	assert.True(t, strings.HasPrefix(s, "acme/notes@main\n"))
	for _, want := range []string{"[aaaaaaaaaa]  README", "docs", "[bbbbbbbbbb]  a.txt", "img", "[cccccccccc]  logo.png"} {
		assert.Contains(t, s, want)
	}
	assert.Less(t, strings.Index(s, "img"), strings.Index(s, "logo.png"))
}
