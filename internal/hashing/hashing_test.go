package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvidersAgree(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte(""),
		[]byte("hello world"),
		[]byte("tree 12\x00100644 a\x00"),
		make([]byte, 1<<16),
	}

	native, gogit := Native{}, GoGit{}
	for _, in := range inputs {
		assert.Equal(t, native.Hash(in), gogit.Hash(in))
		assert.Equal(t, native.HashBlob(in), gogit.HashBlob(in))
	}
}

func TestHashBlobMatchesGit(t *testing.T) {
	// `printf 'hello\n' | git hash-object --stdin`
	want := "ce013625030ba8dba906f756967f9e9ca394464a"
	assert.Equal(t, want, Native{}.HashBlob([]byte("hello\n")))
	assert.Equal(t, want, GoGit{}.HashBlob([]byte("hello\n")))
}

func TestDeterministic(t *testing.T) {
	p := Native{}
	assert.Equal(t, p.Hash([]byte("x")), p.Hash([]byte("x")))
	assert.NotEqual(t, p.Hash([]byte("x")), p.Hash([]byte("y")))
}

func TestEnvelope(t *testing.T) {
	assert.Equal(t, []byte("blob 3\x00abc"), Envelope("blob", []byte("abc")))
	assert.Equal(t, []byte("tree 0\x00"), Envelope("tree", nil))
}

func TestByName(t *testing.T) {
	p, err := ByName("gogit")
	require.NoError(t, err)
	assert.Equal(t, "gogit", p.Name())

	p, err = ByName("")
	require.NoError(t, err)
	assert.Equal(t, "native", p.Name())

	_, err = ByName("md5")
	assert.Error(t, err)
}
