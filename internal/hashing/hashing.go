// Package hashing provides the byte-hashing providers object identifiers are
// derived from. Every provider must return identical digests for identical
// input; replicas may run different providers and still agree on OIDs.
package hashing

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/go-git/go-git/v5/plumbing"
	gghash "github.com/go-git/go-git/v5/plumbing/hash"
)

// Provider hashes bytes into lowercase hex digests.
type Provider interface {
	Name() string
	Hash(data []byte) string
	// HashBlob hashes content wrapped as "blob <len>\0<content>".
	HashBlob(content []byte) string
}

// Native uses the standard library SHA-1.
type Native struct{}

func (Native) Name() string { return "native" }

func (Native) Hash(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (n Native) HashBlob(content []byte) string {
	return n.Hash(Envelope("blob", content))
}

// GoGit uses go-git's collision-detecting SHA-1.
type GoGit struct{}

func (GoGit) Name() string { return "gogit" }

func (GoGit) Hash(data []byte) string {
	h := gghash.New(gghash.CryptoType)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (GoGit) HashBlob(content []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, content).String()
}

// Envelope prefixes payload with "<kind> <len>\0".
func Envelope(kind string, payload []byte) []byte {
	header := kind + " " + strconv.Itoa(len(payload)) + "\x00"
	out := make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	return append(out, payload...)
}

// ByName resolves a provider from its configured name.
func ByName(name string) (Provider, error) {
	switch name {
	case "", "native":
		return Native{}, nil
	case "gogit":
		return GoGit{}, nil
	default:
		return nil, fmt.Errorf("unknown hash provider %q", name)
	}
}
