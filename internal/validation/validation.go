// Package validation checks names and request bodies before they reach
// storage.
package validation

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode"

	"relgit/internal/errors"
)

const (
	maxNameLen = 255
	// MaxRequestSize bounds decoded request bodies.
	MaxRequestSize = 64 << 20
)

type Validator interface {
	Validate() error
}

// DecodeRequest decodes a JSON body into v and validates it.
func DecodeRequest(r *http.Request, v Validator) error {
	if r.Body == nil {
		return errors.ValidationError("missing request body", nil)
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxRequestSize)).Decode(v); err != nil {
		return errors.ValidationError("invalid request body", err.Error())
	}
	return v.Validate()
}

// Name checks an organization or repository name: one path segment of
// printable characters.
func Name(kind, value string) error {
	if err := common(kind, value); err != nil {
		return err
	}
	if strings.Contains(value, "/") {
		return errors.ValidationError(fmt.Sprintf("%s must not contain '/'", kind), value)
	}
	return nil
}

// Branch checks a branch name. Slashes are allowed between non-empty
// segments, as in "remotes/main".
func Branch(value string) error {
	if err := common("branch", value); err != nil {
		return err
	}
	for _, seg := range strings.Split(value, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return errors.ValidationError("branch has an empty or relative segment", value)
		}
	}
	return nil
}

// Target checks an org, repo and branch triple.
func Target(org, repo, branch string) error {
	if err := Name("org", org); err != nil {
		return err
	}
	if err := Name("repo", repo); err != nil {
		return err
	}
	return Branch(branch)
}

func common(kind, value string) error {
	switch {
	case value == "":
		return errors.ValidationError(kind+" is required", nil)
	case len(value) > maxNameLen:
		return errors.ValidationError(fmt.Sprintf("%s is longer than %d bytes", kind, maxNameLen), nil)
	case value == "." || value == "..":
		return errors.ValidationError(kind+" must not be a relative name", value)
	}
	for _, r := range value {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return errors.ValidationError(kind+" must not contain spaces or control characters", value)
		}
	}
	return nil
}
