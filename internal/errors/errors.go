package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeInternal   ErrorType = "INTERNAL"

	ErrorTypePathNotFound         ErrorType = "PATH_NOT_FOUND"
	ErrorTypeRepoNotFound         ErrorType = "REPO_NOT_FOUND"
	ErrorTypeBranchNotFound       ErrorType = "BRANCH_NOT_FOUND"
	ErrorTypeBranchExists         ErrorType = "BRANCH_EXISTS"
	ErrorTypeCommitNotFound       ErrorType = "COMMIT_NOT_FOUND"
	ErrorTypeNoMergeBase          ErrorType = "NO_MERGE_BASE"
	ErrorTypeConflictingMerge     ErrorType = "CONFLICTING_MERGE"
	ErrorTypeDanglingBlob         ErrorType = "DANGLING_BLOB_REFERENCE"
	ErrorTypeInvalidCommitLineage ErrorType = "INVALID_COMMIT_LINEAGE"
	ErrorTypeNoSync               ErrorType = "NO_SYNC"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error of the same type, so sentinels
// below can be matched with errors.Is regardless of message or details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// Sentinels for errors.Is.
var (
	ErrNotFound             = &Error{Type: ErrorTypeNotFound}
	ErrValidation           = &Error{Type: ErrorTypeValidation}
	ErrPathNotFound         = &Error{Type: ErrorTypePathNotFound}
	ErrRepoNotFound         = &Error{Type: ErrorTypeRepoNotFound}
	ErrBranchNotFound       = &Error{Type: ErrorTypeBranchNotFound}
	ErrBranchExists         = &Error{Type: ErrorTypeBranchExists}
	ErrCommitNotFound       = &Error{Type: ErrorTypeCommitNotFound}
	ErrNoMergeBase          = &Error{Type: ErrorTypeNoMergeBase}
	ErrConflictingMerge     = &Error{Type: ErrorTypeConflictingMerge}
	ErrDanglingBlob         = &Error{Type: ErrorTypeDanglingBlob}
	ErrInvalidCommitLineage = &Error{Type: ErrorTypeInvalidCommitLineage}
	ErrNoSync               = &Error{Type: ErrorTypeNoSync}
)

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

func Internal(message string) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Message: message,
		Code:    http.StatusInternalServerError,
	}
}

func PathNotFound(path string) *Error {
	return &Error{
		Type:    ErrorTypePathNotFound,
		Message: fmt.Sprintf("path not found: %s", path),
		Code:    http.StatusNotFound,
		Details: map[string]string{"path": path},
	}
}

func RepoNotFound(org, repo string) *Error {
	return &Error{
		Type:    ErrorTypeRepoNotFound,
		Message: fmt.Sprintf("repo not found: %s/%s", org, repo),
		Code:    http.StatusNotFound,
	}
}

func BranchNotFound(org, repo, branch string) *Error {
	return &Error{
		Type:    ErrorTypeBranchNotFound,
		Message: fmt.Sprintf("branch not found: %s/%s@%s", org, repo, branch),
		Code:    http.StatusNotFound,
	}
}

func BranchExists(org, repo, branch string) *Error {
	return &Error{
		Type:    ErrorTypeBranchExists,
		Message: fmt.Sprintf("branch already exists: %s/%s@%s", org, repo, branch),
		Code:    http.StatusConflict,
	}
}

func CommitNotFound(oid string) *Error {
	return &Error{
		Type:    ErrorTypeCommitNotFound,
		Message: fmt.Sprintf("commit not found: %s", oid),
		Code:    http.StatusNotFound,
		Details: map[string]string{"oid": oid},
	}
}

func NoMergeBase(target, source string) *Error {
	return &Error{
		Type:    ErrorTypeNoMergeBase,
		Message: fmt.Sprintf("no merge base between %s and %s", target, source),
		Code:    http.StatusConflict,
	}
}

// ConflictDetails is attached to a ConflictingMerge error.
type ConflictDetails struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

func ConflictingMerge(path, text string) *Error {
	return &Error{
		Type:    ErrorTypeConflictingMerge,
		Message: fmt.Sprintf("conflicting merge at %s", path),
		Code:    http.StatusConflict,
		Details: ConflictDetails{Path: path, Text: text},
	}
}

func DanglingBlob(oid string) *Error {
	return &Error{
		Type:    ErrorTypeDanglingBlob,
		Message: fmt.Sprintf("dangling blob reference: %s", oid),
		Code:    http.StatusInternalServerError,
		Details: map[string]string{"oid": oid},
	}
}

func InvalidCommitLineage(expected, actual string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidCommitLineage,
		Message: fmt.Sprintf("invalid commit lineage: expected %s, rebuilt %s", expected, actual),
		Code:    http.StatusUnprocessableEntity,
		Details: map[string]string{"expected": expected, "actual": actual},
	}
}

func NoSync(reason string) *Error {
	return &Error{
		Type:    ErrorTypeNoSync,
		Message: fmt.Sprintf("cannot sync: %s", reason),
		Code:    http.StatusConflict,
	}
}

// As extracts the typed error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusCode maps err to an HTTP status, defaulting to 500.
func StatusCode(err error) int {
	if e, ok := As(err); ok && e.Code != 0 {
		return e.Code
	}
	return http.StatusInternalServerError
}
