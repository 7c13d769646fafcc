// Package clustererr implements the error taxonomy from spec.md §7: every
// error the core produces carries a Kind that decides how it propagates
// (retried locally, surfaced to the API caller, or logged and dropped) and
// a stable Code used verbatim in the HTTP error envelope.
package clustererr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how it must be handled upstream.
type Kind int

const (
	// Internal is a programmer error: logged with a trace_id, surfaced as 500.
	Internal Kind = iota
	// Input is rejected at the API edge (4xx).
	Input
	// NotFound means the referenced article or cluster does not exist.
	NotFound
	// Conflict is a version mismatch, retried internally, surfaced only on exhaustion.
	Conflict
	// Upstream means the gateway or queue is unreachable; retried with backoff.
	Upstream
	// Resource means the verifier budget was exhausted; downgraded, not surfaced.
	Resource
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Upstream:
		return "upstream"
	case Resource:
		return "resource"
	default:
		return "internal"
	}
}

// Error is a taxonomy-tagged, code-carrying error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a taxonomy error with no wrapped cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs a taxonomy error around an existing error, preserving it
// for errors.Is/errors.As and for %w-style formatting further up the stack.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: err.Error(), cause: err}
}

// As extracts a *Error from err, if present.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Known error codes, matching spec.md §6's HTTP error table plus the
// internal-only CLUSTER_CONFLICT code surfaced for requeue per §4.5.
const (
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeArticleNotFound     = "ARTICLE_NOT_FOUND"
	CodeArticleAlreadyExist = "ARTICLE_ALREADY_EXISTS"
	CodeClusterPending      = "CLUSTER_PENDING"
	CodeClusterNotFound     = "CLUSTER_NOT_FOUND"
	CodeRecheckRateLimited  = "RECHECK_RATE_LIMITED"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeClusterConflict     = "CLUSTER_CONFLICT"
	CodeInternal            = "INTERNAL"
)

// HTTPStatus maps an error Code to the status codes in spec.md §6.
func HTTPStatus(code string) int {
	switch code {
	case CodeInvalidArgument:
		return 400
	case CodeArticleNotFound, CodeClusterPending, CodeClusterNotFound:
		return 404
	case CodeArticleAlreadyExist:
		return 409
	case CodeRecheckRateLimited:
		return 429
	case CodeUpstreamUnavailable:
		return 503
	default:
		return 500
	}
}
