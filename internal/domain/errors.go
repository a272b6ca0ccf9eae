package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidArtifact means the artifact reference is unreadable.
	ErrInvalidArtifact = errors.New("invalid artifact")
	// ErrEmbedding is a transient embedding-provider failure, retried up to
	// the configured budget.
	ErrEmbedding = errors.New("embedding failed")
	// ErrAlreadySigned is a logic error: a submission's signature is set once
	// and immutable thereafter.
	ErrAlreadySigned = errors.New("already signed")
	// ErrDuplicateVote means this identity already cast a counted vote.
	ErrDuplicateVote = errors.New("duplicate vote")
	// ErrNotVotable means the submission has not reached the open state.
	ErrNotVotable = errors.New("not votable")
	// ErrRetryBudgetExhausted marks the transition to the failed state.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	// ErrNotFound is the generic missing-resource sentinel.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition guards the lifecycle DAG.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// PartialStorageError reports a store fan-out where some backends succeeded.
// Succeeded locators are always recorded by the caller before this surfaces.
type PartialStorageError struct {
	Stored map[string]string
	Failed map[string]error
}

func (e *PartialStorageError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("partial storage failure: %d backend(s) stored, failed: %s",
		len(e.Stored), strings.Join(names, ", "))
}

// Transient reports whether err should be retried against the retry budget.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAlreadySigned) ||
		errors.Is(err, ErrDuplicateVote) ||
		errors.Is(err, ErrNotVotable) ||
		errors.Is(err, ErrInvalidArtifact) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}
