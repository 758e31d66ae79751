package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrPlacementNotFound, "NotFound"},
		{ErrAlreadyPlaced, "ConflictError"},
		{ErrAlreadyCancelled, "InvalidStateError"},
		{NewDomainError("training", "Submit", ErrEmptyValue, "topic is required"), "ValidationError"},
		{NewDomainError("report", "Submit", ErrNegativeValue, "week number must be positive"), "ValidationError"},
		{NewDomainError("evaluation", "Score", ErrValueOutOfRange, "q1_1 must be between 0 and 5"), "ValidationError"},
		{WrapError("placement", "Update", ErrOptimisticLock, "changed concurrently", errors.New("version=1")), "ConcurrentModification"},
		{fmt.Errorf("commit: %w", ErrConcurrentModification), "ConcurrentModification"},
		{errors.New("disk full"), "Internal"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, KindOf(tc.err), "%v", tc.err)
	}
}

func TestDomainError_MatchesKindAndCause(t *testing.T) {
	cause := errors.New("version=3")
	err := WrapError("evaluation", "Update", ErrOptimisticLock, "evaluation changed concurrently", cause)

	assert.ErrorIs(t, err, ErrOptimisticLock)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsConflict(err))
	assert.Equal(t, "evaluation.Update: evaluation changed concurrently: version=3", err.Error())
}
