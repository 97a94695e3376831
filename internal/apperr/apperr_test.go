package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected Kind
	}{
		{name: "not found", err: NotFound("Book does not exist"), expected: KindNotFound},
		{name: "forbidden", err: Forbidden("You are not authorized to do this"), expected: KindForbidden},
		{name: "conflict", err: Conflict("This book is not available"), expected: KindConflict},
		{name: "wrapped conflict", err: fmt.Errorf("borrow: %w", Conflict("x")), expected: KindConflict},
		{name: "plain error", err: errors.New("boom"), expected: KindInternal},
		{name: "nil", err: nil, expected: KindInternal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, KindOf(tc.err))
		})
	}
}

func TestMessageOf_HidesInternalErrors(t *testing.T) {
	assert.Equal(t, "This book is not available", MessageOf(Conflict("This book is not available")))
	assert.NotContains(t, MessageOf(errors.New("pq: connection refused")), "connection refused")
}

func TestError_Is(t *testing.T) {
	errBookGone := NotFound("Book does not exist")
	wrapped := fmt.Errorf("lookup: %w", NotFound("Book does not exist"))

	assert.True(t, errors.Is(wrapped, errBookGone))
	assert.False(t, errors.Is(wrapped, NotFound("User not found")))
	assert.False(t, errors.Is(wrapped, Conflict("Book does not exist")))
}
