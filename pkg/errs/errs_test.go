package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindMatching(t *testing.T) {
	err := errs.ThrowNotFound(nil, "TEST-404", "user %s not found", "u1")

	assert.True(t, errs.IsNotFound(err))
	assert.False(t, errs.IsInvalid(err))
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := errs.ThrowInternal(cause, "TEST-500", "append failed")

	require.ErrorIs(t, err, cause)
	assert.True(t, errs.IsInternal(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "TEST-500")
}

func TestWrappedKindSurvivesFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("command failed: %w", errs.ThrowConcurrencyConflict(nil, "ES-409", "version mismatch"))

	assert.True(t, errs.IsConcurrencyConflict(err))
	assert.Equal(t, errs.KindConcurrencyConflict, errs.KindOf(err))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, errs.KindUnknown, errs.KindOf(errors.New("plain")))
}

func TestIsMatchesSpecificID(t *testing.T) {
	err := errs.ThrowPrecondition(nil, "INTENT-done", "intent already succeeded")

	assert.True(t, errors.Is(err, &errs.Error{Kind: errs.KindPrecondition, ID: "INTENT-done"}))
	assert.False(t, errors.Is(err, &errs.Error{Kind: errs.KindPrecondition, ID: "INTENT-other"}))
}
