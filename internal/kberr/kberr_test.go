package kberr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(Transient, cause, "upsert batch failed")

	assert.True(t, Is(err, Transient))
	assert.Equal(t, Transient, KindOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestKindOfDefaultsToInternalForPlainError(t *testing.T) {
	err := errors.New("unrelated")
	assert.Equal(t, Internal, KindOf(err))
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		InvalidArgument:   "invalid_argument",
		NotFound:          "not_found",
		Forbidden:         "forbidden",
		ConflictState:     "conflict_state",
		Transient:         "transient",
		ResourceExhausted: "resource_exhausted",
		DataError:         "data_error",
		ProfileMismatch:   "profile_mismatch",
		Internal:          "internal",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}
