package skerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSentinel = errors.New("disk on fire")

func TestWrap_NilError_ReturnsNil(t *testing.T) {
	require.NoError(t, Wrap(nil))
	require.NoError(t, Wrapf(nil, "ignored %d", 42))
}

func TestWrap_PlainError_AddsCallStack(t *testing.T) {
	err := Wrap(errSentinel)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Contains(t, err.Error(), "skerr_test.go")
	assert.True(t, errors.Is(err, errSentinel))
}

func TestWrap_AlreadyWrapped_DoesNotDoubleWrap(t *testing.T) {
	inner := Wrap(errSentinel)
	outer := Wrap(inner)
	assert.Same(t, inner, outer)
}

func TestWrapf_AddsContextAndPreservesCause(t *testing.T) {
	err := Wrapf(errSentinel, "reading sample %s", "img_001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading sample img_001: disk on fire")
	assert.True(t, errors.Is(err, errSentinel))
}

func TestFmt_CreatesErrorWithStack(t *testing.T) {
	err := Fmt("expected %d rows, got %d", 10, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 10 rows, got 7")
	assert.Contains(t, err.Error(), "skerr_test.go")
}

func TestUnwrap_NestedWraps_ReturnsOriginalCause(t *testing.T) {
	err := Wrapf(Wrapf(errSentinel, "inner"), "outer")
	assert.Equal(t, errSentinel, Unwrap(err))
}

func TestUnwrap_UnwrappedError_ReturnsItself(t *testing.T) {
	plain := fmt.Errorf("plain")
	assert.Equal(t, plain, Unwrap(plain))
}
