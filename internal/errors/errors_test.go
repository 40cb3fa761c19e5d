package errors_test

import (
	"fmt"
	"testing"

	"codeberg.org/mutker/laptopctl/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.New(errors.ErrTimeout)
	assert.Equal(t, "Hardware write timed out", err.Error())

	err = errFactory.WithData(errors.ErrInvalidValue, "duty 120 out of range")
	assert.Equal(t, "Invalid control value: duty 120 out of range", err.Error())

	err = errFactory.WithMessage(errors.ErrUnknownProfile, "no profile named turbo")
	assert.Equal(t, "no profile named turbo", err.Error())
}

func TestHasCode(t *testing.T) {
	errFactory := errors.New()
	inner := errFactory.New(errors.ErrDeviceUnavailable)
	outer := errFactory.Wrap(errors.ErrProfilePartiallyApplied, inner)
	wrapped := fmt.Errorf("apply gaming: %w", outer)

	assert.True(t, errors.HasCode(wrapped, errors.ErrProfilePartiallyApplied))
	assert.True(t, errors.HasCode(wrapped, errors.ErrDeviceUnavailable))
	assert.False(t, errors.HasCode(wrapped, errors.ErrTimeout))
	assert.False(t, errors.HasCode(nil, errors.ErrTimeout))
	assert.Equal(t, errors.ErrProfilePartiallyApplied, errors.CodeOf(wrapped))
	assert.Equal(t, errors.ErrorCode(""), errors.CodeOf(fmt.Errorf("plain")))
}
