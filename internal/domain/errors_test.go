package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConversionError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("exit status 99")
	err := NewConversionError(KindRenderFailure, "Failed to render PDF page", 1500*time.Millisecond, cause)

	assert.Equal(t, "RenderFailure: Failed to render PDF page: exit status 99", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.EqualValues(t, 1500, err.ProcessingTimeMs())

	bare := NewConversionError(KindInvalidInput, "No PDF data provided", 0, nil)
	assert.Equal(t, "InvalidInput: No PDF data provided", bare.Error())
}

func TestAsConversionError(t *testing.T) {
	assert.Nil(t, AsConversionError(nil))

	ce := NewConversionError(KindTimeout, "too slow", 0, nil)
	wrapped := fmt.Errorf("handler: %w", ce)
	assert.Same(t, ce, AsConversionError(wrapped))

	other := AsConversionError(errors.New("boom"))
	assert.Equal(t, KindRenderFailure, other.Kind)
	assert.NotContains(t, other.Message, "boom")
}

func TestOutputAndRequestContext(t *testing.T) {
	out := &Output{Image: []byte{1, 2, 3}, ProcessingTime: 42 * time.Millisecond}
	assert.Equal(t, 3, out.Size())
	assert.EqualValues(t, 42, out.ProcessingTimeMs())

	rc := NewRequestContext("abc", -5)
	assert.Equal(t, "abc", rc.CorrelationID)
	assert.Zero(t, rc.OriginalSize)
	assert.False(t, rc.ReceivedAt.IsZero())
}
