package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientVisible(t *testing.T) {
	assert.True(t, Validation("bad input").ClientVisible())
	assert.True(t, Throttled("slow down").ClientVisible())
	assert.False(t, Unavailable("store degraded", fmt.Errorf("boom")).ClientVisible())
	assert.False(t, Internal("broken invariant", fmt.Errorf("boom")).ClientVisible())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("bad input")))
	assert.Equal(t, KindThrottled, KindOf(Throttled("slow down")))
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("plain error")))
}

func TestKindOf_Wrapped(t *testing.T) {
	inner := Unavailable("store degraded", fmt.Errorf("boom"))
	wrapped := fmt.Errorf("join failed: %w", inner)
	assert.Equal(t, KindUnavailable, KindOf(wrapped))
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Unavailable("store degraded", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "unavailable")
	assert.Contains(t, err.Error(), "boom")
}

func TestAs(t *testing.T) {
	assert.Nil(t, As(nil))

	e := As(fmt.Errorf("plain error"))
	require.NotNil(t, e)
	assert.Equal(t, KindInternal, e.Kind)

	original := Throttled("slow down")
	assert.Same(t, original, As(original))
	assert.Same(t, original, As(fmt.Errorf("wrapped: %w", original)))
}

func TestWithContext(t *testing.T) {
	err := Validation("bad input").WithContext("field", "channelId").WithContext("length", 0)
	assert.Equal(t, "channelId", err.Context["field"])
	assert.Equal(t, 0, err.Context["length"])
}
