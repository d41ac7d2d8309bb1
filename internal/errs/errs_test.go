package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindAndIdentity(t *testing.T) {
	errNegative := New(KindInvalidInput, "negative_amount")
	errOther := New(KindInvalidInput, "bad_range")
	wrapped := fmt.Errorf("record spend: %w", errNegative)

	assert.True(t, errors.Is(wrapped, errNegative))
	assert.True(t, errors.Is(wrapped, ErrInvalidInput))
	assert.False(t, errors.Is(wrapped, errOther))
	assert.False(t, errors.Is(wrapped, ErrUnknownEntity))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindUnavailable, KindOf(fmt.Errorf("x: %w", ErrUnavailable)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, "negative_amount", CodeOf(New(KindInvalidInput, "negative_amount")))
	assert.Equal(t, "internal", CodeOf(errors.New("boom")))
}
