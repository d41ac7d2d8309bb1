package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	in := time.Date(2024, 3, 2, 5, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), StartOfDay(in))
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())
}
