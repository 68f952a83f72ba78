package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffCurve(t *testing.T) {
	p := DefaultBackoff()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		attempt int
		delay   time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 5 * time.Minute}, // capped
		{6, 5 * time.Minute}, // capped
	}

	for _, tt := range tests {
		next, ok := p.Next(now, tt.attempt)
		assert.True(t, ok, "attempt %d", tt.attempt)
		assert.Equal(t, now.Add(tt.delay), next, "attempt %d", tt.attempt)
	}
}

func TestBackoffGivesUpPastLimit(t *testing.T) {
	p := DefaultBackoff()
	now := time.Now().UTC()

	_, ok := p.Next(now, p.MaxRetries)
	assert.True(t, ok)

	_, ok = p.Next(now, p.MaxRetries+1)
	assert.False(t, ok)
}

func TestBackoffRejectsBadAttempt(t *testing.T) {
	p := DefaultBackoff()

	_, ok := p.Next(time.Now(), 0)
	assert.False(t, ok)

	_, ok = p.Next(time.Now(), -3)
	assert.False(t, ok)
}

func TestBackoffCustomPolicy(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Cap: 10 * time.Second, MaxRetries: 3}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	next, ok := p.Next(now, 3)
	assert.True(t, ok)
	assert.Equal(t, now.Add(4*time.Second), next)

	_, ok = p.Next(now, 4)
	assert.False(t, ok)
}
