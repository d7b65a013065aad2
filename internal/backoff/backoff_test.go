package backoff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sabouaram/conserverd/internal/backoff"
)

func TestScheduleDoublesAndCaps(t *testing.T) {
	s := backoff.New()

	first := s.Next()
	second := s.Next()
	third := s.Next()

	assert.Equal(t, 10*time.Second, first)
	assert.Equal(t, 20*time.Second, second)
	assert.Equal(t, 40*time.Second, third)

	// Drive it well past the cap.
	var last time.Duration
	for i := 0; i < 20; i++ {
		last = s.Next()
	}
	assert.Equal(t, 300*time.Second, last)
}

func TestScheduleResetRestartsAtInitial(t *testing.T) {
	s := backoff.New()
	s.Next()
	s.Next()
	s.Reset()

	assert.Equal(t, 10*time.Second, s.Next())
}
