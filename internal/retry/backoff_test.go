package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSequence(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, w := range want {
		attempt := i + 1
		assert.Equalf(t, w, Backoff(attempt), "Backoff(%d)", attempt)
	}
}

func TestBackoffClampsAttemptBelowOne(t *testing.T) {
	assert.Equal(t, 1*time.Second, Backoff(0))
}
