package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCheck_AllowsUpToMax(t *testing.T) {
	l := New(3, time.Minute)
	defer l.Close()

	for i := 0; i < 3; i++ {
		r := l.Check("ip")
		assert.True(t, r.Allowed)
		assert.Equal(t, 2-i, r.Remaining)
	}
}

func TestCheck_RejectsBeyondMax(t *testing.T) {
	l := New(3, time.Minute)
	defer l.Close()

	for i := 0; i < 3; i++ {
		l.Check("ip")
	}

	r := l.Check("ip")
	assert.False(t, r.Allowed)
	assert.Equal(t, 0, r.Remaining)
}

func TestCheck_ResetsAfterWindow(t *testing.T) {
	l := New(2, 20*time.Millisecond)
	defer l.Close()

	l.Check("ip")
	l.Check("ip")
	require.False(t, l.Check("ip").Allowed)

	time.Sleep(30 * time.Millisecond)

	r := l.Check("ip")
	assert.True(t, r.Allowed)
	assert.Equal(t, 1, r.Remaining)
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	defer l.Close()

	assert.True(t, l.Check("a").Allowed)
	assert.True(t, l.Check("b").Allowed)
	assert.False(t, l.Check("a").Allowed)
}

// TestCheck_WindowInvariant verifies spec.md §8: after max allowed checks
// within a window, the max+1-th returns allowed=false; after resetTime
// elapses, the next check returns allowed=true with remaining=max-1.
func TestCheck_WindowInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		max := rapid.IntRange(1, 8).Draw(rt, "max")
		l := New(max, 30*time.Millisecond)
		defer l.Close()

		for i := 0; i < max; i++ {
			r := l.Check("k")
			assert.True(rt, r.Allowed)
		}
		r := l.Check("k")
		assert.False(rt, r.Allowed)
		assert.Equal(rt, 0, r.Remaining)

		time.Sleep(45 * time.Millisecond)

		r = l.Check("k")
		assert.True(rt, r.Allowed)
		assert.Equal(rt, max-1, r.Remaining)
	})
}
