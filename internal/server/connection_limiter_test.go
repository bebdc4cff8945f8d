package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionLimits_GlobalCap(t *testing.T) {
	l := NewConnectionLimits(2, 10)

	ok, _ := l.Acquire("1.1.1.1")
	require.True(t, ok)
	ok, _ = l.Acquire("2.2.2.2")
	require.True(t, ok)

	ok, reason := l.Acquire("3.3.3.3")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonGlobal, reason)
	assert.Equal(t, int64(2), l.Current())

	l.Release("1.1.1.1")
	ok, _ = l.Acquire("3.3.3.3")
	assert.True(t, ok)
}

func TestConnectionLimits_PerIPCap(t *testing.T) {
	l := NewConnectionLimits(100, 2)

	ok, _ := l.Acquire("1.1.1.1")
	require.True(t, ok)
	ok, _ = l.Acquire("1.1.1.1")
	require.True(t, ok)

	ok, reason := l.Acquire("1.1.1.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)

	// A per-IP rejection must not leak a global slot.
	assert.Equal(t, int64(2), l.Current())

	// Another IP is unaffected.
	ok, _ = l.Acquire("2.2.2.2")
	assert.True(t, ok)
}

func TestConnectionLimits_ReleaseUnknownIP(t *testing.T) {
	l := NewConnectionLimits(10, 5)

	ok, _ := l.Acquire("1.1.1.1")
	require.True(t, ok)

	// Spurious release for an IP that holds nothing.
	l.Release("9.9.9.9")

	l.Release("1.1.1.1")
	ok, _ = l.Acquire("1.1.1.1")
	assert.True(t, ok)
}

func TestConnectionLimits_ConcurrentAcquire(t *testing.T) {
	const limit = 50
	l := NewConnectionLimits(limit, limit)

	var wg sync.WaitGroup
	granted := make(chan struct{}, limit*2)
	for i := 0; i < limit*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Acquire("1.1.1.1"); ok {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	assert.Len(t, granted, limit)
	assert.Equal(t, int64(limit), l.Current())
}
