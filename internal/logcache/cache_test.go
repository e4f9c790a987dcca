package logcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_AppendAndGet(t *testing.T) {
	c := New()
	start := time.Now()
	c.Begin(1, 100, start)
	c.AppendOutput(1, "line 1")
	c.AppendOutput(1, "line 2")
	c.AppendError(1, "oops")

	entry := c.Get(1)
	require.NotNil(t, entry)
	assert.Equal(t, int64(100), entry.LogID)
	assert.Equal(t, []string{"line 1", "line 2"}, entry.OutputLines)
	assert.Equal(t, []string{"oops"}, entry.ErrorLines)
	assert.Equal(t, start, entry.StartTime)
}

func TestCache_GetMissing(t *testing.T) {
	c := New()
	assert.Nil(t, c.Get(42))
}

func TestCache_GetReturnsCopy(t *testing.T) {
	c := New()
	c.Begin(1, 100, time.Now())
	c.AppendOutput(1, "a")

	entry := c.Get(1)
	entry.OutputLines[0] = "mutated"

	again := c.Get(1)
	assert.Equal(t, "a", again.OutputLines[0])
}

func TestCache_AppendWithoutBeginIgnored(t *testing.T) {
	c := New()
	c.AppendOutput(7, "dropped")
	assert.Nil(t, c.Get(7))
}

func TestCache_BeginReplacesPreviousRun(t *testing.T) {
	c := New()
	c.Begin(1, 100, time.Now())
	c.AppendOutput(1, "old run")
	c.Finish(1)

	c.Begin(1, 101, time.Now())
	entry := c.Get(1)
	require.NotNil(t, entry)
	assert.Equal(t, int64(101), entry.LogID)
	assert.Empty(t, entry.OutputLines)
}

func TestCache_FinishEvictsAfterRetention(t *testing.T) {
	c := NewWithRetention(20 * time.Millisecond)
	c.Begin(1, 100, time.Now())
	c.Finish(1)

	// Entry survives the grace period, then goes away
	require.NotNil(t, c.Get(1))
	assert.Eventually(t, func() bool { return c.Get(1) == nil }, time.Second, 5*time.Millisecond)
}

func TestCache_EvictionDoesNotTouchNewerRun(t *testing.T) {
	c := NewWithRetention(20 * time.Millisecond)
	c.Begin(1, 100, time.Now())
	c.Finish(1)

	// A new run begins before the old timer fires
	c.Begin(1, 101, time.Now())
	time.Sleep(60 * time.Millisecond)

	entry := c.Get(1)
	require.NotNil(t, entry)
	assert.Equal(t, int64(101), entry.LogID)
}

func TestCache_Clear(t *testing.T) {
	c := New()
	c.Begin(1, 100, time.Now())
	c.Clear(1)
	assert.Nil(t, c.Get(1))
	assert.Equal(t, 0, c.Len())
}
