package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeduperSuppressesWithinWindow(t *testing.T) {
	d := NewDeduper()

	assert.False(t, d.Seen("tracker/events/a", "m-1"))
	d.Mark("tracker/events/a", "m-1")
	assert.True(t, d.Seen("tracker/events/a", "m-1"))

	// same id on a different topic is distinct
	assert.False(t, d.Seen("tracker/events/b", "m-1"))
	assert.False(t, d.Seen("tracker/events/a", "m-2"))
}

func TestDeduperSeenDoesNotRecord(t *testing.T) {
	d := NewDeduper()

	assert.False(t, d.Seen("t", "m"))
	assert.False(t, d.Seen("t", "m"), "a bare check must not create an entry")
	assert.Equal(t, 0, d.Len())
}

func TestDeduperExpiresAfterWindow(t *testing.T) {
	d := NewDeduper()
	base := time.Now()
	d.now = func() time.Time { return base }

	d.Mark("t", "m")

	d.now = func() time.Time { return base.Add(9 * time.Minute) }
	assert.True(t, d.Seen("t", "m"))

	d.now = func() time.Time { return base.Add(11 * time.Minute) }
	assert.False(t, d.Seen("t", "m"))
	assert.Equal(t, 0, d.Len())
}

func TestDeduperMarkRefreshesEntry(t *testing.T) {
	d := NewDeduper()
	base := time.Now()
	d.now = func() time.Time { return base }

	d.Mark("t", "m")

	d.now = func() time.Time { return base.Add(9 * time.Minute) }
	d.Mark("t", "m")

	d.now = func() time.Time { return base.Add(18 * time.Minute) }
	assert.True(t, d.Seen("t", "m"), "re-mark restarts the window")
	assert.Equal(t, 1, d.Len())
}

func TestDeduperBoundedCapacity(t *testing.T) {
	d := NewDeduper()
	d.cap = 10

	for i := 0; i < 25; i++ {
		d.Mark("t", fmt.Sprintf("m-%d", i))
	}
	assert.Equal(t, 10, d.Len())

	// oldest entries evicted, newest retained
	assert.True(t, d.Seen("t", "m-24"))
	assert.False(t, d.Seen("t", "m-0"))
}
