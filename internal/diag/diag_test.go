// ABOUTME: Tests for the diagnostic event ring and subscription fan-out
// ABOUTME: Covers ordering, capacity eviction, and subscriber lifecycle

package diag

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentNewestFirst(t *testing.T) {
	r := NewReporter(8, nil)
	r.Report("flatstore", "corrupt record skipped", map[string]any{"key": "chat-meta:1"})
	r.Report("locker", "lock held past slow threshold", map[string]any{"key": "meta"})
	r.Report("notifier", "shared-key notify failed", nil)

	events := r.Recent(2)
	require.Len(t, events, 2)
	assert.Equal(t, "notifier", events[0].Source)
	assert.Equal(t, "locker", events[1].Source)
	assert.False(t, events[0].Time.IsZero())

	all := r.Recent(0)
	require.Len(t, all, 3)
	assert.Equal(t, "flatstore", all[2].Source)
}

func TestRingEvictsOldest(t *testing.T) {
	r := NewReporter(4, nil)
	for i := 0; i < 10; i++ {
		r.Report("test", fmt.Sprintf("event %d", i), nil)
	}

	events := r.Recent(0)
	require.Len(t, events, 4)
	assert.Equal(t, "event 9", events[0].Message)
	assert.Equal(t, "event 6", events[3].Message)
}

func TestSubscribeReceivesAndCancels(t *testing.T) {
	r := NewReporter(8, nil)
	ch, cancel := r.Subscribe()

	r.Report("treestore", "corrupt index rebuilt", map[string]any{"bucket": "7a"})
	select {
	case ev := <-ch:
		assert.Equal(t, "treestore", ev.Source)
		assert.Equal(t, "7a", ev.Details["bucket"])
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Reporting after cancellation must not panic on the removed channel.
	r.Report("treestore", "after cancel", nil)
}

func TestCloseClosesSubscribers(t *testing.T) {
	r := NewReporter(8, nil)
	ch, cancel := r.Subscribe()
	defer cancel()

	r.Close()
	_, open := <-ch
	assert.False(t, open)

	r.Report("test", "after close", nil)
	assert.Empty(t, r.Recent(0))
}
