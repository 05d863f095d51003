package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestOverlay() (*Overlay, *clock) {
	c := &clock{t: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)}
	o := NewOverlay(1500 * time.Millisecond)
	o.now = c.now
	return o, c
}

func inbox(statuses ...Status) []Notification {
	out := make([]Notification, len(statuses))
	for i, st := range statuses {
		out[i] = Notification{ID: string(rune('a' + i)), Status: st}
	}
	return out
}

func TestOverlayMasksStaleReads(t *testing.T) {
	o, _ := newTestOverlay()
	o.Patch("a", StatusApproved)

	got := o.Apply(inbox(StatusPending, StatusPending))
	assert.Equal(t, StatusApproved, got[0].Status)
	assert.Equal(t, StatusPending, got[1].Status)
	assert.Equal(t, 1, o.Len())

	st, ok := o.Pending("a")
	assert.True(t, ok)
	assert.Equal(t, StatusApproved, st)
}

func TestOverlayDropsPatchOnceStoreCatchesUp(t *testing.T) {
	o, _ := newTestOverlay()
	o.Patch("a", StatusApproved)

	got := o.Apply(inbox(StatusApproved))
	assert.Equal(t, StatusApproved, got[0].Status)
	assert.Zero(t, o.Len())
}

func TestOverlayFetchedListWinsAfterSettle(t *testing.T) {
	o, c := newTestOverlay()
	o.Patch("a", StatusApproved)
	c.advance(1500 * time.Millisecond)

	got := o.Apply(inbox(StatusPending))
	assert.Equal(t, StatusPending, got[0].Status)
	assert.Zero(t, o.Len())

	_, ok := o.Pending("a")
	assert.False(t, ok)
}

func TestOverlayAck(t *testing.T) {
	o, _ := newTestOverlay()

	o.Patch("a", StatusDenied)
	assert.False(t, o.Ack("a", StatusPending, true))
	assert.True(t, o.Ack("a", StatusDenied, true))
	assert.Zero(t, o.Len())

	o.PatchDeleted("b")
	assert.False(t, o.Ack("b", StatusPending, true))
	assert.True(t, o.Ack("b", "", false))

	assert.True(t, o.Ack("unknown", StatusRead, true))
}

func TestOverlayHidesDeletes(t *testing.T) {
	o, c := newTestOverlay()
	o.PatchDeleted("a")

	got := o.Apply(inbox(StatusPending, StatusRead))
	assert.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)

	// gone remotely as well
	got = o.Apply(inbox(StatusPending)[:0])
	assert.Empty(t, got)
	assert.Zero(t, o.Len())

	o.PatchDeleted("a")
	c.advance(2 * time.Second)
	got = o.Apply(inbox(StatusPending))
	assert.Len(t, got, 1)
}

func TestOverlayRevert(t *testing.T) {
	o, _ := newTestOverlay()
	o.Patch("a", StatusApproved)
	o.Revert("a")

	got := o.Apply(inbox(StatusPending))
	assert.Equal(t, StatusPending, got[0].Status)
}
