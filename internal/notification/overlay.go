package notification

import (
	"sync"
	"time"
)

// Overlay holds local status changes that have been sent to the store but
// may not be visible in a fresh read yet. A patch is dropped as soon as a
// read shows the patched state, or once the settle window has passed, after
// which the fetched data is authoritative.
type Overlay struct {
	settle  time.Duration
	now     func() time.Time
	mu      sync.Mutex
	patches map[string]patch
}

type patch struct {
	status  Status
	deleted bool
	at      time.Time
}

// NewOverlay creates an overlay with the given settle window.
func NewOverlay(settle time.Duration) *Overlay {
	if settle <= 0 {
		settle = 1500 * time.Millisecond
	}
	return &Overlay{settle: settle, now: time.Now, patches: make(map[string]patch)}
}

// Patch records a pending status change.
func (o *Overlay) Patch(id string, status Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.patches[id] = patch{status: status, at: o.now()}
}

// PatchDeleted hides a notification until its delete is visible.
func (o *Overlay) PatchDeleted(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.patches[id] = patch{deleted: true, at: o.now()}
}

// Pending returns the patched status of id, if any live patch exists.
func (o *Overlay) Pending(id string) (Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.live(id)
	if !ok || p.deleted {
		return "", false
	}
	return p.status, true
}

// Ack reconciles a patch against what the store returned after the write.
// It reports whether the store already reflects the patch.
func (o *Overlay) Ack(id string, observed Status, found bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.patches[id]
	if !ok {
		return true
	}
	if (p.deleted && !found) || (!p.deleted && found && observed == p.status) {
		delete(o.patches, id)
		return true
	}
	return false
}

// Revert drops a patch whose write failed.
func (o *Overlay) Revert(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.patches, id)
}

// Apply overlays live patches on a freshly fetched list. Patches the list
// already reflects, and patches past the settle window, are discarded.
func (o *Overlay) Apply(list []Notification) []Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Notification, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, n := range list {
		seen[n.ID] = true
		p, ok := o.live(n.ID)
		switch {
		case !ok:
			out = append(out, n)
		case p.deleted:
			// still visible remotely, hide it
		case p.status == n.Status:
			delete(o.patches, n.ID)
			out = append(out, n)
		default:
			n.Status = p.status
			out = append(out, n)
		}
	}
	for id, p := range o.patches {
		if p.deleted && !seen[id] {
			delete(o.patches, id)
		}
	}
	return out
}

// Len reports how many patches are held, expired or not.
func (o *Overlay) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.patches)
}

// live returns the patch for id unless it has expired; expired patches are
// removed. Callers hold mu.
func (o *Overlay) live(id string) (patch, bool) {
	p, ok := o.patches[id]
	if !ok {
		return patch{}, false
	}
	if o.now().Sub(p.at) >= o.settle {
		delete(o.patches, id)
		return patch{}, false
	}
	return p, true
}
