package browser

import (
	"context"
	"sync"
)

// Overlay is the in-process rendering of the bring-to-front affordance. The
// session owns no real UI, so its controls are triggered programmatically
// with Activate and Dismiss.
type Overlay struct {
	mu        sync.Mutex
	onFocus   func()
	onDismiss func()
	destroyed bool
}

func newOverlay(onFocus, onDismiss func()) *Overlay {
	return &Overlay{onFocus: onFocus, onDismiss: onDismiss}
}

// Activate triggers the main affordance, as a user clicking the overlay.
func (o *Overlay) Activate() {
	o.mu.Lock()
	cb := o.onFocus
	destroyed := o.destroyed
	o.mu.Unlock()
	if !destroyed && cb != nil {
		cb()
	}
}

// Dismiss triggers the dismiss control.
func (o *Overlay) Dismiss() {
	o.mu.Lock()
	cb := o.onDismiss
	destroyed := o.destroyed
	o.mu.Unlock()
	if !destroyed && cb != nil {
		cb()
	}
}

// Destroy tears the overlay down; its controls become inert.
func (o *Overlay) Destroy(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.destroyed = true
	return nil
}

// Destroyed reports whether the overlay has been torn down.
func (o *Overlay) Destroyed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.destroyed
}
