package browser

import (
	"context"
	"sync"

	"github.com/xkilldash9x/grantflow/internal/ua"
)

// Window is a child browsing context of the in-process session.
type Window struct {
	env      *Env
	name     string
	features ua.WindowFeatures
	page     *Page

	mu     sync.Mutex
	closed bool
}

// Name returns the window's unique name.
func (w *Window) Name() string { return w.name }

// Page returns the document hosted by this window.
func (w *Window) Page() *Page { return w.page }

// Features returns the geometry the window was opened with.
func (w *Window) Features() ua.WindowFeatures { return w.features }

// Closed reports whether the window has been closed.
func (w *Window) Closed(context.Context) (bool, error) {
	return w.IsClosed(), nil
}

// IsClosed is the lock-protected closed flag.
func (w *Window) IsClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Close closes the window. Closing twice is a no-op.
func (w *Window) Close(context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.env.forgetWindow(w.name)
	return nil
}

// Focus raises the window where the session supports programmatic focus.
func (w *Window) Focus(context.Context) error {
	if !w.env.opts.FocusSupported {
		return ua.ErrFocusUnsupported
	}
	return nil
}
