// Package ua defines the narrow user-agent surface the delegation protocol
// consumes. The protocol core never touches a concrete browser; it talks to a
// Page, a SessionStorage, a FormSubmitter, a WindowOpener and a Messages
// source. Concrete environments live in internal/browser (in-process) and
// internal/browser/cdp (chromedp).
package ua

import (
	"context"
	"errors"
	"net/url"
)

// ErrFocusUnsupported reports a platform where a background window cannot be
// programmatically raised to the foreground.
var ErrFocusUnsupported = errors.New("programmatic window focus is not supported")

// Page is one document in a browsing context.
type Page interface {
	// Location returns the current visible address as an absolute URL.
	Location(ctx context.Context) (string, error)

	// ReplaceLocation rewrites the visible address of the current history
	// entry without creating a new entry and without navigating.
	ReplaceLocation(ctx context.Context, href string) error

	// ReferrerOrigin returns the origin of the referring document, or ""
	// when there is none.
	ReferrerOrigin(ctx context.Context) (string, error)

	// HistoryState returns the JSON-encoded state attached to the current
	// history entry. A page with no attached state returns nil.
	HistoryState(ctx context.Context) ([]byte, error)

	// ReplaceHistoryState replaces the attached state of the current history
	// entry, keeping the visible address untouched.
	ReplaceHistoryState(ctx context.Context, raw []byte) error

	// Navigate performs a plain full-page navigation of this context.
	Navigate(ctx context.Context, href string) error
}

// SessionStorage is key/value persistence scoped to one browsing session.
type SessionStorage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// FormSubmitter performs a background form POST: fields are delivered
// server-side rather than via the URL, and the resulting navigation lands in
// the target context ("" for the current document, otherwise a window name).
type FormSubmitter interface {
	Submit(ctx context.Context, action string, fields url.Values, target string) error
}

// WindowFeatures sizes and positions a child browsing context.
type WindowFeatures struct {
	Width  int
	Height int
	Left   int
	Top    int
}

// Window is a live handle to a child browsing context. The user may close it
// at any time.
type Window interface {
	Name() string
	Closed(ctx context.Context) (bool, error)
	Close(ctx context.Context) error
	// Focus raises the window, or returns ErrFocusUnsupported.
	Focus(ctx context.Context) error
}

// WindowOpener creates child browsing contexts. Open returns
// *schemas.PopupBlockedError when the user agent's popup policy refuses.
type WindowOpener interface {
	Open(ctx context.Context, href, name string, features WindowFeatures) (Window, error)
}

// Message is one cross-window message received by the current document.
type Message struct {
	// Origin of the sending document, e.g. "https://provider.example".
	Origin string
	// Data is the structured payload.
	Data map[string]any
}

// Messages exposes the current document's cross-window message stream.
type Messages interface {
	// Subscribe returns a channel of incoming messages and a cancel func
	// releasing the subscription. The channel is closed on cancel.
	Subscribe() (<-chan Message, func())
}

// Overlay is a live bring-to-front affordance shown over the current page.
type Overlay interface {
	Destroy(ctx context.Context) error
}

// OverlayPresenter renders the affordance. Styling and markup are owned by
// the environment; the protocol only wires the two callbacks.
type OverlayPresenter interface {
	// Show presents the overlay. onFocus fires when the affordance itself is
	// activated, onDismiss when its dismiss control is.
	Show(ctx context.Context, onFocus, onDismiss func()) (Overlay, error)
}
