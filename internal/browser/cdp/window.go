package cdp

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/grantflow/api/schemas"
	"github.com/xkilldash9x/grantflow/internal/ua"
)

// Popup references are parked on the opener page so later closed/focus/close
// calls can reach the child window by name.
const popupRegistry = "window.__grantflowPopups"

// Open opens a named, sized child window via window.open in the page. A
// popup blocker returning null surfaces as *schemas.PopupBlockedError.
func (e *Env) Open(ctx context.Context, href, name string, features ua.WindowFeatures) (ua.Window, error) {
	spec := fmt.Sprintf("width=%d,height=%d,left=%d,top=%d,popup=yes",
		features.Width, features.Height, features.Left, features.Top)

	script := fmt.Sprintf(`(() => {
		%[1]s = %[1]s || {};
		const w = window.open(%[2]s, %[3]s, %[4]s);
		if (!w) { return false; }
		%[1]s[%[3]s] = w;
		return true;
	})()`, popupRegistry, jsString(href), jsString(name), jsString(spec))

	var opened bool
	if err := e.evaluate(ctx, script, &opened); err != nil {
		return nil, fmt.Errorf("failed to open popup: %w", err)
	}
	if !opened {
		return nil, &schemas.PopupBlockedError{URL: href}
	}
	return &window{env: e, name: name}, nil
}

// window is a handle to a child context reachable through the opener page.
type window struct {
	env  *Env
	name string
}

func (w *window) Name() string { return w.name }

func (w *window) ref() string {
	return popupRegistry + "[" + jsString(w.name) + "]"
}

// Closed reports whether the child window is gone.
func (w *window) Closed(ctx context.Context) (bool, error) {
	script := fmt.Sprintf("(() => { const w = %s; return !w || w.closed === true; })()", w.ref())
	var closed bool
	if err := w.env.evaluate(ctx, script, &closed); err != nil {
		return false, fmt.Errorf("failed to poll popup %q: %w", w.name, err)
	}
	return closed, nil
}

// Close closes the child window.
func (w *window) Close(ctx context.Context) error {
	script := fmt.Sprintf("(() => { const w = %s; if (w && !w.closed) { w.close(); } })()", w.ref())
	if err := w.env.evaluate(ctx, script, nil); err != nil {
		return fmt.Errorf("failed to close popup %q: %w", w.name, err)
	}
	return nil
}

// Focus raises the child window where the platform honors it. Elsewhere it
// reports ua.ErrFocusUnsupported so the caller falls back to recreation.
func (w *window) Focus(ctx context.Context) error {
	if !w.env.opts.FocusSupported {
		return ua.ErrFocusUnsupported
	}
	script := fmt.Sprintf("(() => { const w = %s; if (w && !w.closed) { w.focus(); } })()", w.ref())
	if err := w.env.evaluate(ctx, script, nil); err != nil {
		return fmt.Errorf("failed to focus popup %q: %w", w.name, err)
	}
	return nil
}
