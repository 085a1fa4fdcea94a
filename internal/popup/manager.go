// Package popup manages child browsing contexts hosting the provider's UI:
// creation, focus recovery on platforms without programmatic focus, and
// poll-based close detection.
package popup

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/grantflow/internal/ua"
)

// Defaults for the child context geometry and the close-detection poll.
const (
	DefaultWidth        = 600
	DefaultHeight       = 700
	DefaultPollInterval = 250 * time.Millisecond
)

// Options sizes the child context and tunes close detection.
type Options struct {
	Width        int
	Height       int
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// ScreenSizer is implemented by openers that know the screen dimensions,
// letting the manager center the child context.
type ScreenSizer interface {
	ScreenSize(ctx context.Context) (width, height int, err error)
}

// Handle is a live reference to a child context. It is a mutable cell:
// FocusOrRecreate may swap in a fresh window, and everything observing the
// handle transparently continues against the replacement.
type Handle struct {
	mu  sync.RWMutex
	win ua.Window
}

// Window returns the current underlying window.
func (h *Handle) Window() ua.Window {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.win
}

func (h *Handle) swap(win ua.Window) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.win = win
}

// Name returns the current window's name.
func (h *Handle) Name() string { return h.Window().Name() }

// Closed reports whether the current window has been closed.
func (h *Handle) Closed(ctx context.Context) (bool, error) {
	return h.Window().Closed(ctx)
}

// Close closes the current window, equivalent to the user closing it.
func (h *Handle) Close(ctx context.Context) error {
	return h.Window().Close(ctx)
}

// Manager opens and recovers popup windows through a ua.WindowOpener.
type Manager struct {
	opener ua.WindowOpener
	opts   Options
	log    *zap.Logger

	// now is injectable so window names are deterministic under test.
	now func() time.Time
}

// NewManager returns a manager opening windows with the given options.
func NewManager(opener ua.WindowOpener, opts Options, logger *zap.Logger) *Manager {
	return &Manager{
		opener: opener,
		opts:   opts.withDefaults(),
		log:    logger.Named("popup_manager"),
		now:    time.Now,
	}
}

// PollInterval returns the configured close-detection interval.
func (m *Manager) PollInterval() time.Duration { return m.opts.PollInterval }

// Open creates a fixed-size, screen-centered child context at href. The
// window name derives deterministically from (href, current time) so a new
// request never reuses a previous request's context. A refusal by the user
// agent surfaces as *schemas.PopupBlockedError.
func (m *Manager) Open(ctx context.Context, href string) (*Handle, error) {
	win, err := m.open(ctx, href)
	if err != nil {
		return nil, err
	}
	return &Handle{win: win}, nil
}

func (m *Manager) open(ctx context.Context, href string) (ua.Window, error) {
	features := ua.WindowFeatures{Width: m.opts.Width, Height: m.opts.Height}
	if sizer, ok := m.opener.(ScreenSizer); ok {
		if sw, sh, err := sizer.ScreenSize(ctx); err == nil && sw > 0 && sh > 0 {
			features.Left = (sw - features.Width) / 2
			features.Top = (sh - features.Height) / 2
		}
	}

	name := windowName(href, m.now())
	win, err := m.opener.Open(ctx, href, name, features)
	if err != nil {
		return nil, err
	}
	m.log.Debug("Popup opened.", zap.String("window", name))
	return win, nil
}

// FocusOrRecreate brings the handle's window to the foreground. Where the
// platform cannot raise a background window, the existing one is closed and a
// fresh context is opened at the same URL; the handle then points at the new
// window and the caller must resubmit the request into it, identically to the
// original submission. Returns whether recreation happened.
func (m *Manager) FocusOrRecreate(ctx context.Context, handle *Handle, href string) (bool, error) {
	win := handle.Window()
	err := win.Focus(ctx)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ua.ErrFocusUnsupported) {
		return false, fmt.Errorf("failed to focus popup %q: %w", win.Name(), err)
	}

	m.log.Debug("Programmatic focus unavailable; recreating popup.", zap.String("window", win.Name()))
	if err := win.Close(ctx); err != nil {
		m.log.Warn("Failed to close popup before recreation.", zap.Error(err))
	}
	replacement, err := m.open(ctx, href)
	if err != nil {
		return false, err
	}
	handle.swap(replacement)
	return true, nil
}

// closePollFailureLimit bounds consecutive poll errors before the window is
// presumed gone. A dying environment makes every poll fail the same way;
// waiting longer cannot recover it.
const closePollFailureLimit = 3

// Watch polls the handle until its current window is observed closed. The
// returned channel closes on detected closure; the poll stops when ctx ends.
// Because the handle is a mutable cell, a recreation mid-watch simply makes
// the poll observe the replacement window. A window that cannot be polled at
// all is treated as closed once the failure persists.
func (m *Manager) Watch(ctx context.Context, handle *Handle) <-chan struct{} {
	closed := make(chan struct{})
	go func() {
		ticker := time.NewTicker(m.opts.PollInterval)
		defer ticker.Stop()
		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				isClosed, err := handle.Closed(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					failures++
					if failures >= closePollFailureLimit {
						m.log.Warn("Popup close poll failing persistently; treating the window as closed.",
							zap.String("window", handle.Name()), zap.Error(err))
						close(closed)
						return
					}
					m.log.Warn("Popup close poll failed.", zap.Error(err))
					continue
				}
				failures = 0
				if isClosed {
					close(closed)
					return
				}
			}
		}
	}()
	return closed
}

// windowName derives a unique child context name from the target URL and the
// moment of opening.
func windowName(href string, t time.Time) string {
	h := fnv.New32a()
	h.Write([]byte(href))
	return fmt.Sprintf("grantflow_%08x_%d", h.Sum32(), t.UnixNano())
}
