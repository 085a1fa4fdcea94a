// Package browser provides the in-process user agent: a browsing session
// implemented on net/http, with session storage, a window registry and a
// cross-window message bus. It backs the protocol's tests and embeds into
// headless tools; the chromedp-backed environment lives in the cdp
// subpackage.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/grantflow/api/schemas"
	"github.com/xkilldash9x/grantflow/internal/ua"
)

// Options configure one browsing session.
type Options struct {
	// Client is the HTTP client used for navigation. A default client with
	// its own cookie jar is created when nil.
	Client *http.Client
	// FocusSupported models whether the platform can programmatically raise
	// a background window.
	FocusSupported bool
	// BlockPopups models a user agent popup policy that refuses window.open.
	BlockPopups bool
	// Screen dimensions, used to center popup windows.
	ScreenWidth  int
	ScreenHeight int
}

// Env is one browsing session: a set of windows sharing cookies, session
// storage and a message bus.
type Env struct {
	id     string
	client *http.Client
	opts   Options
	log    *zap.Logger
	bus    *MessageBus

	mu      sync.RWMutex
	storage map[string]string
	windows map[string]*Window
}

// NewEnv creates a browsing session.
func NewEnv(opts Options, logger *zap.Logger) *Env {
	sessionID := uuid.New().String()
	log := logger.Named("browser").With(zap.String("session_id", sessionID))

	client := opts.Client
	if client == nil {
		jar, _ := cookiejar.New(nil)
		client = &http.Client{
			Timeout: 60 * time.Second,
			Jar:     jar,
			// Redirects are handled manually so document state and the
			// referrer can be tracked hop by hop.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	if opts.ScreenWidth <= 0 {
		opts.ScreenWidth = 1920
	}
	if opts.ScreenHeight <= 0 {
		opts.ScreenHeight = 1080
	}

	return &Env{
		id:      sessionID,
		client:  client,
		opts:    opts,
		log:     log,
		bus:     NewMessageBus(log),
		storage: make(map[string]string),
		windows: make(map[string]*Window),
	}
}

// ID returns the session id.
func (e *Env) ID() string { return e.id }

// Bus returns the session's cross-window message bus. It implements
// ua.Messages; providers under test publish into it via PostMessage.
func (e *Env) Bus() *MessageBus { return e.bus }

// PostMessage delivers a structured message to every subscriber, carrying the
// sender origin.
func (e *Env) PostMessage(origin string, data map[string]any) {
	e.bus.Publish(ua.Message{Origin: origin, Data: data})
}

// -- ua.SessionStorage --

// Get reads a session storage entry.
func (e *Env) Get(_ context.Context, key string) (string, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	value, ok := e.storage[key]
	return value, ok, nil
}

// Set writes a session storage entry.
func (e *Env) Set(_ context.Context, key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.storage[key] = value
	return nil
}

// -- ua.WindowOpener --

// Open creates a named child window and navigates it to href. A session with
// popups blocked refuses with *schemas.PopupBlockedError.
func (e *Env) Open(ctx context.Context, href, name string, features ua.WindowFeatures) (ua.Window, error) {
	if e.opts.BlockPopups {
		return nil, &schemas.PopupBlockedError{URL: href}
	}

	win := &Window{
		env:      e,
		name:     name,
		features: features,
		page:     newPage(e, e.log.Named("popup")),
	}
	if err := win.page.Navigate(ctx, href); err != nil {
		return nil, fmt.Errorf("failed to load popup document: %w", err)
	}

	e.mu.Lock()
	e.windows[name] = win
	e.mu.Unlock()

	e.log.Debug("Window opened.", zap.String("window", name), zap.String("url", href))
	return win, nil
}

// ScreenSize reports the configured screen dimensions.
func (e *Env) ScreenSize(context.Context) (int, int, error) {
	return e.opts.ScreenWidth, e.opts.ScreenHeight, nil
}

// Window returns the live window registered under name.
func (e *Env) Window(name string) (*Window, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	win, ok := e.windows[name]
	if !ok || win.IsClosed() {
		return nil, false
	}
	return win, true
}

func (e *Env) forgetWindow(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.windows, name)
}

// Close tears the session down: every open window is closed concurrently and
// the message bus stops delivering.
func (e *Env) Close(ctx context.Context) error {
	e.mu.RLock()
	windows := make([]*Window, 0, len(e.windows))
	for _, win := range e.windows {
		windows = append(windows, win)
	}
	e.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, win := range windows {
		win := win
		g.Go(func() error {
			if err := win.Close(gctx); err != nil {
				return fmt.Errorf("failed to close window %q: %w", win.Name(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	e.bus.Close()
	e.log.Debug("Browsing session closed.", zap.Int("windows", len(windows)))
	return err
}

// -- ua.OverlayPresenter --

// Show presents an in-memory overlay. Callers of the concrete type trigger
// its controls with Activate and Dismiss.
func (e *Env) Show(_ context.Context, onFocus, onDismiss func()) (ua.Overlay, error) {
	return newOverlay(onFocus, onDismiss), nil
}

// NewDocument constructs a top-level page in a known document state without
// performing a network fetch, for embedding into an already-loaded context.
func (e *Env) NewDocument(href, referrerOrigin string) *Page {
	p := newPage(e, e.log.Named("page"))
	p.mu.Lock()
	p.href = href
	p.referrerOrigin = referrerOrigin
	p.mu.Unlock()
	return p
}

// OpenPage creates a top-level page and navigates it to href.
func (e *Env) OpenPage(ctx context.Context, href string) (*Page, error) {
	p := newPage(e, e.log.Named("page"))
	if err := p.Navigate(ctx, href); err != nil {
		return nil, err
	}
	return p, nil
}
