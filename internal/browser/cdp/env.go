// Package cdp implements the user-agent surface over a live Chrome page
// driven through the DevTools protocol. The protocol core stays unchanged;
// only the primitives (address, history state, session storage, windows,
// messages, overlay) are rendered as CDP calls and evaluated script.
package cdp

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/grantflow/internal/browser"
)

// Options configure the CDP environment.
type Options struct {
	// FocusSupported declares whether the platform honors programmatic
	// window.focus() on background windows. Most desktop platforms do not
	// raise the window, which is exactly the case the overlay recovers.
	FocusSupported bool
}

// Env drives one Chrome page. The context must be a chromedp target context;
// its lifetime bounds every operation.
type Env struct {
	ctx  context.Context
	opts Options
	log  *zap.Logger
	bus  *browser.MessageBus

	bridgeOnce sync.Once
	bridgeErr  error

	overlayOnce sync.Once
	overlayErr  error

	mu       sync.Mutex
	overlays map[string]*overlay
}

// New wraps an existing chromedp context. The message bridge is installed
// lazily on first subscription.
func New(ctx context.Context, opts Options, logger *zap.Logger) *Env {
	log := logger.Named("cdp")
	return &Env{
		ctx:      ctx,
		opts:     opts,
		log:      log,
		bus:      browser.NewMessageBus(log),
		overlays: make(map[string]*overlay),
	}
}

// run executes chromedp actions against the page, bounded by both the
// environment's and the caller's context.
func (e *Env) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	return chromedp.Run(runCtx, actions...)
}

// evaluate runs a script and decodes its result into res (nil to discard).
func (e *Env) evaluate(ctx context.Context, script string, res any) error {
	if res == nil {
		var discard any
		res = &discard
	}
	return e.run(ctx, chromedp.Evaluate(script, res))
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

// -- ua.Page --

// Location returns the page's current visible address.
func (e *Env) Location(ctx context.Context) (string, error) {
	var href string
	if err := e.run(ctx, chromedp.Location(&href)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return href, nil
}

// ReplaceLocation rewrites the visible address in place, preserving the
// attached history state and adding no history entry.
func (e *Env) ReplaceLocation(ctx context.Context, href string) error {
	script := fmt.Sprintf("history.replaceState(history.state, '', %s)", jsString(href))
	return e.evaluate(ctx, script, nil)
}

// ReferrerOrigin returns the origin of the referring document.
func (e *Env) ReferrerOrigin(ctx context.Context) (string, error) {
	const script = "document.referrer ? new URL(document.referrer).origin : ''"
	var origin string
	if err := e.evaluate(ctx, script, &origin); err != nil {
		return "", fmt.Errorf("failed to read referrer: %w", err)
	}
	return origin, nil
}

// HistoryState returns the JSON-encoded state attached to the current
// history entry.
func (e *Env) HistoryState(ctx context.Context) ([]byte, error) {
	const script = "history.state === null ? '' : JSON.stringify(history.state)"
	var raw string
	if err := e.evaluate(ctx, script, &raw); err != nil {
		return nil, fmt.Errorf("failed to read history state: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	return []byte(raw), nil
}

// ReplaceHistoryState replaces the attached state, keeping the address.
func (e *Env) ReplaceHistoryState(ctx context.Context, raw []byte) error {
	script := fmt.Sprintf("history.replaceState(JSON.parse(%s), '', location.href)", jsString(string(raw)))
	return e.evaluate(ctx, script, nil)
}

// Navigate performs a full-page navigation and waits for the load.
func (e *Env) Navigate(ctx context.Context, href string) error {
	return e.run(ctx, chromedp.Navigate(href))
}

// -- ua.SessionStorage --

// Get reads a sessionStorage entry.
func (e *Env) Get(ctx context.Context, key string) (string, bool, error) {
	script := fmt.Sprintf(`(() => {
		const v = window.sessionStorage.getItem(%s);
		return v === null ? {ok: false, value: ''} : {ok: true, value: v};
	})()`, jsString(key))

	var res struct {
		OK    bool   `json:"ok"`
		Value string `json:"value"`
	}
	if err := e.evaluate(ctx, script, &res); err != nil {
		return "", false, fmt.Errorf("failed to read session storage: %w", err)
	}
	return res.Value, res.OK, nil
}

// Set writes a sessionStorage entry.
func (e *Env) Set(ctx context.Context, key, value string) error {
	script := fmt.Sprintf("window.sessionStorage.setItem(%s, %s)", jsString(key), jsString(value))
	if err := e.evaluate(ctx, script, nil); err != nil {
		return fmt.Errorf("failed to write session storage: %w", err)
	}
	return nil
}

// -- ua.FormSubmitter --

// Submit builds a hidden form in the page and submits it, delivering the
// fields server-side. An empty target navigates the page itself; a window
// name posts into that child context.
func (e *Env) Submit(ctx context.Context, action string, fields url.Values, target string) error {
	flat := make(map[string]string, len(fields))
	for key := range fields {
		flat[key] = fields.Get(key)
	}
	encoded, err := json.Marshal(flat)
	if err != nil {
		return fmt.Errorf("failed to encode form fields: %w", err)
	}

	script := fmt.Sprintf(`(() => {
		const form = document.createElement('form');
		form.method = 'POST';
		form.action = %s;
		form.style.display = 'none';
		const target = %s;
		if (target) { form.target = target; }
		const fields = %s;
		for (const [key, value] of Object.entries(fields)) {
			const input = document.createElement('input');
			input.type = 'hidden';
			input.name = key;
			input.value = value;
			form.appendChild(input);
		}
		document.body.appendChild(form);
		form.submit();
		form.remove();
	})()`, jsString(action), jsString(target), string(encoded))

	if err := e.evaluate(ctx, script, nil); err != nil {
		return fmt.Errorf("failed to submit form: %w", err)
	}
	return nil
}

// ScreenSize reports the page's screen dimensions for popup centering.
func (e *Env) ScreenSize(ctx context.Context) (int, int, error) {
	var res struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := e.evaluate(ctx, "({width: screen.width, height: screen.height})", &res); err != nil {
		return 0, 0, err
	}
	return res.Width, res.Height, nil
}
