package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const maxRedirects = 10

// Page is one document in the in-process session. It tracks the visible
// address, the referring document's origin and the state attached to the
// current history entry, and it implements ua.Page and ua.FormSubmitter.
type Page struct {
	env *Env
	log *zap.Logger

	mu             sync.RWMutex
	href           string
	referrerOrigin string
	historyState   []byte
}

func newPage(env *Env, log *zap.Logger) *Page {
	return &Page{env: env, log: log}
}

// -- ua.Page --

// Location returns the current visible address.
func (p *Page) Location(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.href, nil
}

// ReplaceLocation rewrites the visible address without navigating and
// without creating a new history entry.
func (p *Page) ReplaceLocation(_ context.Context, href string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.href = href
	return nil
}

// ReferrerOrigin returns the origin of the referring document.
func (p *Page) ReferrerOrigin(context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.referrerOrigin, nil
}

// HistoryState returns the state attached to the current history entry.
func (p *Page) HistoryState(context.Context) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.historyState == nil {
		return nil, nil
	}
	out := make([]byte, len(p.historyState))
	copy(out, p.historyState)
	return out, nil
}

// ReplaceHistoryState replaces the attached state, keeping the address as-is.
func (p *Page) ReplaceHistoryState(_ context.Context, raw []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if raw == nil {
		p.historyState = nil
		return nil
	}
	p.historyState = make([]byte, len(raw))
	copy(p.historyState, raw)
	return nil
}

// Navigate performs a plain full-page navigation.
func (p *Page) Navigate(ctx context.Context, href string) error {
	return p.load(ctx, http.MethodGet, href, nil, p.currentHref())
}

// -- ua.FormSubmitter --

// Submit performs a background form POST. An empty target navigates this
// document; otherwise the fields land in the named window, with this document
// as the referrer.
func (p *Page) Submit(ctx context.Context, action string, fields url.Values, target string) error {
	if target == "" {
		return p.load(ctx, http.MethodPost, action, fields, p.currentHref())
	}
	win, ok := p.env.Window(target)
	if !ok {
		return fmt.Errorf("no open window named %q", target)
	}
	return win.page.load(ctx, http.MethodPost, action, fields, p.currentHref())
}

// -- Navigation plumbing --

func (p *Page) currentHref() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.href
}

// load fetches target and installs the final response as the new document,
// following redirects manually so the referrer can be tracked hop by hop.
// initiator is the address of the document that caused the navigation.
func (p *Page) load(ctx context.Context, method, target string, form url.Values, initiator string) error {
	resolved, err := p.resolveURL(target)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", target, err)
	}

	req, err := p.buildRequest(ctx, method, resolved, form, initiator)
	if err != nil {
		return err
	}

	current := resolved
	referrer := initiator
	for i := 0; i < maxRedirects; i++ {
		resp, err := p.env.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			drain(resp)
			if location == "" {
				return fmt.Errorf("redirect from %q missing Location header", current)
			}
			next, err := current.Parse(location)
			if err != nil {
				return fmt.Errorf("failed to parse redirect target %q: %w", location, err)
			}
			// The redirecting document becomes the referrer of the next hop.
			referrer = current.String()
			req, err = p.buildRequest(ctx, http.MethodGet, next, nil, referrer)
			if err != nil {
				return err
			}
			current = next
			continue
		}

		if resp.StatusCode >= 400 {
			p.log.Warn("Navigation resulted in error status.",
				zap.Int("status", resp.StatusCode), zap.String("url", current.String()))
		}
		drain(resp)
		p.install(current, referrer)
		return nil
	}
	return fmt.Errorf("maximum number of redirects (%d) exceeded", maxRedirects)
}

func (p *Page) buildRequest(ctx context.Context, method string, target *url.URL, form url.Values, referrer string) (*http.Request, error) {
	// The fragment is document state, never sent on the wire.
	wire := *target
	wire.Fragment = ""
	wire.RawFragment = ""

	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, wire.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %q: %w", target.String(), err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}
	return req, nil
}

// install updates the document state after a completed navigation.
func (p *Page) install(docURL *url.URL, referrer string) {
	origin := ""
	if referrer != "" {
		if u, err := url.Parse(referrer); err == nil && u.Scheme != "" && u.Host != "" {
			origin = u.Scheme + "://" + u.Host
		}
	}

	p.mu.Lock()
	p.href = docURL.String()
	p.referrerOrigin = origin
	p.historyState = nil // a navigation starts a fresh history entry
	p.mu.Unlock()

	p.log.Debug("Document state updated.", zap.String("url", docURL.String()))
}

func (p *Page) resolveURL(target string) (*url.URL, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if parsed.IsAbs() {
		return parsed, nil
	}
	current := p.currentHref()
	if current == "" {
		return nil, fmt.Errorf("cannot resolve relative URL %q without a document", target)
	}
	base, err := url.Parse(current)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(parsed), nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()
}
