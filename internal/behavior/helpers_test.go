package behavior_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/grantflow/internal/behavior"
	"github.com/xkilldash9x/grantflow/internal/browser"
	"github.com/xkilldash9x/grantflow/internal/popup"
	"github.com/xkilldash9x/grantflow/internal/state"
	"github.com/xkilldash9x/grantflow/internal/ua"
)

const testEvent = "grant-response"

// provider is a recording trust provider. A non-nil takeOver handler may
// claim a request by returning true.
type provider struct {
	srv *httptest.Server

	mu       sync.Mutex
	posts    []url.Values
	takeOver func(w http.ResponseWriter, r *http.Request) bool
}

func newProvider(t *testing.T, takeOver func(w http.ResponseWriter, r *http.Request) bool) *provider {
	t.Helper()
	p := &provider{takeOver: takeOver}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = r.ParseForm()
			p.mu.Lock()
			p.posts = append(p.posts, r.PostForm)
			p.mu.Unlock()
		}
		if p.takeOver != nil && p.takeOver(w, r) {
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *provider) URL() string { return p.srv.URL }

// Origin equals the URL for an httptest server, spelled out for readability.
func (p *provider) Origin() string { return p.srv.URL }

func (p *provider) Posts() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]url.Values, len(p.posts))
	copy(out, p.posts)
	return out
}

// overlayRecorder presents overlays through the session and keeps the
// concrete instances so tests can trigger their controls.
type overlayRecorder struct {
	env *browser.Env

	mu       sync.Mutex
	overlays []*browser.Overlay
}

func (r *overlayRecorder) Show(ctx context.Context, onFocus, onDismiss func()) (ua.Overlay, error) {
	o, err := r.env.Show(ctx, onFocus, onDismiss)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.overlays = append(r.overlays, o.(*browser.Overlay))
	r.mu.Unlock()
	return o, nil
}

func (r *overlayRecorder) last(t *testing.T) *browser.Overlay {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.overlays, "no overlay was presented")
	return r.overlays[len(r.overlays)-1]
}

// fixture wires a popup behavior against an in-process session and a
// recording provider.
type fixture struct {
	env      *browser.Env
	page     *browser.Page
	store    *state.Store
	manager  *popup.Manager
	overlays *overlayRecorder
	popup    *behavior.Popup
	provider *provider
}

func newFixture(t *testing.T, browserOpts browser.Options, takeOver func(w http.ResponseWriter, r *http.Request) bool) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	prov := newProvider(t, takeOver)

	env := browser.NewEnv(browserOpts, log)
	page, err := env.OpenPage(context.Background(), prov.URL()+"/app")
	require.NoError(t, err)

	store := state.NewStore(env, log)
	manager := popup.NewManager(env, popup.Options{PollInterval: 5 * time.Millisecond}, log)
	overlays := &overlayRecorder{env: env}

	pb, err := behavior.NewPopup(prov.URL(), behavior.Deps{
		Manager:   manager,
		Submitter: page,
		Store:     store,
		Messages:  env.Bus(),
		Overlays:  overlays,
	}, log)
	require.NoError(t, err)

	return &fixture{
		env:      env,
		page:     page,
		store:    store,
		manager:  manager,
		overlays: overlays,
		popup:    pb,
		provider: prov,
	}
}

// respond publishes a provider message into the session.
func (f *fixture) respond(data map[string]any) {
	f.env.PostMessage(f.provider.Origin(), data)
}

func requirePendingOpen(t *testing.T, pending *behavior.Pending) {
	t.Helper()
	select {
	case <-pending.Done():
		t.Fatal("the pending result settled prematurely")
	case <-time.After(50 * time.Millisecond):
	}
}
