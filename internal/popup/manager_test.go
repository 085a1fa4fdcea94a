package popup_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/grantflow/api/schemas"
	"github.com/xkilldash9x/grantflow/internal/browser"
	"github.com/xkilldash9x/grantflow/internal/popup"
	"github.com/xkilldash9x/grantflow/internal/ua"
)

func newProvider(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestManager_Open(t *testing.T) {
	ctx := context.Background()
	srv := newProvider(t)
	env := browser.NewEnv(browser.Options{}, zaptest.NewLogger(t))
	mgr := popup.NewManager(env, popup.Options{Width: 600, Height: 700}, zaptest.NewLogger(t))

	handle, err := mgr.Open(ctx, srv.URL+"/grants")
	require.NoError(t, err)

	assert.Contains(t, handle.Name(), "grantflow_")

	closed, err := handle.Closed(ctx)
	require.NoError(t, err)
	assert.False(t, closed)

	// The window is centered on the session's screen (1920x1080 by default).
	win, ok := handle.Window().(*browser.Window)
	require.True(t, ok)
	features := win.Features()
	assert.Equal(t, 600, features.Width)
	assert.Equal(t, 700, features.Height)
	assert.Equal(t, (1920-600)/2, features.Left)
	assert.Equal(t, (1080-700)/2, features.Top)
}

func TestManager_Open_DistinctNames(t *testing.T) {
	ctx := context.Background()
	srv := newProvider(t)
	env := browser.NewEnv(browser.Options{}, zaptest.NewLogger(t))
	mgr := popup.NewManager(env, popup.Options{}, zaptest.NewLogger(t))

	first, err := mgr.Open(ctx, srv.URL+"/grants")
	require.NoError(t, err)
	second, err := mgr.Open(ctx, srv.URL+"/grants")
	require.NoError(t, err)

	// Same URL, different moment: a new request never reuses an old context.
	assert.NotEqual(t, first.Name(), second.Name())
}

func TestManager_Open_Blocked(t *testing.T) {
	ctx := context.Background()
	env := browser.NewEnv(browser.Options{BlockPopups: true}, zaptest.NewLogger(t))
	mgr := popup.NewManager(env, popup.Options{}, zaptest.NewLogger(t))

	_, err := mgr.Open(ctx, "https://trust.example.com/grants")
	var blocked *schemas.PopupBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "https://trust.example.com/grants", blocked.URL)
}

func TestManager_FocusOrRecreate(t *testing.T) {
	ctx := context.Background()
	srv := newProvider(t)

	t.Run("focus succeeds where supported", func(t *testing.T) {
		env := browser.NewEnv(browser.Options{FocusSupported: true}, zaptest.NewLogger(t))
		mgr := popup.NewManager(env, popup.Options{}, zaptest.NewLogger(t))

		handle, err := mgr.Open(ctx, srv.URL+"/grants")
		require.NoError(t, err)
		name := handle.Name()

		recreated, err := mgr.FocusOrRecreate(ctx, handle, srv.URL+"/grants")
		require.NoError(t, err)
		assert.False(t, recreated)
		assert.Equal(t, name, handle.Name(), "the window must survive a plain focus")
	})

	t.Run("recreates where focus is unsupported", func(t *testing.T) {
		env := browser.NewEnv(browser.Options{FocusSupported: false}, zaptest.NewLogger(t))
		mgr := popup.NewManager(env, popup.Options{}, zaptest.NewLogger(t))

		handle, err := mgr.Open(ctx, srv.URL+"/grants")
		require.NoError(t, err)
		old := handle.Window()

		recreated, err := mgr.FocusOrRecreate(ctx, handle, srv.URL+"/grants")
		require.NoError(t, err)
		assert.True(t, recreated)

		assert.NotEqual(t, old.Name(), handle.Name(), "the handle must point at the replacement")
		oldClosed, err := old.Closed(ctx)
		require.NoError(t, err)
		assert.True(t, oldClosed, "the abandoned window must be closed")

		newClosed, err := handle.Closed(ctx)
		require.NoError(t, err)
		assert.False(t, newClosed)
	})
}

func TestManager_Watch(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := newProvider(t)
	// Shut the provider down before the leak check so its conns wind down.
	defer srv.Close()
	env := browser.NewEnv(browser.Options{}, zaptest.NewLogger(t))
	mgr := popup.NewManager(env, popup.Options{PollInterval: 5 * time.Millisecond}, zaptest.NewLogger(t))

	handle, err := mgr.Open(ctx, srv.URL+"/grants")
	require.NoError(t, err)

	closed := mgr.Watch(ctx, handle)

	select {
	case <-closed:
		t.Fatal("close must not be reported while the window is open")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, handle.Close(ctx))

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close was not detected")
	}
}

// brokenWindow fails every close poll, as a window does once its environment
// has died mid-wait.
type brokenWindow struct{ name string }

func (w *brokenWindow) Name() string { return w.name }
func (w *brokenWindow) Closed(context.Context) (bool, error) {
	return false, errors.New("target detached")
}
func (w *brokenWindow) Close(context.Context) error { return nil }
func (w *brokenWindow) Focus(context.Context) error { return ua.ErrFocusUnsupported }

type brokenOpener struct{}

func (brokenOpener) Open(_ context.Context, _, name string, _ ua.WindowFeatures) (ua.Window, error) {
	return &brokenWindow{name: name}, nil
}

func TestManager_Watch_PersistentPollFailureReadsAsClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr := popup.NewManager(brokenOpener{}, popup.Options{PollInterval: 5 * time.Millisecond}, zaptest.NewLogger(t))

	handle, err := mgr.Open(ctx, "https://trust.example.com/grants")
	require.NoError(t, err)

	// Every poll errors: the watcher must conclude the window is gone rather
	// than warn on each tick forever.
	select {
	case <-mgr.Watch(ctx, handle):
	case <-time.After(time.Second):
		t.Fatal("a persistently unpollable window was never reported closed")
	}
}

func TestManager_Watch_SurvivesRecreation(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := newProvider(t)
	defer srv.Close()
	env := browser.NewEnv(browser.Options{FocusSupported: false}, zaptest.NewLogger(t))
	mgr := popup.NewManager(env, popup.Options{PollInterval: 50 * time.Millisecond}, zaptest.NewLogger(t))

	handle, err := mgr.Open(ctx, srv.URL+"/grants")
	require.NoError(t, err)

	closed := mgr.Watch(ctx, handle)

	// Recreation closes the old window mid-watch. The poll must follow the
	// handle to the replacement instead of reporting a closure.
	recreated, err := mgr.FocusOrRecreate(ctx, handle, srv.URL+"/grants")
	require.NoError(t, err)
	require.True(t, recreated)

	select {
	case <-closed:
		t.Fatal("recreation must not read as a user close")
	case <-time.After(120 * time.Millisecond):
	}

	require.NoError(t, handle.Close(ctx))
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close of the replacement window was not detected")
	}
}
