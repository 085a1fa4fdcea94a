package state_test

import (
	"context"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/grantflow/internal/browser"
	"github.com/xkilldash9x/grantflow/internal/state"
)

func newTestStore(t *testing.T) (*state.Store, *browser.Env) {
	t.Helper()
	env := browser.NewEnv(browser.Options{}, zaptest.NewLogger(t))
	return state.NewStore(env, zaptest.NewLogger(t)), env
}

func TestRequestID(t *testing.T) {
	t.Run("subject alone", func(t *testing.T) {
		assert.Equal(t, "A", state.RequestID("A"))
	})

	t.Run("secondary ids are sorted before joining", func(t *testing.T) {
		assert.Equal(t, "A_svc1_svc2", state.RequestID("A", "svc2", "svc1"))
		assert.Equal(t, state.RequestID("A", "svc1", "svc2"), state.RequestID("A", "svc2", "svc1"))
	})

	t.Run("different subject sets stay distinct", func(t *testing.T) {
		assert.NotEqual(t, state.RequestID("A", "svc1"), state.RequestID("A", "svc1", "svc2"))
	})
}

func TestStore_SetGet(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	type grantState struct {
		Stage string `json:"stage"`
		App   string `json:"app"`
	}

	id := state.RequestID("A", "svc1")
	require.NoError(t, store.Set(ctx, id, grantState{Stage: "requested", App: "42"}))

	raw, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	var got grantState
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, grantState{Stage: "requested", App: "42"}, got)

	// Reads never consume the entry.
	_, ok, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, ok, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_MergeOnWrite(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Set(ctx, state.RequestID("A", "svc1"), "first"))
	require.NoError(t, store.Set(ctx, state.RequestID("A", "svc1", "svc2"), "second"))

	// Both entries live under one storage key; writing the second must not
	// clobber the first.
	raw, ok, err := store.Get(ctx, "A_svc1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `"first"`, string(raw))

	raw, ok, err = store.Get(ctx, "A_svc1_svc2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `"second"`, string(raw))
}

func TestStore_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	id := state.RequestID("A", "svc1")
	require.NoError(t, store.Set(ctx, id, "first"))
	require.NoError(t, store.Set(ctx, id, "second"))

	raw, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `"second"`, string(raw))
}

func TestStore_CorruptMapIsDiscarded(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)

	require.NoError(t, env.Set(ctx, state.DefaultStorageKey, "{not json"))

	// A corrupt map reads as empty instead of wedging the session.
	_, ok, err := store.Get(ctx, "A")
	require.NoError(t, err)
	assert.False(t, ok)

	// And writing afterwards starts a fresh, usable map.
	require.NoError(t, store.Set(ctx, "A", "recovered"))
	raw, ok, err := store.Get(ctx, "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `"recovered"`, string(raw))
}
