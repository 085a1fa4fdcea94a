package behavior_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/grantflow/api/schemas"
	"github.com/xkilldash9x/grantflow/internal/behavior"
	"github.com/xkilldash9x/grantflow/internal/browser"
	"github.com/xkilldash9x/grantflow/internal/respond"
	"github.com/xkilldash9x/grantflow/internal/state"
)

func TestRedirect_New_Validation(t *testing.T) {
	log := zaptest.NewLogger(t)
	env := browser.NewEnv(browser.Options{}, log)
	page := env.NewDocument("https://app.example.com", "")
	store := state.NewStore(env, log)

	_, err := behavior.NewRedirect("not a url://", page, page, store, log)
	assert.Error(t, err)

	_, err = behavior.NewRedirect("/relative", page, page, store, log)
	assert.Error(t, err, "the endpoint must be absolute")

	_, err = behavior.NewRedirect("https://trust.example.com", nil, page, store, log)
	assert.Error(t, err)
}

func TestRedirect_Call_StateRequiresRequestID(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	env := browser.NewEnv(browser.Options{}, log)
	page := env.NewDocument("https://app.example.com", "")
	store := state.NewStore(env, log)

	rd, err := behavior.NewRedirect("https://trust.example.com", page, page, store, log)
	require.NoError(t, err)

	// A state value with no id to key it under must be rejected, not
	// silently dropped.
	err = rd.Call(ctx, "grants/request", nil, behavior.Options{RecoverableState: "orphaned"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request id")
}

func TestRedirect_Call_SubmitsForm(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	prov := newProvider(t, nil)

	env := browser.NewEnv(browser.Options{}, log)
	page, err := env.OpenPage(ctx, prov.URL()+"/app")
	require.NoError(t, err)
	store := state.NewStore(env, log)

	rd, err := behavior.NewRedirect(prov.URL(), page, page, store, log)
	require.NoError(t, err)

	err = rd.Call(ctx, "grants/request", map[string]any{
		"app":      "42",
		"services": map[string]any{},
	}, behavior.Options{PreferredResponseType: schemas.ResponseTypeRedirect})
	require.NoError(t, err)

	posts := prov.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "42", posts[0].Get("app"))
	assert.Equal(t, "{}", posts[0].Get("services"), "non-string payload values are JSON-stringified")
	assert.Equal(t, "redirect", posts[0].Get(schemas.PreferredResponseTypeField))
}

func TestRedirect_Call_PlainNavigationWithoutPayload(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	prov := newProvider(t, nil)

	env := browser.NewEnv(browser.Options{}, log)
	page, err := env.OpenPage(ctx, prov.URL()+"/app")
	require.NoError(t, err)
	store := state.NewStore(env, log)

	rd, err := behavior.NewRedirect(prov.URL(), page, page, store, log)
	require.NoError(t, err)

	require.NoError(t, rd.Call(ctx, "grants/landing", nil, behavior.Options{}))

	assert.Empty(t, prov.Posts(), "an empty request goes out as a plain navigation")
	href, err := page.Location(ctx)
	require.NoError(t, err)
	assert.Equal(t, prov.URL()+"/grants/landing", href)
}

func TestRedirect_Call_StoresStateBeforeNavigating(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	env := browser.NewEnv(browser.Options{}, log)
	page := env.NewDocument("https://app.example.com/app", "")
	store := state.NewStore(env, log)

	// An unreachable endpoint makes the navigation itself fail.
	rd, err := behavior.NewRedirect("http://127.0.0.1:1", page, page, store, log)
	require.NoError(t, err)

	err = rd.Call(ctx, "grants/request", map[string]any{"app": "42"}, behavior.Options{
		RequestID:        state.RequestID("A", "svc1"),
		RecoverableState: map[string]string{"stage": "requested"},
	})
	require.Error(t, err)

	// The state pair was persisted before the doomed navigation.
	raw, ok, err := store.Get(ctx, "A_svc1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"stage":"requested"}`, string(raw))
}

// TestRedirect_RoundTrip drives the full redirect channel: submit, provider
// redirect back with the response in the query string, matcher extraction,
// state recovery.
func TestRedirect_RoundTrip(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	prov := newProvider(t, func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodPost && r.URL.Path == "/grants/request" {
			returnURL := fmt.Sprintf("/return?x=1&event=%s&status=Success&grant-for-app-%s=abc&y=2",
				testEvent, r.PostFormValue("app"))
			http.Redirect(w, r, returnURL, http.StatusSeeOther)
			return true
		}
		return false
	})

	env := browser.NewEnv(browser.Options{}, log)
	page, err := env.OpenPage(ctx, prov.URL()+"/app")
	require.NoError(t, err)
	store := state.NewStore(env, log)

	rd, err := behavior.NewRedirect(prov.URL(), page, page, store, log)
	require.NoError(t, err)

	err = rd.Call(ctx, "grants/request", map[string]any{"app": "42"}, behavior.Options{
		PreferredResponseType: schemas.ResponseTypeRedirect,
		RequestID:             state.RequestID("A", "42"),
		RecoverableState:      map[string]string{"stage": "requested"},
	})
	require.NoError(t, err)

	// The browser is now on the return page with the response in the query.
	href, err := page.Location(ctx)
	require.NoError(t, err)
	assert.Contains(t, href, "/return?")
	assert.Contains(t, href, "grant-for-app-42=abc")

	grantSpec, err := schemas.FieldPattern("grant-for-.+")
	require.NoError(t, err)

	matcher := respond.NewMatcher(log)
	envelope, err := matcher.Extract(ctx, page, respond.Query{
		Event:          testEvent,
		Required:       []schemas.FieldSpec{grantSpec},
		ExpectedOrigin: prov.Origin(),
	})
	require.NoError(t, err)
	require.NotNil(t, envelope)
	assert.Equal(t, "abc", envelope["grant-for-app-42"])
	assert.Equal(t, schemas.StatusSuccess, envelope.Status(),
		"redirect-channel envelopes keep the status field")

	// The address is cleaned of the response and nothing else.
	href, err = page.Location(ctx)
	require.NoError(t, err)
	assert.Equal(t, prov.URL()+"/return?x=1&y=2", href)

	// Recoverable state survived the round trip.
	raw, ok, err := store.Get(ctx, "A_42")
	require.NoError(t, err)
	require.True(t, ok)
	var recovered map[string]string
	require.NoError(t, json.Unmarshal(raw, &recovered))
	assert.Equal(t, "requested", recovered["stage"])
}
