package behavior

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/grantflow/internal/state"
	"github.com/xkilldash9x/grantflow/internal/ua"
)

// Redirect is the full-page-navigation strategy. Call always returns
// promptly; the page is about to leave, and the result is observed only by a
// later matcher extraction once the browser returns to the origin page.
type Redirect struct {
	endpoint  string
	page      ua.Page
	submitter ua.FormSubmitter
	store     *state.Store
	log       *zap.Logger
}

// NewRedirect wires the redirect behavior against a provider endpoint.
func NewRedirect(endpoint string, page ua.Page, submitter ua.FormSubmitter, store *state.Store, logger *zap.Logger) (*Redirect, error) {
	if _, err := endpointOrigin(endpoint); err != nil {
		return nil, err
	}
	if page == nil {
		return nil, errors.New("page cannot be nil")
	}
	if submitter == nil {
		return nil, errors.New("form submitter cannot be nil")
	}
	if store == nil {
		return nil, errors.New("state store cannot be nil")
	}
	return &Redirect{
		endpoint:  endpoint,
		page:      page,
		submitter: submitter,
		store:     store,
		log:       logger.Named("redirect_behavior"),
	}, nil
}

// Call submits the request as a same-tab navigation. A recoverable-state
// pair, when given, is persisted before any navigation side effect. With a
// payload or a response-type hint the request goes out as a background form
// submission targeting the current document; otherwise it is a plain
// navigation to the action URL.
func (r *Redirect) Call(ctx context.Context, action string, payload map[string]any, opts Options) error {
	if err := opts.validateState(); err != nil {
		return err
	}
	if opts.wantsState() {
		if err := r.store.Set(ctx, opts.RequestID, opts.RecoverableState); err != nil {
			return fmt.Errorf("failed to store recoverable state: %w", err)
		}
	}

	target := actionURL(r.endpoint, action)
	fields, err := encodePayload(payload, opts.PreferredResponseType)
	if err != nil {
		return err
	}

	if len(fields) == 0 {
		r.log.Debug("Navigating to provider.", zap.String("action", action))
		return r.page.Navigate(ctx, target)
	}

	r.log.Debug("Submitting request to provider.",
		zap.String("action", action), zap.Int("fields", len(fields)))
	return r.submitter.Submit(ctx, target, fields, "")
}
