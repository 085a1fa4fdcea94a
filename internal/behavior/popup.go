package behavior

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/grantflow/api/schemas"
	"github.com/xkilldash9x/grantflow/internal/popup"
	"github.com/xkilldash9x/grantflow/internal/state"
	"github.com/xkilldash9x/grantflow/internal/ua"
)

// Deps are the collaborators of the popup behavior. Overlays is optional;
// without a presenter the overlay option is ignored.
type Deps struct {
	Manager   *popup.Manager
	Submitter ua.FormSubmitter
	Store     *state.Store
	Messages  ua.Messages
	Overlays  ua.OverlayPresenter
}

// Popup is the child-context strategy: the request is submitted into a popup
// window, and the response arrives either as a cross-window message or, when
// the provider chose to redirect the popup instead, via the response matcher
// on a later page.
type Popup struct {
	endpoint  string
	origin    string
	manager   *popup.Manager
	submitter ua.FormSubmitter
	store     *state.Store
	messages  ua.Messages
	overlays  ua.OverlayPresenter
	log       *zap.Logger
}

// NewPopup wires the popup behavior against a provider endpoint.
func NewPopup(endpoint string, deps Deps, logger *zap.Logger) (*Popup, error) {
	origin, err := endpointOrigin(endpoint)
	if err != nil {
		return nil, err
	}
	if deps.Manager == nil {
		return nil, errors.New("popup manager cannot be nil")
	}
	if deps.Submitter == nil {
		return nil, errors.New("form submitter cannot be nil")
	}
	if deps.Store == nil {
		return nil, errors.New("state store cannot be nil")
	}
	if deps.Messages == nil {
		return nil, errors.New("message source cannot be nil")
	}
	return &Popup{
		endpoint:  endpoint,
		origin:    origin,
		manager:   deps.Manager,
		submitter: deps.Submitter,
		store:     deps.Store,
		messages:  deps.Messages,
		overlays:  deps.Overlays,
		log:       logger.Named("popup_behavior"),
	}, nil
}

// Call opens the provider UI in a popup and submits the request into it. The
// parent page is never navigated. For message-channel calls the returned
// Pending settles with the response or a typed error; for every other
// response type Call returns (nil, nil) and the response, if any, is picked
// up later by the matcher.
//
// The waiters Call starts outlive ctx's cancellation signal deliberately:
// like their in-page counterparts, they end only via message, popup closure,
// or the environment shutting down.
func (p *Popup) Call(ctx context.Context, action string, payload map[string]any, opts Options) (*Pending, error) {
	if err := opts.validateState(); err != nil {
		return nil, err
	}
	// The state pair is stored first even though the popup may itself fall
	// back to a redirect-mediated response.
	if opts.wantsState() {
		if err := p.store.Set(ctx, opts.RequestID, opts.RecoverableState); err != nil {
			return nil, fmt.Errorf("failed to store recoverable state: %w", err)
		}
	}

	target := actionURL(p.endpoint, action)
	fields, err := encodePayload(payload, opts.PreferredResponseType)
	if err != nil {
		return nil, err
	}

	handle, err := p.manager.Open(ctx, target)
	if err != nil {
		return nil, err
	}

	// Recreation swaps the window under the handle, so reading the name at
	// submission time keeps resubmissions aimed at the live window.
	submit := func(ctx context.Context) error {
		return p.submitter.Submit(ctx, target, fields, handle.Name())
	}
	if err := submit(ctx); err != nil {
		if closeErr := handle.Close(ctx); closeErr != nil {
			p.log.Warn("Failed to close popup after submission failure.", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to submit request into popup: %w", err)
	}

	lifecycle, cancel := context.WithCancel(ua.Detach(ctx))

	if opts.PreferredResponseType != schemas.ResponseTypeMessage {
		if opts.Overlay && p.overlays != nil {
			overlay := p.showOverlay(lifecycle, handle, target, submit)
			closed := p.manager.Watch(lifecycle, handle)
			go func() {
				defer cancel()
				<-closed
				p.destroyOverlay(lifecycle, overlay)
			}()
		} else {
			cancel()
		}
		return nil, nil
	}

	if opts.ResponseEvent == "" {
		cancel()
		if closeErr := handle.Close(ctx); closeErr != nil {
			p.log.Warn("Failed to close popup.", zap.Error(closeErr))
		}
		return nil, errors.New("a response event name is required for message responses")
	}

	pending := newPending()
	msgs, unsubscribe := p.messages.Subscribe()
	var overlay ua.Overlay
	if opts.Overlay && p.overlays != nil {
		overlay = p.showOverlay(lifecycle, handle, target, submit)
	}
	closed := p.manager.Watch(lifecycle, handle)

	go p.await(lifecycle, cancel, pending, handle, msgs, unsubscribe, closed, overlay, opts)
	return pending, nil
}

// await races the message stream against close detection. Whichever
// observable event occurs first determines the outcome, with one refinement:
// a message already delivered when the close is observed is validated first
// and wins if it settles.
func (p *Popup) await(
	ctx context.Context,
	cancel context.CancelFunc,
	pending *Pending,
	handle *popup.Handle,
	msgs <-chan ua.Message,
	unsubscribe func(),
	closed <-chan struct{},
	overlay ua.Overlay,
	opts Options,
) {
	defer func() {
		unsubscribe()
		cancel()
		p.destroyOverlay(ua.Detach(ctx), overlay)
	}()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			if p.evaluate(pending, msg, opts) {
				return
			}
		case <-closed:
		drain:
			for {
				select {
				case msg, ok := <-msgs:
					if !ok {
						break drain
					}
					if p.evaluate(pending, msg, opts) {
						return
					}
				default:
					break drain
				}
			}
			pending.settle(nil, &schemas.PopupClosedError{WindowName: handle.Name()})
			return
		case <-ctx.Done():
			// Environment shut down; the pending result stays unsettled,
			// matching listeners discarded with an unloading page.
			return
		}
	}
}

// evaluate inspects one incoming message and settles the pending result when
// it qualifies. It returns whether the race is over.
func (p *Popup) evaluate(pending *Pending, msg ua.Message, opts Options) bool {
	// A wrong sender origin is not even considered for filtering.
	if msg.Origin != p.origin {
		return false
	}
	event, _ := msg.Data[schemas.FieldEvent].(string)
	if event != opts.ResponseEvent {
		return false
	}

	envelope, err := stringifyMessage(msg.Data)
	if err != nil {
		p.log.Warn("Dropping unencodable provider message.", zap.Error(err))
		return false
	}

	if !opts.filter()(envelope) {
		p.log.Debug("Ignoring provider message per filter; still waiting.",
			zap.String(schemas.FieldStatus, string(envelope.Status())))
		return false
	}

	if _, ok := envelope[schemas.FieldStatus]; !ok {
		pending.settle(nil, &schemas.MalformedResponseError{Event: opts.ResponseEvent})
		return true
	}
	if envelope.Status() != schemas.StatusSuccess {
		pending.settle(nil, &schemas.ProviderRejectedError{
			Event:  opts.ResponseEvent,
			Status: envelope.Status(),
		})
		return true
	}

	var missing []string
	for _, spec := range opts.Required {
		found := false
		for key := range envelope {
			if spec.Matches(key) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, spec.String())
		}
	}
	if len(missing) > 0 {
		pending.settle(nil, &schemas.MalformedResponseError{Event: opts.ResponseEvent, Missing: missing})
		return true
	}

	delete(envelope, schemas.FieldEvent)
	delete(envelope, schemas.FieldStatus)
	pending.settle(envelope, nil)
	return true
}

// showOverlay presents the bring-to-front affordance. Its main control
// focuses the popup, recreating it (and resubmitting the request) on
// platforms without programmatic focus; its dismiss control closes the popup,
// which flows into the close-detection path.
func (p *Popup) showOverlay(ctx context.Context, handle *popup.Handle, target string, submit func(context.Context) error) ua.Overlay {
	onFocus := func() {
		recreated, err := p.manager.FocusOrRecreate(ctx, handle, target)
		if err != nil {
			p.log.Warn("Failed to recover popup focus.", zap.Error(err))
			return
		}
		if recreated {
			if err := submit(ctx); err != nil {
				p.log.Warn("Failed to resubmit request into recreated popup.", zap.Error(err))
			}
		}
	}
	onDismiss := func() {
		if err := handle.Close(ctx); err != nil {
			p.log.Warn("Failed to close popup from overlay.", zap.Error(err))
		}
	}

	overlay, err := p.overlays.Show(ctx, onFocus, onDismiss)
	if err != nil {
		p.log.Warn("Failed to present overlay.", zap.Error(err))
		return nil
	}
	return overlay
}

func (p *Popup) destroyOverlay(ctx context.Context, overlay ua.Overlay) {
	if overlay == nil {
		return
	}
	if err := overlay.Destroy(ctx); err != nil {
		p.log.Warn("Failed to tear down overlay.", zap.Error(err))
	}
}
