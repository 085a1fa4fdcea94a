package cdp

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/grantflow/internal/ua"
)

const overlayBinding = "grantflowOverlayControl"

// overlay is one injected bring-to-front affordance.
type overlay struct {
	env *Env
	id  string

	onFocus   func()
	onDismiss func()
}

// Show implements ua.OverlayPresenter: a dimmed full-page layer whose main
// control fires onFocus and whose dismiss control fires onDismiss. Markup is
// deliberately minimal; hosts needing styled overlays render their own and
// wire the same callbacks.
func (e *Env) Show(ctx context.Context, onFocus, onDismiss func()) (ua.Overlay, error) {
	if err := e.ensureOverlayBinding(); err != nil {
		return nil, fmt.Errorf("failed to install overlay binding: %w", err)
	}

	o := &overlay{env: e, id: "grantflow-overlay-" + uuid.New().String(), onFocus: onFocus, onDismiss: onDismiss}

	e.mu.Lock()
	e.overlays[o.id] = o
	e.mu.Unlock()

	script := fmt.Sprintf(`(() => {
		const layer = document.createElement('div');
		layer.id = %[1]s;
		layer.style.cssText = 'position:fixed;inset:0;z-index:2147483647;background:rgba(0,0,0,.55);display:flex;align-items:center;justify-content:center;cursor:pointer;';
		const panel = document.createElement('div');
		panel.style.cssText = 'background:#fff;padding:24px;border-radius:4px;text-align:center;font:14px sans-serif;';
		panel.textContent = 'A window is waiting for you.';
		const dismiss = document.createElement('span');
		dismiss.textContent = '×';
		dismiss.style.cssText = 'position:absolute;top:12px;right:18px;color:#fff;font:24px sans-serif;cursor:pointer;';
		dismiss.addEventListener('click', (ev) => {
			ev.stopPropagation();
			%[2]s(JSON.stringify({id: %[1]s, control: 'dismiss'}));
		});
		layer.addEventListener('click', () => {
			%[2]s(JSON.stringify({id: %[1]s, control: 'focus'}));
		});
		layer.appendChild(panel);
		layer.appendChild(dismiss);
		document.body.appendChild(layer);
	})()`, jsString(o.id), overlayBinding)

	if err := e.evaluate(ctx, script, nil); err != nil {
		e.mu.Lock()
		delete(e.overlays, o.id)
		e.mu.Unlock()
		return nil, fmt.Errorf("failed to inject overlay: %w", err)
	}
	return o, nil
}

func (e *Env) ensureOverlayBinding() error {
	e.overlayOnce.Do(e.installOverlayBinding)
	return e.overlayErr
}

func (e *Env) installOverlayBinding() {
	if err := e.run(e.ctx, runtime.AddBinding(overlayBinding)); err != nil {
		e.overlayErr = err
		return
	}
	chromedp.ListenTarget(e.ctx, func(ev any) {
		call, ok := ev.(*runtime.EventBindingCalled)
		if !ok || call.Name != overlayBinding {
			return
		}
		var payload struct {
			ID      string `json:"id"`
			Control string `json:"control"`
		}
		if err := json.Unmarshal([]byte(call.Payload), &payload); err != nil {
			e.log.Warn("Dropping undecodable overlay event.", zap.Error(err))
			return
		}
		e.mu.Lock()
		o := e.overlays[payload.ID]
		e.mu.Unlock()
		if o == nil {
			return
		}
		switch payload.Control {
		case "focus":
			if o.onFocus != nil {
				o.onFocus()
			}
		case "dismiss":
			if o.onDismiss != nil {
				o.onDismiss()
			}
		}
	})
}

// Destroy removes the overlay element and unhooks its controls.
func (o *overlay) Destroy(ctx context.Context) error {
	o.env.mu.Lock()
	delete(o.env.overlays, o.id)
	o.env.mu.Unlock()

	script := fmt.Sprintf("(() => { const el = document.getElementById(%s); if (el) { el.remove(); } })()", jsString(o.id))
	if err := o.env.evaluate(ctx, script, nil); err != nil {
		return fmt.Errorf("failed to remove overlay: %w", err)
	}
	return nil
}
