package cdp

import (
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/grantflow/internal/ua"
)

// messageBinding is the page-exposed function forwarding window message
// events into the Go side.
const messageBinding = "grantflowDeliverMessage"

// Subscribe implements ua.Messages. The first subscription installs the
// in-page bridge: a CDP binding plus a window message listener serializing
// each event's origin and data through it.
func (e *Env) Subscribe() (<-chan ua.Message, func()) {
	e.bridgeOnce.Do(e.installBridge)
	if e.bridgeErr != nil {
		e.log.Warn("Message bridge unavailable; subscribers will see no messages.", zap.Error(e.bridgeErr))
	}
	return e.bus.Subscribe()
}

func (e *Env) installBridge() {
	if err := e.run(e.ctx, runtime.AddBinding(messageBinding)); err != nil {
		e.bridgeErr = err
		return
	}

	chromedp.ListenTarget(e.ctx, func(ev any) {
		call, ok := ev.(*runtime.EventBindingCalled)
		if !ok || call.Name != messageBinding {
			return
		}
		var payload struct {
			Origin string         `json:"origin"`
			Data   map[string]any `json:"data"`
		}
		if err := json.Unmarshal([]byte(call.Payload), &payload); err != nil {
			e.log.Warn("Dropping undecodable window message.", zap.Error(err))
			return
		}
		e.bus.Publish(ua.Message{Origin: payload.Origin, Data: payload.Data})
	})

	script := `window.addEventListener('message', (ev) => {
		if (typeof ev.data !== 'object' || ev.data === null) { return; }
		try { ` + messageBinding + `(JSON.stringify({origin: ev.origin, data: ev.data})); } catch (err) {}
	});`
	if err := e.evaluate(e.ctx, script, nil); err != nil {
		e.bridgeErr = err
	}
}
