// Package behavior implements the two request/response strategies of the
// delegation protocol: the redirect behavior (full-page navigation round
// trip) and the popup behavior (child context plus cross-window message or
// redirect fallback). Callers pick a behavior; the provider picks the actual
// response channel.
package behavior

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/grantflow/api/schemas"
)

// Filter decides whether a qualifying message should be acted on. Returning
// false leaves the deferred result waiting; the user may retry in the open
// popup.
type Filter func(schemas.Envelope) bool

// DefaultFilter silently ignores Error and Unknown statuses: both are
// recoverable by retry, so they neither resolve nor reject.
func DefaultFilter(envelope schemas.Envelope) bool {
	switch envelope.Status() {
	case schemas.StatusError, schemas.StatusUnknown:
		return false
	}
	return true
}

// Options shape one behavior call.
type Options struct {
	// PreferredResponseType is sent as a hint when non-empty.
	PreferredResponseType schemas.ResponseType

	// RequestID and RecoverableState form the optional recoverable-state
	// pair, stored before any navigation side effect when RequestID is set.
	RequestID        string
	RecoverableState any

	// ResponseEvent names the event correlating the asynchronous response.
	// Required for message-channel popup calls.
	ResponseEvent string
	// Required and Optional declare the expected response shape.
	Required []schemas.FieldSpec
	Optional []schemas.FieldSpec

	// Filter overrides DefaultFilter for message-channel responses.
	Filter Filter

	// Overlay requests the bring-to-front affordance while the popup is
	// open. Ignored when the environment has no overlay presenter.
	Overlay bool
}

func (o Options) filter() Filter {
	if o.Filter != nil {
		return o.Filter
	}
	return DefaultFilter
}

// wantsState reports whether a recoverable-state pair was given.
func (o Options) wantsState() bool { return o.RequestID != "" }

// validateState rejects a state value with no request id to key it under;
// accepting it would silently drop the pair.
func (o Options) validateState() error {
	if o.RecoverableState != nil && o.RequestID == "" {
		return errors.New("recoverable state requires a request id")
	}
	return nil
}

// actionURL joins the provider endpoint with the action path.
func actionURL(endpoint, action string) string {
	return strings.TrimSuffix(endpoint, "/") + "/" + strings.TrimPrefix(action, "/")
}

// endpointOrigin reduces the provider endpoint to its origin string, the only
// provider authentication this protocol performs.
func endpointOrigin(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid provider endpoint %q: %w", endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("provider endpoint %q must be an absolute URL", endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}

// encodePayload turns the opaque payload into form fields: string values are
// carried as-is, everything else is JSON-stringified. The response type hint
// rides along when set.
func encodePayload(payload map[string]any, responseType schemas.ResponseType) (url.Values, error) {
	fields := url.Values{}
	for key, value := range payload {
		switch v := value.(type) {
		case string:
			fields.Set(key, v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode payload field %q: %w", key, err)
			}
			fields.Set(key, string(raw))
		}
	}
	if responseType != "" {
		fields.Set(schemas.PreferredResponseTypeField, string(responseType))
	}
	return fields, nil
}

// stringifyMessage flattens a structured message payload into an envelope,
// JSON-stringifying non-string values.
func stringifyMessage(data map[string]any) (schemas.Envelope, error) {
	envelope := make(schemas.Envelope, len(data))
	for key, value := range data {
		switch v := value.(type) {
		case string:
			envelope[key] = v
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode message field %q: %w", key, err)
			}
			envelope[key] = string(raw)
		}
	}
	return envelope, nil
}
