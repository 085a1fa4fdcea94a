package schemas

import "fmt"

// Typed errors for the delegation protocol. Consumers classify failures with
// errors.As instead of string matching; nothing here is retried internally.

// PopupBlockedError reports that the user agent refused to open the child
// browsing context. Surfaced synchronously by the opening operation.
type PopupBlockedError struct {
	URL string
}

func (e *PopupBlockedError) Error() string {
	return fmt.Sprintf("popup blocked by the user agent for %q", e.URL)
}

// PopupClosedError reports that the child context was closed before a
// qualifying message arrived. Fatal to that in-flight request.
type PopupClosedError struct {
	WindowName string
}

func (e *PopupClosedError) Error() string {
	return fmt.Sprintf("popup %q closed before a response arrived", e.WindowName)
}

// MalformedResponseError reports a provider response that violates the
// required-field contract: a Success envelope missing a required field, or a
// response with no status at all. Treated as a provider bug, never coerced.
type MalformedResponseError struct {
	Event   string
	Missing []string
}

func (e *MalformedResponseError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("malformed response for event %q: status field absent", e.Event)
	}
	return fmt.Sprintf("malformed response for event %q: required fields %v unsatisfied", e.Event, e.Missing)
}

// ProviderRejectedError reports a non-Success status, cause-chained with the
// raw status code.
type ProviderRejectedError struct {
	Event  string
	Status Status
}

func (e *ProviderRejectedError) Error() string {
	return fmt.Sprintf("provider rejected event %q with status %q", e.Event, e.Status)
}
