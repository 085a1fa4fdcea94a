package schemas

// Status is the provider's verdict carried in every response envelope.
type Status string

const (
	StatusSuccess        Status = "Success"
	StatusError          Status = "Error"
	StatusInvalidRequest Status = "InvalidRequest"
	StatusUnknown        Status = "Unknown"
)

// ResponseType is the caller's preferred response delivery channel. The
// provider is free to ignore the hint and answer over the other channel.
type ResponseType string

const (
	ResponseTypeMessage           ResponseType = "message"
	ResponseTypeRedirect          ResponseType = "redirect"
	ResponseTypeImmediateRedirect ResponseType = "immediate-redirect"
)

// Routing field names shared by both delivery channels. They correlate a
// response with its request and are stripped before the envelope reaches
// message-channel callers.
const (
	FieldEvent  = "event"
	FieldStatus = "status"
)

// PreferredResponseTypeField is the form field carrying the response type
// hint on request submission.
const PreferredResponseTypeField = "preferred_response_type"

// Request describes one delegated authorization call to the provider.
type Request struct {
	// Action is the provider operation path, e.g. "grants/request".
	Action string
	// Payload is opaque to the protocol core; values are stringified on
	// submission (strings as-is, everything else JSON-encoded).
	Payload map[string]any
	// PreferredResponseType is sent as a hint when non-empty.
	PreferredResponseType ResponseType
}

// Envelope is a delivered response: a flat mapping of string keys to string
// values. On the redirect channel it still carries the status field; on the
// message channel the routing fields are stripped before delivery.
type Envelope map[string]string

// Status returns the envelope's status field, or StatusUnknown when absent.
func (e Envelope) Status() Status {
	if s, ok := e[FieldStatus]; ok {
		return Status(s)
	}
	return StatusUnknown
}

// Clone returns a shallow copy the caller may mutate freely.
func (e Envelope) Clone() Envelope {
	out := make(Envelope, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}
