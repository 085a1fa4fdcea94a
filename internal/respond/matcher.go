// Package respond implements the response matcher: detection, extraction,
// validation and caching of a redirect-delivered provider response carried in
// the current page's query string or fragment.
package respond

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/grantflow/api/schemas"
	"github.com/xkilldash9x/grantflow/internal/ua"
)

// HistoryStateField is the reserved field of the history entry's attached
// state holding already-extracted envelopes, keyed by response identity.
const HistoryStateField = "grantflow.responses"

// Query describes the response shape one caller expects for an event.
type Query struct {
	// Event is the response event name correlating request and response.
	Event string
	// Required fields; the status routing field is implicitly required.
	Required []schemas.FieldSpec
	// Optional fields, collected when present.
	Optional []schemas.FieldSpec
	// ExpectedOrigin, when set, must equal the referring document's origin
	// or the extraction is skipped entirely.
	ExpectedOrigin string
}

// identity distinguishes concurrently-interested callers reading the same
// navigation entry for differently-shaped expectations of the same event.
func (q Query) identity(required []schemas.FieldSpec) string {
	return q.Event +
		"?" + strings.Join(schemas.CanonicalSpecs(required), "&") +
		"#" + strings.Join(schemas.CanonicalSpecs(q.Optional), "&")
}

// Matcher extracts provider responses from the current address. It is
// idempotent: once an address has been cleaned, later extractions with the
// same query are served from the history-entry cache.
type Matcher struct {
	log *zap.Logger
}

// NewMatcher returns a matcher logging under the given logger.
func NewMatcher(logger *zap.Logger) *Matcher {
	return &Matcher{log: logger.Named("matcher")}
}

// Extract returns the response envelope for q, or (nil, nil) when the current
// page carries no response for it. A detected response that fails validation
// returns *schemas.MalformedResponseError or *schemas.ProviderRejectedError.
func (m *Matcher) Extract(ctx context.Context, page ua.Page, q Query) (schemas.Envelope, error) {
	if q.ExpectedOrigin != "" {
		origin, err := page.ReferrerOrigin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read referrer origin: %w", err)
		}
		if origin != q.ExpectedOrigin {
			return nil, nil
		}
	}

	required := q.Required
	if !schemas.ContainsStatus(required) {
		required = append(append([]schemas.FieldSpec{}, required...), schemas.Field(schemas.FieldStatus))
	}
	identity := q.identity(required)

	href, err := page.Location(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page location: %w", err)
	}

	envelope, missing, cleaned, found := extractFromAddress(href, q.Event, required, q.Optional)
	if !found {
		return m.cached(ctx, page, identity)
	}

	if cleaned != href {
		if err := page.ReplaceLocation(ctx, cleaned); err != nil {
			return nil, fmt.Errorf("failed to strip response from address: %w", err)
		}
	}
	m.log.Debug("Redirect response extracted from address.",
		zap.String(schemas.FieldEvent, q.Event), zap.Int("fields", len(envelope)))

	status, ok := envelope[schemas.FieldStatus]
	if !ok {
		return nil, &schemas.MalformedResponseError{Event: q.Event}
	}
	// A full-page round trip offers no retry path, so every non-Success
	// status is an unconditional rejection here.
	if schemas.Status(status) != schemas.StatusSuccess {
		return nil, &schemas.ProviderRejectedError{Event: q.Event, Status: schemas.Status(status)}
	}
	if len(missing) > 0 {
		return nil, &schemas.MalformedResponseError{Event: q.Event, Missing: missing}
	}

	if err := m.cache(ctx, page, identity, envelope); err != nil {
		return nil, err
	}
	return envelope, nil
}

// -- Address surgery --

// param is one raw key=value segment of a query string or fragment. The raw
// text is preserved so untouched parameters keep their original encoding.
type param struct {
	raw   string
	key   string
	value string
}

func parseParams(section string) []param {
	if section == "" {
		return nil
	}
	segments := strings.Split(section, "&")
	params := make([]param, 0, len(segments))
	for _, seg := range segments {
		p := param{raw: seg}
		rawKey, rawValue, _ := strings.Cut(seg, "=")
		if k, err := url.QueryUnescape(rawKey); err == nil {
			p.key = k
		} else {
			p.key = rawKey
		}
		if v, err := url.QueryUnescape(rawValue); err == nil {
			p.value = v
		} else {
			p.value = rawValue
		}
		params = append(params, p)
	}
	return params
}

func hasEventMarker(params []param, event string) bool {
	for _, p := range params {
		if p.key == schemas.FieldEvent && p.value == event {
			return true
		}
	}
	return false
}

// extractFromAddress scans the query string and then the fragment of href for
// an event marker; the first section carrying one wins. It returns the
// envelope of matched fields, the canonical forms of unsatisfied required
// specs, and the address with every matched segment (and the marker) removed
// in place.
func extractFromAddress(href, event string, required, optional []schemas.FieldSpec) (schemas.Envelope, []string, string, bool) {
	query, fragment, base := splitAddress(href)

	for _, section := range []struct {
		raw     string
		isQuery bool
	}{
		{raw: query, isQuery: true},
		{raw: fragment, isQuery: false},
	} {
		params := parseParams(section.raw)
		if !hasEventMarker(params, event) {
			continue
		}
		envelope, missing, remaining := consumeParams(params, event, required, optional)
		if section.isQuery {
			return envelope, missing, joinAddress(base, remaining, fragment), true
		}
		return envelope, missing, joinAddress(base, query, remaining), true
	}
	return nil, nil, href, false
}

// consumeParams collects spec matches into an envelope and returns the raw
// segments that survive the removal.
func consumeParams(params []param, event string, required, optional []schemas.FieldSpec) (schemas.Envelope, []string, string) {
	envelope := make(schemas.Envelope)
	satisfied := make([]bool, len(required))
	var kept []string

	for _, p := range params {
		if p.key == schemas.FieldEvent && p.value == event {
			continue // the marker is removed but never delivered
		}
		matched := false
		for i, spec := range required {
			if spec.Matches(p.key) {
				satisfied[i] = true
				matched = true
			}
		}
		if !matched {
			for _, spec := range optional {
				if spec.Matches(p.key) {
					matched = true
					break
				}
			}
		}
		if matched {
			envelope[p.key] = p.value
		} else {
			kept = append(kept, p.raw)
		}
	}

	var missing []string
	for i, spec := range required {
		if !satisfied[i] {
			missing = append(missing, spec.String())
		}
	}
	return envelope, missing, strings.Join(kept, "&")
}

// splitAddress separates href into its pre-query base, raw query string and
// raw fragment without reserializing anything.
func splitAddress(href string) (query, fragment, base string) {
	rest := href
	if i := strings.Index(rest, "#"); i >= 0 {
		fragment = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.Index(rest, "?"); i >= 0 {
		query = rest[i+1:]
		rest = rest[:i]
	}
	return query, fragment, rest
}

func joinAddress(base, query, fragment string) string {
	out := base
	if query != "" {
		out += "?" + query
	}
	if fragment != "" {
		out += "#" + fragment
	}
	return out
}

// -- History-entry cache --

func (m *Matcher) cached(ctx context.Context, page ua.Page, identity string) (schemas.Envelope, error) {
	_, responses, err := loadHistoryCache(ctx, page)
	if err != nil {
		return nil, err
	}
	if envelope, ok := responses[identity]; ok {
		return envelope.Clone(), nil
	}
	return nil, nil
}

func (m *Matcher) cache(ctx context.Context, page ua.Page, identity string, envelope schemas.Envelope) error {
	entry, responses, err := loadHistoryCache(ctx, page)
	if err != nil {
		return err
	}
	responses[identity] = envelope

	rawResponses, err := json.Marshal(responses)
	if err != nil {
		return fmt.Errorf("failed to encode response cache: %w", err)
	}
	entry[HistoryStateField] = rawResponses

	rawEntry, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode history state: %w", err)
	}
	if err := page.ReplaceHistoryState(ctx, rawEntry); err != nil {
		return fmt.Errorf("failed to attach response cache to history entry: %w", err)
	}
	return nil
}

// loadHistoryCache reads the history entry's attached state and the reserved
// response-cache field inside it. Foreign fields of the attached state are
// preserved untouched.
func loadHistoryCache(ctx context.Context, page ua.Page) (map[string]json.RawMessage, map[string]schemas.Envelope, error) {
	raw, err := page.HistoryState(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read history state: %w", err)
	}

	entry := make(map[string]json.RawMessage)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entry); err != nil {
			// Attached state some other code wrote in a non-object shape.
			// Leave it alone and act as if we own an empty entry.
			entry = make(map[string]json.RawMessage)
		}
	}

	responses := make(map[string]schemas.Envelope)
	if rawResponses, ok := entry[HistoryStateField]; ok {
		if err := json.Unmarshal(rawResponses, &responses); err != nil {
			responses = make(map[string]schemas.Envelope)
		}
	}
	return entry, responses, nil
}
