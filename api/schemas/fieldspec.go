package schemas

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// FieldSpec declares one expected response field, either by exact name or by
// a pattern anchored to the whole key. Callers pass lists of specs; the
// matcher tests every parameter of a candidate response against them.
type FieldSpec struct {
	// Name is the exact key to match. Empty when Pattern is set.
	Name string
	// Pattern matches the whole key. Nil when Name is set.
	Pattern *regexp.Regexp

	// canonical is the display form of the anchored expression, kept apart
	// from the compiled pattern so grouping for anchoring does not leak into
	// the response identity.
	canonical string
}

// Field declares an exact-name spec.
func Field(name string) FieldSpec {
	return FieldSpec{Name: name}
}

// FieldPattern declares a pattern spec. The expression is anchored to the
// whole key even if the caller omitted the anchors; grouping keeps a
// top-level alternation from escaping the anchors.
func FieldPattern(expr string) (FieldSpec, error) {
	re, err := regexp.Compile("^(?:" + expr + ")$")
	if err != nil {
		return FieldSpec{}, fmt.Errorf("invalid field pattern %q: %w", expr, err)
	}
	canonical := expr
	if !strings.HasPrefix(canonical, "^") {
		canonical = "^" + canonical
	}
	if !strings.HasSuffix(canonical, "$") {
		canonical = canonical + "$"
	}
	return FieldSpec{Pattern: re, canonical: canonical}, nil
}

// ParseFieldSpec reads a spec from its string form: "/expr/" is a pattern,
// anything else is an exact name.
func ParseFieldSpec(s string) (FieldSpec, error) {
	if len(s) >= 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") {
		return FieldPattern(s[1 : len(s)-1])
	}
	return Field(s), nil
}

// Matches reports whether the given parameter key satisfies this spec.
func (f FieldSpec) Matches(key string) bool {
	if f.Pattern != nil {
		return f.Pattern.MatchString(key)
	}
	return f.Name == key
}

// String returns the canonical form: the exact name, or the pattern wrapped
// in slashes. Canonical forms feed the response identity, so they must be
// stable for equal specs.
func (f FieldSpec) String() string {
	if f.canonical != "" {
		return "/" + f.canonical + "/"
	}
	if f.Pattern != nil {
		return "/" + f.Pattern.String() + "/"
	}
	return f.Name
}

// CanonicalSpecs returns the sorted canonical forms of the given specs.
func CanonicalSpecs(specs []FieldSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.String()
	}
	sort.Strings(out)
	return out
}

// ContainsStatus reports whether one of the specs matches the status routing
// field by exact name.
func ContainsStatus(specs []FieldSpec) bool {
	for _, s := range specs {
		if s.Pattern == nil && s.Name == FieldStatus {
			return true
		}
	}
	return false
}
