// Package featureflags holds the runtime switches of the route pipeline. Flags are
// booleans read on every request through a short-lived cache. When the store fails,
// the built-in defaults apply.
package featureflags

import (
	"fmt"
	"strings"
	"time"
)

// Well-known feature flag keys.
const (
	// FlagStrictRouteDedup compares route geometries by coordinate hash instead of point count.
	FlagStrictRouteDedup = "strict_route_dedup"

	// FlagDisableTollLookup skips toll lookups for computed routes.
	FlagDisableTollLookup = "disable_toll_lookup"

	// FlagDisableSmartRoute serves constrained route requests with unconstrained routing.
	FlagDisableSmartRoute = "disable_smart_route"
)

// Definition describes a flag the pipeline reads.
type Definition struct {
	Key         string
	Description string
	Default     bool
	// Degrades marks switches that turn part of the pipeline off.
	Degrades bool
}

var definitions = []Definition{
	{
		Key:         FlagStrictRouteDedup,
		Description: "Compare route geometries by coordinate hash instead of point count.",
	},
	{
		Key:         FlagDisableTollLookup,
		Description: "Skip toll lookups and report them as disabled.",
		Degrades:    true,
	},
	{
		Key:         FlagDisableSmartRoute,
		Description: "Serve toll-count and budget requests with plain routing.",
		Degrades:    true,
	},
}

// Definitions returns every known flag, in declaration order.
func Definitions() []Definition {
	return append([]Definition(nil), definitions...)
}

// Lookup returns the definition of key.
func Lookup(key string) (Definition, bool) {
	for _, d := range definitions {
		if d.Key == key {
			return d, true
		}
	}
	return Definition{}, false
}

// Flag is the current value of one switch.
type Flag struct {
	Key         string `json:"key"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
	// Reason is the justification recorded with the last change.
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsEnabled reports whether the flag is set. A nil flag is off.
func (f *Flag) IsEnabled() bool {
	return f != nil && f.Enabled
}

// FlagList represents a list of feature flags.
type FlagList struct {
	Items []Flag `json:"items"`
}

// FlagUpdate sets one flag.
type FlagUpdate struct {
	Key     string `json:"key"`
	Enabled *bool  `json:"enabled"`
}

// FlagUpdateRequest is a batch of flag changes with the reason for making them.
type FlagUpdateRequest struct {
	Updates []FlagUpdate `json:"updates"`
	Reason  string       `json:"reason"`
}

// FieldProblem is one invalid part of an update request.
type FieldProblem struct {
	Field   string
	Code    string
	Message string
}

// ValidationError lists everything wrong with an update request.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Message)
	}
	return "invalid feature flag update: " + strings.Join(parts, "; ")
}

// Validate checks that the request names known flags once each, sets every value and
// carries a reason. It returns a *ValidationError or nil.
func (r FlagUpdateRequest) Validate() error {
	var problems []FieldProblem
	if len(r.Updates) == 0 {
		problems = append(problems, FieldProblem{Field: "updates", Code: "required", Message: "at least one update is required"})
	}
	if strings.TrimSpace(r.Reason) == "" {
		problems = append(problems, FieldProblem{Field: "reason", Code: "required", Message: "required"})
	}

	seen := make(map[string]bool, len(r.Updates))
	for i, u := range r.Updates {
		field := fmt.Sprintf("updates[%d]", i)
		switch _, known := Lookup(u.Key); {
		case strings.TrimSpace(u.Key) == "":
			problems = append(problems, FieldProblem{Field: field + ".key", Code: "required", Message: "required"})
		case !known:
			problems = append(problems, FieldProblem{Field: field + ".key", Code: "unknown", Message: fmt.Sprintf("unknown flag %q", u.Key)})
		case seen[u.Key]:
			problems = append(problems, FieldProblem{Field: field + ".key", Code: "duplicate", Message: fmt.Sprintf("flag %q is updated twice", u.Key)})
		}
		seen[u.Key] = true
		if u.Enabled == nil {
			problems = append(problems, FieldProblem{Field: field + ".enabled", Code: "required", Message: "must be true or false"})
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// DefaultFlags returns every known flag at its default value.
func DefaultFlags() map[string]*Flag {
	flags := make(map[string]*Flag, len(definitions))
	for _, d := range definitions {
		flags[d.Key] = &Flag{Key: d.Key, Enabled: d.Default}
	}
	return flags
}
