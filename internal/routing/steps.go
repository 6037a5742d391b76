package routing

import (
	"encoding/json"
	"math"
)

// rawStep is one upstream instruction step.
type rawStep struct {
	Type        optNumber `json:"type"`
	Instruction string    `json:"instruction"`
	Name        string    `json:"name"`
	Distance    optNumber `json:"distance"`
	Duration    optNumber `json:"duration"`
}

// readSteps decodes a list of upstream steps. Entries that are not objects are skipped;
// a value that is not a list yields no steps.
func readSteps(raw json.RawMessage) []InstructionStep {
	if jsonKind(raw) != '[' {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	steps := make([]InstructionStep, 0, len(items))
	for _, item := range items {
		if jsonKind(item) != '{' {
			continue
		}
		var rs rawStep
		if err := json.Unmarshal(item, &rs); err != nil {
			continue
		}

		kind := ManeuverUnknown
		if rs.Type.set && rs.Type.val == math.Trunc(rs.Type.val) {
			kind = ManeuverFromCode(int(rs.Type.val))
		}

		steps = append(steps, InstructionStep{
			Kind:            kind,
			Instruction:     rs.Instruction,
			RoadName:        roadName(rs.Name),
			DistanceMeters:  rs.Distance.ptr(),
			DurationSeconds: rs.Duration.ptr(),
		})
	}
	return steps
}

// roadName drops the "-" placeholder the routing engine uses for unnamed ways.
func roadName(name string) string {
	if name == "-" {
		return ""
	}
	return name
}

// readSegmentSteps concatenates the steps of every segment in a segments list.
func readSegmentSteps(raw json.RawMessage) []InstructionStep {
	if jsonKind(raw) != '[' {
		return nil
	}
	var segments []json.RawMessage
	if err := json.Unmarshal(raw, &segments); err != nil {
		return nil
	}

	var steps []InstructionStep
	for _, seg := range segments {
		obj, err := decodeObject(seg)
		if err != nil {
			continue
		}
		if v, ok := obj.raw("steps"); ok {
			steps = append(steps, readSteps(v)...)
		}
	}
	return steps
}

// stepSources holds the step lists found at each nesting level of one route.
// The first non-empty list in field order wins.
type stepSources struct {
	segment []InstructionStep // properties.segments[].steps or route.segments[].steps
	flat    []InstructionStep // properties.steps or route.steps
	entry   []InstructionStep // steps on the strategy entry wrapping the route
}

func (s stepSources) resolve() []InstructionStep {
	switch {
	case len(s.segment) > 0:
		return s.segment
	case len(s.flat) > 0:
		return s.flat
	case len(s.entry) > 0:
		return s.entry
	default:
		return []InstructionStep{}
	}
}

// readStepSources collects segment-level and top-level steps from a route object
// or a feature's properties.
func readStepSources(obj *object) stepSources {
	var src stepSources
	if v, ok := obj.raw("segments"); ok {
		src.segment = readSegmentSteps(v)
	}
	if v, ok := obj.raw("steps"); ok {
		src.flat = readSteps(v)
	}
	return src
}

// routeMetrics holds the optional summary figures of a route.
type routeMetrics struct {
	distance  *float64
	duration  *float64
	cost      *float64
	tollCount *int
}

// readMetrics reads summary figures from a route object, a feature's properties,
// or a strategy entry. Direct members take precedence over a nested summary.
func readMetrics(obj *object) routeMetrics {
	m := routeMetrics{
		distance:  obj.number("distance"),
		duration:  obj.number("duration"),
		cost:      firstNumber(obj, "cost", "price", "toll_cost"),
		tollCount: countOf(firstNumber(obj, "toll_count", "tollCount")),
	}
	if summary, ok := obj.child("summary"); ok {
		m.fill(readMetrics(summary))
	}
	return m
}

// fill sets every absent figure from other.
func (m *routeMetrics) fill(other routeMetrics) {
	if m.distance == nil {
		m.distance = other.distance
	}
	if m.duration == nil {
		m.duration = other.duration
	}
	if m.cost == nil {
		m.cost = other.cost
	}
	if m.tollCount == nil {
		m.tollCount = other.tollCount
	}
}

func firstNumber(obj *object, keys ...string) *float64 {
	for _, key := range keys {
		if v := obj.number(key); v != nil {
			return v
		}
	}
	return nil
}

// countOf converts a non-negative whole number to an int.
func countOf(v *float64) *int {
	if v == nil || *v < 0 || *v != math.Trunc(*v) || *v > math.MaxInt32 {
		return nil
	}
	n := int(*v)
	return &n
}
