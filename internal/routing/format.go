package routing

import (
	"fmt"
	"math"
)

// DisplayName returns the label shown for a strategy.
func DisplayName(kind StrategyKind, key string) string {
	switch kind {
	case KindFastest:
		return "Le plus rapide"
	case KindCheapest:
		return "Le plus économique"
	case KindMinTolls:
		return "Minimum de péages"
	}
	if key == "" {
		return "Itinéraire"
	}
	return "Itinéraire " + key
}

// FormatDuration renders seconds as "2h05", "12 min" or "40 sec".
func FormatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int64(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%02d", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%d min", minutes)
	default:
		return fmt.Sprintf("%d sec", secs)
	}
}

// FormatDistance renders meters as "12.3 km" from one kilometre up, "850 m" below.
func FormatDistance(meters float64) string {
	if meters < 0 || math.IsNaN(meters) || math.IsInf(meters, 0) {
		meters = 0
	}
	if meters >= 1000 {
		return fmt.Sprintf("%.1f km", meters/1000)
	}
	return fmt.Sprintf("%d m", int64(math.Round(meters)))
}

// Savings returns how much cheaper candidate is than reference, in euros.
// It returns nil when either cost is unknown.
func Savings(reference, candidate RouteStrategy) *float64 {
	if reference.CostEuros == nil || candidate.CostEuros == nil {
		return nil
	}
	v := *reference.CostEuros - *candidate.CostEuros
	return &v
}

// Summary is the display form of one strategy.
type Summary struct {
	Kind     StrategyKind `json:"kind"`
	Name     string       `json:"name"`
	Distance string       `json:"distance,omitempty"`
	Duration string       `json:"duration,omitempty"`
	Cost     string       `json:"cost,omitempty"`
	Tolls    *int         `json:"tolls,omitempty"`
	// Savings is the cost difference against the fastest strategy, when both are known.
	Savings  *float64 `json:"savings,omitempty"`
	MainRoad string   `json:"mainRoad,omitempty"`
}

// Summarize builds display summaries for every strategy of a plan, in order.
func Summarize(strategies []RouteStrategy) []Summary {
	var fastest *RouteStrategy
	for i := range strategies {
		if strategies[i].Kind == KindFastest {
			fastest = &strategies[i]
			break
		}
	}

	out := make([]Summary, 0, len(strategies))
	for _, s := range strategies {
		sum := Summary{
			Kind:     s.Kind,
			Name:     DisplayName(s.Kind, s.Key),
			Tolls:    s.TollCount,
			MainRoad: mainRoad(s.Steps),
		}
		if s.DistanceMeters != nil {
			sum.Distance = FormatDistance(*s.DistanceMeters)
		}
		if s.DurationSeconds != nil {
			sum.Duration = FormatDuration(*s.DurationSeconds)
		}
		if s.CostEuros != nil {
			sum.Cost = fmt.Sprintf("%.2f €", *s.CostEuros)
		}
		if fastest != nil && s.Kind != KindFastest {
			sum.Savings = Savings(*fastest, s)
		}
		out = append(out, sum)
	}
	return out
}

// mainRoad returns the first named road followed for more than 500 m.
func mainRoad(steps []InstructionStep) string {
	for _, st := range steps {
		if st.DistanceMeters == nil || *st.DistanceMeters <= 500 {
			continue
		}
		if st.RoadName != "" {
			return st.RoadName
		}
	}
	return ""
}
