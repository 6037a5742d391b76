package models

// HealthStatus is the coarse state reported by the ops endpoints.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

func (s HealthStatus) rank() int {
	switch s {
	case HealthStatusOK:
		return 0
	case HealthStatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worse returns the more severe of s and other.
func (s HealthStatus) Worse(other HealthStatus) HealthStatus {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// Health is the body of the liveness and readiness probes.
type Health struct {
	Status    HealthStatus `json:"status"`
	Time      Timestamp    `json:"time"`
	Version   string       `json:"version,omitempty"`
	BuildTime string       `json:"buildTime,omitempty"`
	// Checks maps each failed dependency to its error.
	Checks map[string]string `json:"checks,omitempty"`
}

// SystemStatus is the body of GET /v1/ops/status.
type SystemStatus struct {
	Status                 HealthStatus      `json:"status"`
	Time                   Timestamp         `json:"time"`
	Version                string            `json:"version,omitempty"`
	Subsystems             []SubsystemStatus `json:"subsystems"`
	Providers              []ProviderStatus  `json:"providers"`
	ActiveDegradationFlags []string          `json:"activeDegradationFlags,omitempty"`
}

// Degrade lowers the overall status to at least to.
func (s *SystemStatus) Degrade(to HealthStatus) {
	s.Status = s.Status.Worse(to)
}

// SubsystemStatus is one internal component of the status report.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// ProviderStatus is the state of an upstream service and its circuit breaker.
type ProviderStatus struct {
	Provider     string       `json:"provider"`
	Status       HealthStatus `json:"status"`
	CircuitState string       `json:"circuitState"`
	Requests     uint32       `json:"requests"`
	Failures     uint32       `json:"consecutiveFailures"`
	// TotalSuccesses and TotalFailures count logical requests since startup.
	TotalSuccesses uint64     `json:"totalSuccesses"`
	TotalFailures  uint64     `json:"totalFailures"`
	LastLatencyMs  int64      `json:"lastLatencyMs,omitempty"`
	LastSuccessAt  *Timestamp `json:"lastSuccessAt,omitempty"`
	LastFailureAt  *Timestamp `json:"lastFailureAt,omitempty"`
	// RetryAfterSeconds is set while the breaker is open.
	RetryAfterSeconds int     `json:"retryAfterSeconds,omitempty"`
	Message           *string `json:"message,omitempty"`
}
