package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/smartautomapper/sam/internal/api/models"
	"github.com/smartautomapper/sam/internal/api/response"
	"github.com/smartautomapper/sam/internal/featureflags"
	"github.com/smartautomapper/sam/internal/provider/resilience"
	"github.com/smartautomapper/sam/internal/routing"
)

// readyTimeout bounds dependency checks in the readiness probe.
const readyTimeout = 2 * time.Second

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsConfig holds the dependencies reported by the operational endpoints.
type OpsConfig struct {
	Version   string
	BuildTime string
	// Registry reports upstream circuit breaker state (optional).
	Registry *resilience.Registry
	// FeatureFlags reports active degradation flags (optional).
	FeatureFlags *featureflags.Service
	// Routes reports route cache usage (optional).
	Routes *routing.Service
	// Database is the feature flag store, when one is configured (optional).
	Database Pinger
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /v1/ops/health. It only reports that the process serves.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status:    models.HealthStatusOK,
		Time:      models.Now(),
		Version:   h.cfg.Version,
		BuildTime: h.cfg.BuildTime,
	})
}

// ReadinessCheck handles GET /v1/ops/ready. Only the flag store gates readiness;
// the upstream routing service is reported by /v1/ops/status instead, so that an
// upstream outage does not take every instance out of rotation.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{Status: models.HealthStatusOK, Time: models.Now()}

	if err := h.pingDatabase(r.Context()); err != nil {
		health.Status = models.HealthStatusFail
		health.Checks = map[string]string{"database": err.Error()}
		response.JSON(w, r, http.StatusServiceUnavailable, health)
		return
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status. It always answers 200; the body's
// status is the worst of the upstream breakers, the flag store and the
// degradation flags.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Now(),
		Version:    h.cfg.Version,
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	if h.cfg.Registry != nil {
		for _, ph := range h.cfg.Registry.GetAllHealth() {
			ps := providerStatus(ph)
			status.Providers = append(status.Providers, ps)
			status.Degrade(ps.Status)
		}
	}

	if h.cfg.Routes != nil {
		stats := h.cfg.Routes.CacheStats()
		detail := strconv.Itoa(stats.FreshEntries) + " fresh, " + strconv.Itoa(stats.StaleEntries) + " stale"
		status.Subsystems = append(status.Subsystems, models.SubsystemStatus{
			Name:   "route-cache",
			Status: models.HealthStatusOK,
			Detail: &detail,
		})
	}

	if h.cfg.Database != nil {
		sub := models.SubsystemStatus{Name: "flag-store", Status: models.HealthStatusOK}
		if err := h.pingDatabase(r.Context()); err != nil {
			detail := err.Error()
			sub.Status = models.HealthStatusDegraded
			sub.Detail = &detail
		}
		status.Subsystems = append(status.Subsystems, sub)
		status.Degrade(sub.Status)
	}

	status.ActiveDegradationFlags = h.cfg.FeatureFlags.ActiveDegradations(r.Context())
	if len(status.ActiveDegradationFlags) > 0 {
		status.Degrade(models.HealthStatusDegraded)
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) pingDatabase(ctx context.Context) error {
	if h.cfg.Database == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	return h.cfg.Database.Ping(ctx)
}

func providerStatus(ph *resilience.ProviderHealth) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:          ph.Name,
		CircuitState:      ph.CircuitState.String(),
		Requests:          ph.Counts.Requests,
		Failures:          ph.Counts.ConsecutiveFailures,
		TotalSuccesses:    ph.Successes,
		TotalFailures:     ph.Failures,
		LastLatencyMs:     ph.LastLatency.Milliseconds(),
		LastSuccessAt:     models.TimestampPtr(ph.LastSuccessAt),
		LastFailureAt:     models.TimestampPtr(ph.LastFailureAt),
		RetryAfterSeconds: int(math.Ceil(ph.RetryAfter.Seconds())),
	}

	switch ph.Status() {
	case "unhealthy":
		ps.Status = models.HealthStatusFail
	case "degraded":
		ps.Status = models.HealthStatusDegraded
	default:
		ps.Status = models.HealthStatusOK
	}

	if ph.LastError != "" {
		msg := ph.LastError
		ps.Message = &msg
	}
	return ps
}
