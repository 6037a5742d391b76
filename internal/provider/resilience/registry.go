package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ProviderHealth is a point-in-time view of one upstream client.
type ProviderHealth struct {
	Name         string
	CircuitState gobreaker.State
	// Counts are the breaker's counts for the current interval.
	Counts gobreaker.Counts

	// Successes and Failures are totals since registration, one per logical
	// request (retries included).
	Successes uint64
	Failures  uint64

	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string
	// LastLatency is the duration of the last successful request, retries included.
	LastLatency time.Duration

	// OpenedAt is when the breaker last opened; nil while it is closed.
	OpenedAt *time.Time
	// RetryAfter is how long until an open breaker lets a probe through.
	RetryAfter time.Duration
}

// Status names the health state for status reports: closed is healthy,
// half-open is degraded, open is unhealthy.
func (h *ProviderHealth) Status() string {
	switch h.CircuitState {
	case gobreaker.StateClosed:
		return "healthy"
	case gobreaker.StateHalfOpen:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// Registry tracks the upstream clients for the status endpoint.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*registeredProvider
	now       func() time.Time
}

type registeredProvider struct {
	client    *Client
	successes uint64
	failures  uint64

	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
	lastLatency   time.Duration
	openedAt      *time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*registeredProvider),
		now:       time.Now,
	}
}

// Register adds a client. Registering a name again replaces the previous client.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = &registeredProvider{client: client}
}

// Unregister removes a client.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
}

// RecordSuccess records a request that succeeded after latency. Unknown names are ignored.
func (r *Registry) RecordSuccess(name string, latency time.Duration) {
	r.update(name, func(p *registeredProvider, now time.Time) {
		p.successes++
		p.lastSuccessAt = &now
		p.lastLatency = latency
	})
}

// RecordFailure records a failed request. Unknown names are ignored.
func (r *Registry) RecordFailure(name string, err error) {
	r.update(name, func(p *registeredProvider, now time.Time) {
		p.failures++
		p.lastFailureAt = &now
		if err != nil {
			p.lastError = err.Error()
		}
	})
}

// RecordStateChange notes breaker transitions so that the open time can be reported.
func (r *Registry) RecordStateChange(name string, to gobreaker.State) {
	r.update(name, func(p *registeredProvider, now time.Time) {
		switch to {
		case gobreaker.StateOpen:
			p.openedAt = &now
		case gobreaker.StateClosed:
			p.openedAt = nil
		}
	})
}

func (r *Registry) update(name string, fn func(*registeredProvider, time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		fn(p, r.now())
	}
}

// GetHealth returns the health of one client, or nil if it is not registered.
func (r *Registry) GetHealth(name string) *ProviderHealth {
	r.mu.RLock()
	p, ok := r.providers[name]
	var rec registeredProvider
	if ok {
		rec = *p
	}
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return r.snapshot(name, rec)
}

// GetAllHealth returns the health of every client, ordered by name.
func (r *Registry) GetAllHealth() []*ProviderHealth {
	r.mu.RLock()
	recs := make(map[string]registeredProvider, len(r.providers))
	for name, p := range r.providers {
		recs[name] = *p
	}
	r.mu.RUnlock()

	health := make([]*ProviderHealth, 0, len(recs))
	for name, rec := range recs {
		health = append(health, r.snapshot(name, rec))
	}
	sort.Slice(health, func(i, j int) bool { return health[i].Name < health[j].Name })
	return health
}

// snapshot reads the breaker without holding r.mu: reading its state may fire
// OnStateChange, which records into the registry.
func (r *Registry) snapshot(name string, p registeredProvider) *ProviderHealth {
	h := &ProviderHealth{
		Name:          name,
		CircuitState:  p.client.CircuitBreakerState(),
		Counts:        p.client.CircuitBreakerCounts(),
		Successes:     p.successes,
		Failures:      p.failures,
		LastSuccessAt: p.lastSuccessAt,
		LastFailureAt: p.lastFailureAt,
		LastError:     p.lastError,
		LastLatency:   p.lastLatency,
	}
	if h.CircuitState == gobreaker.StateOpen && p.openedAt != nil {
		h.OpenedAt = p.openedAt
		if wait := p.openedAt.Add(p.client.cooldown()).Sub(r.now()); wait > 0 {
			h.RetryAfter = wait
		}
	}
	return h
}

// GetProviderNames returns the registered names, sorted.
func (r *Registry) GetProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderCount returns the number of registered clients.
func (r *Registry) ProviderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
