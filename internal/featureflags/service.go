package featureflags

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCacheTTL is how long flag values are served from memory.
const DefaultCacheTTL = time.Minute

// ServiceConfig holds configuration for the feature flag service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger
	// CacheTTL is how long to cache flags in memory (default: DefaultCacheTTL).
	CacheTTL time.Duration
	// DefaultFlags overrides the built-in defaults (optional).
	DefaultFlags map[string]*Flag
}

// Service evaluates flags with caching and falls back to defaults when the store fails.
// A nil *Service reads every flag as off.
type Service struct {
	repo         Repository
	logger       zerolog.Logger
	cacheTTL     time.Duration
	defaultFlags map[string]*Flag

	mu          sync.RWMutex
	cache       map[string]*Flag
	cacheExpiry time.Time
}

// NewService creates a new feature flag service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = DefaultCacheTTL
	}

	defaultFlags := cfg.DefaultFlags
	if defaultFlags == nil {
		defaultFlags = DefaultFlags()
	}

	return &Service{
		repo:         cfg.Repository,
		logger:       cfg.Logger,
		cacheTTL:     cacheTTL,
		defaultFlags: defaultFlags,
		cache:        make(map[string]*Flag),
	}
}

// GetFlag returns the current value of key: cached, stored or default, in that order.
// It returns nil for a key that is neither stored nor defaulted.
func (s *Service) GetFlag(ctx context.Context, key string) *Flag {
	if flag, ok := s.getCached(key); ok {
		return flag
	}

	flag, err := s.repo.GetFlag(ctx, key)
	if err == nil {
		s.setCached(key, flag)
		return flag
	}
	if !errors.Is(err, ErrFlagNotFound) {
		s.logger.Warn().Err(err).Str("flag", key).Msg("failed to get feature flag from repository")
		return s.defaultFlags[key]
	}

	def := s.defaultFlags[key]
	s.setCached(key, def)
	return def
}

// GetAllFlags returns stored flags merged over the defaults, with descriptions filled in.
func (s *Service) GetAllFlags(ctx context.Context) map[string]*Flag {
	result := make(map[string]*Flag, len(s.defaultFlags))
	for k, v := range s.defaultFlags {
		result[k] = v
	}

	stored, err := s.repo.GetAllFlags(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to get feature flags from repository, using defaults")
	} else {
		for k, v := range stored {
			result[k] = v
		}
		s.mu.Lock()
		s.cache = make(map[string]*Flag, len(result))
		for k, v := range result {
			s.cache[k] = v
		}
		s.cacheExpiry = time.Now().Add(s.cacheTTL)
		s.mu.Unlock()
	}

	for k, v := range result {
		if v == nil {
			continue
		}
		flag := *v
		if def, ok := Lookup(k); ok {
			flag.Description = def.Description
		}
		result[k] = &flag
	}
	return result
}

// List returns every flag sorted by key.
func (s *Service) List(ctx context.Context) FlagList {
	all := s.GetAllFlags(ctx)
	list := FlagList{Items: make([]Flag, 0, len(all))}
	for _, f := range all {
		if f != nil {
			list.Items = append(list.Items, *f)
		}
	}
	sort.Slice(list.Items, func(i, j int) bool { return list.Items[i].Key < list.Items[j].Key })
	return list
}

// SetFlags stores flags as given. Apply is the validated entry point for operators.
func (s *Service) SetFlags(ctx context.Context, flags []*Flag) error {
	now := time.Now()
	for _, flag := range flags {
		flag.UpdatedAt = now
	}

	if err := s.repo.SetFlags(ctx, flags); err != nil {
		return err
	}

	s.mu.Lock()
	for _, flag := range flags {
		s.cache[flag.Key] = flag
	}
	if s.cacheExpiry.Before(now) {
		s.cacheExpiry = now.Add(s.cacheTTL)
	}
	s.mu.Unlock()

	return nil
}

// Apply validates req, stores it and logs each change with its reason. Invalid
// requests return a *ValidationError and change nothing.
func (s *Service) Apply(ctx context.Context, req FlagUpdateRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	previous := make(map[string]bool, len(req.Updates))
	flags := make([]*Flag, 0, len(req.Updates))
	for _, u := range req.Updates {
		previous[u.Key] = s.GetFlag(ctx, u.Key).IsEnabled()
		flags = append(flags, &Flag{Key: u.Key, Enabled: *u.Enabled, Reason: req.Reason})
	}

	if err := s.SetFlags(ctx, flags); err != nil {
		return err
	}

	for _, f := range flags {
		s.logger.Info().
			Str("flag", f.Key).
			Bool("from", previous[f.Key]).
			Bool("to", f.Enabled).
			Str("reason", req.Reason).
			Msg("feature flag changed")
	}
	return nil
}

// Reset removes the stored value of key so that its default applies again.
func (s *Service) Reset(ctx context.Context, key string) error {
	if _, ok := Lookup(key); !ok {
		return ErrFlagNotFound
	}
	if err := s.repo.DeleteFlag(ctx, key); err != nil && !errors.Is(err, ErrFlagNotFound) {
		return err
	}

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	s.logger.Info().Str("flag", key).Msg("feature flag reset to default")
	return nil
}

// InvalidateCache clears the cached flags, forcing a refresh on next access.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*Flag)
	s.cacheExpiry = time.Time{}
}

// IsEnabled reports whether the flag with the given key is on.
func (s *Service) IsEnabled(ctx context.Context, key string) bool {
	if s == nil {
		return false
	}
	return s.GetFlag(ctx, key).IsEnabled()
}

// ActiveDegradations returns the keys of the degrading switches that are on, in
// declaration order.
func (s *Service) ActiveDegradations(ctx context.Context) []string {
	var active []string
	for _, d := range definitions {
		if d.Degrades && s.IsEnabled(ctx, d.Key) {
			active = append(active, d.Key)
		}
	}
	return active
}

func (s *Service) getCached(key string) (*Flag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if time.Now().After(s.cacheExpiry) {
		return nil, false
	}
	flag, ok := s.cache[key]
	return flag, ok
}

func (s *Service) setCached(key string, flag *Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[key] = flag
	if s.cacheExpiry.Before(time.Now()) {
		s.cacheExpiry = time.Now().Add(s.cacheTTL)
	}
}

// IsStrictRouteDedup returns true if routes are deduplicated by coordinate hash.
func (s *Service) IsStrictRouteDedup(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagStrictRouteDedup)
}

// IsTollLookupDisabled returns true if toll lookups are switched off.
func (s *Service) IsTollLookupDisabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagDisableTollLookup)
}

// IsSmartRouteDisabled returns true if constrained routing falls back to plain routing.
func (s *Service) IsSmartRouteDisabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagDisableSmartRoute)
}
