package featureflags_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/featureflags"
)

func newService(repo featureflags.Repository, ttl time.Duration) *featureflags.Service {
	return featureflags.NewService(featureflags.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		CacheTTL:   ttl,
	})
}

func enabled(v bool) *bool { return &v }

// failingRepository fails every call, as an unreachable database would.
type failingRepository struct{}

var errStoreDown = errors.New("connection refused")

func (failingRepository) GetFlag(context.Context, string) (*featureflags.Flag, error) {
	return nil, errStoreDown
}

func (failingRepository) GetAllFlags(context.Context) (map[string]*featureflags.Flag, error) {
	return nil, errStoreDown
}

func (failingRepository) SetFlags(context.Context, []*featureflags.Flag) error { return errStoreDown }

func (failingRepository) DeleteFlag(context.Context, string) error { return errStoreDown }

func TestService_GetFlag_Default(t *testing.T) {
	service := newService(featureflags.NewInMemoryRepository(), time.Minute)

	flag := service.GetFlag(context.Background(), featureflags.FlagStrictRouteDedup)
	if flag == nil {
		t.Fatal("expected flag to be returned")
	}
	if flag.Key != featureflags.FlagStrictRouteDedup {
		t.Errorf("expected key %q, got %q", featureflags.FlagStrictRouteDedup, flag.Key)
	}
	if flag.IsEnabled() {
		t.Error("expected strict_route_dedup to be off by default")
	}
}

func TestService_SetFlags(t *testing.T) {
	service := newService(featureflags.NewInMemoryRepository(), time.Minute)
	ctx := context.Background()

	err := service.SetFlags(ctx, []*featureflags.Flag{
		{Key: featureflags.FlagStrictRouteDedup, Enabled: true},
		{Key: featureflags.FlagDisableSmartRoute, Enabled: true},
	})
	if err != nil {
		t.Fatalf("failed to set flags: %v", err)
	}

	if !service.IsStrictRouteDedup(ctx) {
		t.Error("expected strict route dedup to be enabled")
	}
	if !service.IsSmartRouteDisabled(ctx) {
		t.Error("expected smart route to be disabled")
	}
	if service.IsTollLookupDisabled(ctx) {
		t.Error("expected toll lookup to stay enabled")
	}
}

func TestService_Apply(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	service := newService(repo, time.Minute)
	ctx := context.Background()

	err := service.Apply(ctx, featureflags.FlagUpdateRequest{
		Updates: []featureflags.FlagUpdate{{Key: featureflags.FlagDisableTollLookup, Enabled: enabled(true)}},
		Reason:  "toll backend maintenance",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if !service.IsTollLookupDisabled(ctx) {
		t.Error("expected toll lookup to be disabled")
	}
	stored, err := repo.GetFlag(ctx, featureflags.FlagDisableTollLookup)
	if err != nil {
		t.Fatalf("stored flag: %v", err)
	}
	if stored.Reason != "toll backend maintenance" {
		t.Errorf("expected reason to be stored, got %q", stored.Reason)
	}
	if stored.UpdatedAt.IsZero() {
		t.Error("expected update time to be stamped")
	}
}

func TestService_Apply_Invalid(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	service := newService(repo, time.Minute)

	err := service.Apply(context.Background(), featureflags.FlagUpdateRequest{
		Updates: []featureflags.FlagUpdate{
			{Key: featureflags.FlagDisableTollLookup, Enabled: enabled(true)},
			{Key: "enable_teleport", Enabled: enabled(true)},
		},
		Reason: "testing",
	})

	var verr *featureflags.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := repo.GetFlag(context.Background(), featureflags.FlagDisableTollLookup); !errors.Is(err, featureflags.ErrFlagNotFound) {
		t.Error("expected nothing to be stored for an invalid request")
	}
}

func TestFlagUpdateRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		req    featureflags.FlagUpdateRequest
		fields []string
	}{
		{
			name: "valid",
			req: featureflags.FlagUpdateRequest{
				Updates: []featureflags.FlagUpdate{{Key: featureflags.FlagStrictRouteDedup, Enabled: enabled(false)}},
				Reason:  "rollback",
			},
		},
		{
			name:   "empty",
			req:    featureflags.FlagUpdateRequest{},
			fields: []string{"updates", "reason"},
		},
		{
			name: "missing key and value",
			req: featureflags.FlagUpdateRequest{
				Updates: []featureflags.FlagUpdate{{}},
				Reason:  "x",
			},
			fields: []string{"updates[0].key", "updates[0].enabled"},
		},
		{
			name: "unknown and duplicate",
			req: featureflags.FlagUpdateRequest{
				Updates: []featureflags.FlagUpdate{
					{Key: "nope", Enabled: enabled(true)},
					{Key: featureflags.FlagDisableSmartRoute, Enabled: enabled(true)},
					{Key: featureflags.FlagDisableSmartRoute, Enabled: enabled(false)},
				},
				Reason: "x",
			},
			fields: []string{"updates[0].key", "updates[2].key"},
		},
		{
			name: "blank reason",
			req: featureflags.FlagUpdateRequest{
				Updates: []featureflags.FlagUpdate{{Key: featureflags.FlagStrictRouteDedup, Enabled: enabled(true)}},
				Reason:  "   ",
			},
			fields: []string{"reason"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if len(tt.fields) == 0 {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}

			var verr *featureflags.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(verr.Problems) != len(tt.fields) {
				t.Fatalf("expected %d problems, got %+v", len(tt.fields), verr.Problems)
			}
			for i, field := range tt.fields {
				if verr.Problems[i].Field != field {
					t.Errorf("problem %d: expected field %q, got %q", i, field, verr.Problems[i].Field)
				}
			}
		})
	}
}

func TestService_GetAllFlags(t *testing.T) {
	service := newService(featureflags.NewInMemoryRepository(), time.Minute)
	ctx := context.Background()

	if err := service.SetFlags(ctx, []*featureflags.Flag{{Key: featureflags.FlagDisableSmartRoute, Enabled: true}}); err != nil {
		t.Fatalf("set: %v", err)
	}

	flags := service.GetAllFlags(ctx)
	for _, def := range featureflags.Definitions() {
		flag, ok := flags[def.Key]
		if !ok {
			t.Errorf("expected flag %q to be present", def.Key)
			continue
		}
		if flag.Description != def.Description {
			t.Errorf("expected description of %q to be filled in", def.Key)
		}
	}
	if !flags[featureflags.FlagDisableSmartRoute].Enabled {
		t.Error("expected stored value to override the default")
	}
}

func TestService_List_SortedByKey(t *testing.T) {
	service := newService(featureflags.NewInMemoryRepository(), time.Minute)

	list := service.List(context.Background())

	want := []string{
		featureflags.FlagDisableSmartRoute,
		featureflags.FlagDisableTollLookup,
		featureflags.FlagStrictRouteDedup,
	}
	if len(list.Items) != len(want) {
		t.Fatalf("expected %d flags, got %d", len(want), len(list.Items))
	}
	for i, key := range want {
		if list.Items[i].Key != key {
			t.Errorf("item %d: expected %q, got %q", i, key, list.Items[i].Key)
		}
	}
}

func TestService_InvalidateCache(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	service := newService(repo, time.Hour)
	ctx := context.Background()

	// Populate the cache
	_ = service.GetFlag(ctx, featureflags.FlagStrictRouteDedup)

	// Another instance changes the store
	_ = repo.SetFlags(ctx, []*featureflags.Flag{{Key: featureflags.FlagStrictRouteDedup, Enabled: true}})

	if service.IsStrictRouteDedup(ctx) {
		t.Error("expected cached value before invalidation")
	}

	service.InvalidateCache()

	if !service.IsStrictRouteDedup(ctx) {
		t.Error("expected updated value after cache invalidation")
	}
}

func TestService_Reset(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	service := newService(repo, time.Hour)
	ctx := context.Background()

	if err := service.SetFlags(ctx, []*featureflags.Flag{{Key: featureflags.FlagDisableTollLookup, Enabled: true}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := service.Reset(ctx, featureflags.FlagDisableTollLookup); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if service.IsTollLookupDisabled(ctx) {
		t.Error("expected default value after reset")
	}

	// Resetting a flag that was never stored is fine
	if err := service.Reset(ctx, featureflags.FlagStrictRouteDedup); err != nil {
		t.Errorf("reset of unstored flag: %v", err)
	}
	if err := service.Reset(ctx, "no_such_flag"); !errors.Is(err, featureflags.ErrFlagNotFound) {
		t.Errorf("expected ErrFlagNotFound for unknown flag, got %v", err)
	}
}

func TestService_ActiveDegradations(t *testing.T) {
	service := newService(featureflags.NewInMemoryRepository(), time.Minute)
	ctx := context.Background()

	if got := service.ActiveDegradations(ctx); len(got) != 0 {
		t.Errorf("expected no degradations by default, got %v", got)
	}

	_ = service.SetFlags(ctx, []*featureflags.Flag{
		{Key: featureflags.FlagStrictRouteDedup, Enabled: true},
		{Key: featureflags.FlagDisableSmartRoute, Enabled: true},
	})

	got := service.ActiveDegradations(ctx)
	if len(got) != 1 || got[0] != featureflags.FlagDisableSmartRoute {
		t.Errorf("expected only disable_smart_route, got %v", got)
	}
}

func TestService_IsEnabled_UnknownFlag(t *testing.T) {
	service := newService(featureflags.NewInMemoryRepository(), time.Minute)

	if service.IsEnabled(context.Background(), "no_such_flag") {
		t.Error("expected unknown flag to be off")
	}
}

func TestService_NilService(t *testing.T) {
	var service *featureflags.Service
	ctx := context.Background()

	if service.IsEnabled(ctx, featureflags.FlagDisableTollLookup) {
		t.Error("expected nil service to report flags as off")
	}
	if service.IsTollLookupDisabled(ctx) {
		t.Error("expected toll lookup to stay enabled without a flag service")
	}
	if got := service.ActiveDegradations(ctx); len(got) != 0 {
		t.Errorf("expected no degradations, got %v", got)
	}
}

func TestService_StoreFailureFallsBackToDefaults(t *testing.T) {
	service := featureflags.NewService(featureflags.ServiceConfig{
		Repository: failingRepository{},
		Logger:     zerolog.Nop(),
		DefaultFlags: map[string]*featureflags.Flag{
			featureflags.FlagStrictRouteDedup: {Key: featureflags.FlagStrictRouteDedup, Enabled: true},
		},
	})
	ctx := context.Background()

	if !service.IsStrictRouteDedup(ctx) {
		t.Error("expected default value while the store is down")
	}
	if len(service.GetAllFlags(ctx)) != 1 {
		t.Error("expected defaults only while the store is down")
	}
	if err := service.SetFlags(ctx, []*featureflags.Flag{{Key: featureflags.FlagStrictRouteDedup}}); !errors.Is(err, errStoreDown) {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestInMemoryRepository_DeleteFlag(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	ctx := context.Background()

	_ = repo.SetFlags(ctx, []*featureflags.Flag{{Key: featureflags.FlagDisableSmartRoute, Enabled: true}})

	if err := repo.DeleteFlag(ctx, featureflags.FlagDisableSmartRoute); err != nil {
		t.Fatalf("failed to delete flag: %v", err)
	}
	if _, err := repo.GetFlag(ctx, featureflags.FlagDisableSmartRoute); !errors.Is(err, featureflags.ErrFlagNotFound) {
		t.Errorf("expected ErrFlagNotFound after delete, got %v", err)
	}
	if err := repo.DeleteFlag(ctx, "nonexistent"); !errors.Is(err, featureflags.ErrFlagNotFound) {
		t.Errorf("expected ErrFlagNotFound for non-existent flag, got %v", err)
	}
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	ctx := context.Background()

	_ = repo.SetFlags(ctx, []*featureflags.Flag{{Key: featureflags.FlagStrictRouteDedup, Enabled: true}})

	flag, _ := repo.GetFlag(ctx, featureflags.FlagStrictRouteDedup)
	flag.Enabled = false

	again, _ := repo.GetFlag(ctx, featureflags.FlagStrictRouteDedup)
	if !again.Enabled {
		t.Error("expected stored flag to be unaffected by caller changes")
	}
}
