package tolls

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartautomapper/sam/internal/featureflags"
	"github.com/smartautomapper/sam/internal/geo"
	"github.com/smartautomapper/sam/internal/routing"
)

type mockProvider struct {
	payload    []byte
	err        error
	calls      atomic.Int32
	lastRoutes []geo.Path
}

func (m *mockProvider) LookupTolls(_ context.Context, routes []geo.Path) ([]byte, error) {
	m.calls.Add(1)
	m.lastRoutes = routes
	if m.err != nil {
		return nil, m.err
	}
	return m.payload, nil
}

func (m *mockProvider) Name() string { return "test-provider" }

var testRoute = geo.Path{{Lon: 2.3522, Lat: 48.8566}, {Lon: 4.8357, Lat: 45.7640}}

func TestService_Lookup(t *testing.T) {
	provider := &mockProvider{
		payload: []byte(`[[{"id": "t1", "latitude": 6606000, "longitude": 704000}], [{"id": "t1", "lon": 3, "lat": 46}, {"id": "t2"}]]`),
	}
	svc := NewService(ServiceConfig{Provider: provider, Logger: zerolog.Nop()})

	result, err := svc.Lookup(context.Background(), []geo.Path{testRoute, nil, testRoute})
	require.NoError(t, err)

	assert.Equal(t, int32(1), provider.calls.Load())
	assert.Len(t, provider.lastRoutes, 2, "empty routes are not sent")
	require.Len(t, result.Tolls, 1)
	assert.Equal(t, "t1", result.Tolls[0].ID)
	assert.InDelta(t, 3.05, result.Tolls[0].Location.Lon, 0.01)
	assert.Equal(t, 1, result.Incomplete)
	assert.Equal(t, []string{"t2"}, result.IncompleteIDs)
}

func TestService_Lookup_NoRoutes(t *testing.T) {
	provider := &mockProvider{}
	svc := NewService(ServiceConfig{Provider: provider, Logger: zerolog.Nop()})

	result, err := svc.Lookup(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Tolls)
	assert.Zero(t, provider.calls.Load())
}

func TestService_Lookup_InvalidRoute(t *testing.T) {
	provider := &mockProvider{}
	svc := NewService(ServiceConfig{Provider: provider, Logger: zerolog.Nop()})

	_, err := svc.Lookup(context.Background(), []geo.Path{{{Lon: 704000, Lat: 6606000}}})
	assert.ErrorIs(t, err, routing.ErrInvalidCoordinates)
	assert.Zero(t, provider.calls.Load())
}

func TestService_Lookup_Disabled(t *testing.T) {
	flags := featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewInMemoryRepository(),
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, flags.SetFlags(context.Background(), []*featureflags.Flag{{Key: featureflags.FlagDisableTollLookup, Enabled: true}}))

	provider := &mockProvider{}
	svc := NewService(ServiceConfig{Provider: provider, FeatureFlags: flags, Logger: zerolog.Nop()})

	result, err := svc.Lookup(context.Background(), []geo.Path{testRoute})
	require.NoError(t, err)
	assert.True(t, result.Disabled)
	assert.Empty(t, result.Tolls)
	assert.Zero(t, provider.calls.Load())
}

func TestService_Lookup_ProviderError(t *testing.T) {
	upstream := &routing.Error{Provider: "test-provider", Code: "SERVER_ERROR", Message: "toll service down", Err: routing.ErrProviderUnavailable}
	provider := &mockProvider{err: upstream}
	svc := NewService(ServiceConfig{Provider: provider, Logger: zerolog.Nop()})

	_, err := svc.Lookup(context.Background(), []geo.Path{testRoute})
	require.Error(t, err)
	assert.True(t, errors.Is(err, routing.ErrUpstreamRequestFailed))
}

func TestService_Lookup_MalformedResponse(t *testing.T) {
	provider := &mockProvider{payload: []byte(`"nope"`)}
	svc := NewService(ServiceConfig{Provider: provider, Logger: zerolog.Nop()})

	_, err := svc.Lookup(context.Background(), []geo.Path{testRoute})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedTollPayload)
	assert.ErrorIs(t, err, routing.ErrUpstreamRequestFailed)

	var rerr *routing.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "MALFORMED_TOLLS", rerr.Code)
}
