package discovery

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	base
	items []Item
}

func (s *stubAdapter) Discover(context.Context, Options) ([]Item, error) {
	return s.items, nil
}

func TestRegistry_BuiltinSourceTypes(t *testing.T) {
	assert.Equal(t, []string{SourceConfluence, SourceSlack, SourceZendesk}, SourceTypes())

	r := NewRegistry(Deps{})
	for _, st := range SourceTypes() {
		a, err := r.Get(st)
		require.NoError(t, err)
		assert.Equal(t, st, a.SourceType())
		assert.NotEmpty(t, SecretSpecs(st))
	}

	_, err := r.Get("sharepoint")
	assert.ErrorIs(t, err, ErrUnknownSourceType)
}

func TestRegistry_CustomFactories(t *testing.T) {
	r := NewRegistryFrom(Deps{}, map[string]Factory{
		"stub": func(deps Deps) Adapter {
			return &stubAdapter{base: newBase("stub", deps), items: []Item{{ExternalID: "1"}}}
		},
	})

	a, err := r.Get("stub")
	require.NoError(t, err)
	items, err := a.Discover(context.Background(), Options{})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = r.Get(SourceZendesk)
	assert.ErrorIs(t, err, ErrUnknownSourceType)
}

func TestNewManagers(t *testing.T) {
	managers := NewManagers(credentials.EnvStore{}, nil, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Len(t, managers, len(SourceTypes()))
	for _, st := range SourceTypes() {
		require.Contains(t, managers, st)
		assert.Equal(t, st, managers[st].Integration())
	}
}

func TestBase_MissingCredentialManager(t *testing.T) {
	z := NewZendesk(Deps{})
	_, err := z.Discover(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
