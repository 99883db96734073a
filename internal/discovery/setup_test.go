package discovery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/apiclient"
	"github.com/joshu-sajeev/sourcestage/internal/credentials"
	"github.com/joshu-sajeev/sourcestage/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

const testConnectionID = "6f1c1d2e-0000-4000-8000-000000000001"

type memSecrets map[string]string

func (m memSecrets) GetSecret(_ context.Context, name, _ string) (string, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return "", credentials.ErrSecretNotFound
}

type memConnections map[string]*models.Connection

func (m memConnections) GetByID(_ context.Context, id string) (*models.Connection, error) {
	if c, ok := m[id]; ok {
		return c, nil
	}
	return nil, models.ErrNotFound
}

func (m memConnections) FindActive(_ context.Context, integrationType, tenantID, _ string) (*models.Connection, error) {
	for _, c := range m {
		if c.IntegrationType == integrationType && c.TenantID == tenantID {
			return c, nil
		}
	}
	return nil, models.ErrNotFound
}

// newTestDeps wires one integration against an in-memory connection whose
// config carries config.
func newTestDeps(t *testing.T, sourceType string, secrets memSecrets, config map[string]any) Deps {
	t.Helper()

	raw, err := json.Marshal(config)
	require.NoError(t, err)

	conns := memConnections{testConnectionID: {
		ID:              testConnectionID,
		IntegrationType: sourceType,
		TenantID:        "tenant-1",
		Status:          "active",
		Config:          datatypes.JSON(raw),
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return Deps{
		Credentials: map[string]*credentials.Manager{
			sourceType: credentials.NewManager(sourceType, SecretSpecs(sourceType), secrets, conns, credentials.WithLogger(logger)),
		},
		Clients:    apiclient.NewPool(),
		BatchSize:  2,
		BatchDelay: 0,
		ClientOptions: []apiclient.Option{
			apiclient.WithMinInterval(0),
			apiclient.WithBackoff(time.Millisecond, 5*time.Millisecond),
		},
		Logger: logger,
	}
}

func testOptions() Options {
	return Options{
		ConnectionID: testConnectionID,
		TenantID:     "tenant-1",
		LibraryID:    "lib-1",
		Since:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
