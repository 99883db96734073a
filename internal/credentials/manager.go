// Package credentials resolves and caches the secrets and configuration of
// one integration's connections.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/joshu-sajeev/sourcestage/internal/models"
)

const (
	DefaultTTL = 5 * time.Minute

	defaultKey      = "default"
	cacheSize       = 1024
	connectionIDVar = "{connection_id}"
)

// ErrForeignConnection means a connection ID was requested on behalf of a
// tenant that does not own it.
var ErrForeignConnection = errors.New("connection belongs to another tenant")

// ConnectionStore is the read-only connection lookup.
type ConnectionStore interface {
	GetByID(ctx context.Context, id string) (*models.Connection, error)
	FindActive(ctx context.Context, integrationType, tenantID, name string) (*models.Connection, error)
}

// SecretSpec declares one secret of an integration. Name may contain
// {connection_id}, replaced by the resolved connection or "default".
type SecretSpec struct {
	Key    string
	Name   string
	EnvVar string
}

type LoadOptions struct {
	ConnectionID string
	TenantID     string
	LibraryID    string
	CustomerID   string
}

// NameFunc computes the connection name used for tenant lookups.
type NameFunc func(LoadOptions) string

// Bundle is the resolved view of one connection. Missing secrets are empty
// strings.
type Bundle struct {
	Credentials  map[string]string
	Config       map[string]any
	ConnectionID string
}

type configEntry struct {
	config       map[string]any
	connectionID string
}

type Manager struct {
	integration string
	specs       []SecretSpec
	secrets     SecretStore
	connections ConnectionStore
	nameFunc    NameFunc
	logger      *slog.Logger

	secretCache *expirable.LRU[string, map[string]string]
	configCache *expirable.LRU[string, configEntry]
}

type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.secretCache = expirable.NewLRU[string, map[string]string](cacheSize, nil, ttl)
		m.configCache = expirable.NewLRU[string, configEntry](cacheSize, nil, ttl)
	}
}

func WithNameFunc(fn NameFunc) Option {
	return func(m *Manager) { m.nameFunc = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(integration string, specs []SecretSpec, secrets SecretStore, connections ConnectionStore, opts ...Option) *Manager {
	m := &Manager{
		integration: integration,
		specs:       specs,
		secrets:     secrets,
		connections: connections,
		logger:      slog.Default(),
	}
	WithTTL(DefaultTTL)(m)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Integration() string {
	return m.integration
}

// Load returns the credentials and configuration for opts, from cache while
// the entries are fresh.
func (m *Manager) Load(ctx context.Context, opts LoadOptions) (*Bundle, error) {
	key := m.cacheKey(opts)

	cfg, ok := m.configCache.Get(key)
	if !ok {
		resolved, err := m.resolveConfig(ctx, opts)
		if err != nil {
			return nil, err
		}
		cfg = resolved
		m.configCache.Add(key, cfg)
	}

	creds, ok := m.secretCache.Get(key)
	if !ok {
		resolved, err := m.resolveSecrets(ctx, cfg.connectionID)
		if err != nil {
			return nil, err
		}
		creds = resolved
		m.secretCache.Add(key, creds)
	}

	return &Bundle{
		Credentials:  creds,
		Config:       cfg.config,
		ConnectionID: cfg.connectionID,
	}, nil
}

// ClearCache drops every cached secret and configuration.
func (m *Manager) ClearCache() {
	m.secretCache.Purge()
	m.configCache.Purge()
}

// cacheKey never lets two tenants share an entry.
func (m *Manager) cacheKey(opts LoadOptions) string {
	if opts.ConnectionID != "" {
		if opts.TenantID == "" {
			return opts.ConnectionID
		}
		return opts.ConnectionID + "@" + opts.TenantID
	}
	if opts.TenantID == "" {
		return defaultKey
	}
	return defaultKey + "/" + opts.TenantID + "/" + m.connectionName(opts)
}

func (m *Manager) connectionName(opts LoadOptions) string {
	if m.nameFunc == nil {
		return ""
	}
	return m.nameFunc(opts)
}

func (m *Manager) resolveConfig(ctx context.Context, opts LoadOptions) (configEntry, error) {
	entry := configEntry{config: map[string]any{}, connectionID: opts.ConnectionID}
	if m.connections == nil {
		return entry, nil
	}

	var (
		conn *models.Connection
		err  error
	)
	if opts.ConnectionID != "" {
		conn, err = m.connections.GetByID(ctx, opts.ConnectionID)
	} else {
		conn, err = m.connections.FindActive(ctx, m.integration, opts.TenantID, m.connectionName(opts))
	}
	if errors.Is(err, models.ErrNotFound) {
		m.logger.Debug("no connection configured", "integration", m.integration,
			"connection_id", opts.ConnectionID, "tenant_id", opts.TenantID)
		return entry, nil
	}
	if err != nil {
		return configEntry{}, fmt.Errorf("resolve %s connection: %w", m.integration, err)
	}
	if opts.TenantID != "" && conn.TenantID != opts.TenantID {
		return configEntry{}, fmt.Errorf("resolve %s connection %s for tenant %s: %w",
			m.integration, conn.ID, opts.TenantID, ErrForeignConnection)
	}

	entry.connectionID = conn.ID
	if len(conn.Config) > 0 {
		if err := json.Unmarshal(conn.Config, &entry.config); err != nil {
			return configEntry{}, fmt.Errorf("decode connection %s config: %w", conn.ID, err)
		}
	}
	return entry, nil
}

func (m *Manager) resolveSecrets(ctx context.Context, connectionID string) (map[string]string, error) {
	scope := connectionID
	if scope == "" {
		scope = defaultKey
	}

	creds := make(map[string]string, len(m.specs))
	for _, spec := range m.specs {
		name := strings.ReplaceAll(spec.Name, connectionIDVar, scope)

		v, err := m.secrets.GetSecret(ctx, name, spec.EnvVar)
		switch {
		case err == nil:
			creds[spec.Key] = v
		case errors.Is(err, ErrSecretNotFound):
			creds[spec.Key] = ""
		default:
			return nil, fmt.Errorf("load %s secret %s: %w", m.integration, spec.Key, err)
		}
	}
	return creds, nil
}

// String returns a config value as a string, or "".
func (b *Bundle) String(key string) string {
	if v, ok := b.Config[key].(string); ok {
		return v
	}
	return ""
}

// Strings returns a config list of strings. A single string is split on
// commas.
func (b *Bundle) Strings(key string) []string {
	switch v := b.Config[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return nil
	}
}
