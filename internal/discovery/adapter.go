// Package discovery turns one connection of an external system into a list of
// normalized items ready for staging.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/joshu-sajeev/sourcestage/internal/apiclient"
	"github.com/joshu-sajeev/sourcestage/internal/batch"
	"github.com/joshu-sajeev/sourcestage/internal/credentials"
)

const DefaultLimit = 100

var (
	ErrUnknownSourceType = errors.New("unknown source type")
	ErrNotConfigured     = errors.New("integration credentials not configured")
)

type Options struct {
	ConnectionID string
	TenantID     string
	LibraryID    string
	CustomerID   string
	Since        time.Time
	Limit        int
}

func (o Options) loadOptions() credentials.LoadOptions {
	return credentials.LoadOptions{
		ConnectionID: o.ConnectionID,
		TenantID:     o.TenantID,
		LibraryID:    o.LibraryID,
		CustomerID:   o.CustomerID,
	}
}

func (o Options) limit() int {
	if o.Limit <= 0 {
		return DefaultLimit
	}
	return o.Limit
}

// Item is one discovered document. It only lives for the duration of a
// discovery call.
type Item struct {
	ExternalID string
	Title      string
	Content    string
	Preview    string
	Metadata   map[string]any
}

type Adapter interface {
	SourceType() string
	Discover(ctx context.Context, opts Options) ([]Item, error)
}

// ContentFetcher re-reads the full content of one item.
type ContentFetcher interface {
	FetchContent(ctx context.Context, opts Options, externalID string) (string, error)
}

type TestResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ConnectionTester performs one cheap authenticated call. Failures are
// reported in the result, never returned.
type ConnectionTester interface {
	TestConnection(ctx context.Context, opts Options) TestResult
}

// Deps are the shared collaborators every adapter is built from.
type Deps struct {
	Credentials   map[string]*credentials.Manager
	Clients       *apiclient.Pool
	BatchSize     int
	BatchDelay    time.Duration
	ClientOptions []apiclient.Option
	Logger        *slog.Logger
}

type Factory func(Deps) Adapter

type registration struct {
	build   Factory
	secrets []credentials.SecretSpec
}

var builtin = map[string]registration{
	SourceZendesk:    {build: NewZendesk, secrets: zendeskSecrets},
	SourceSlack:      {build: NewSlack, secrets: slackSecrets},
	SourceConfluence: {build: NewConfluence, secrets: confluenceSecrets},
}

// SourceTypes lists the built-in source types in a stable order.
func SourceTypes() []string {
	types := make([]string, 0, len(builtin))
	for t := range builtin {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// SecretSpecs returns the secrets a built-in source type needs.
func SecretSpecs(sourceType string) []credentials.SecretSpec {
	return builtin[sourceType].secrets
}

// NewManagers builds one credential manager per built-in source type.
func NewManagers(secrets credentials.SecretStore, connections credentials.ConnectionStore, ttl time.Duration, logger *slog.Logger) map[string]*credentials.Manager {
	managers := make(map[string]*credentials.Manager, len(builtin))
	for st, reg := range builtin {
		managers[st] = credentials.NewManager(st, reg.secrets, secrets, connections,
			credentials.WithTTL(ttl),
			credentials.WithLogger(logger.With("integration", st)),
		)
	}
	return managers
}

// Registry holds one adapter per source type. It is built once at startup
// and handed to whoever dispatches discovery jobs.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds every built-in adapter.
func NewRegistry(deps Deps) *Registry {
	factories := make(map[string]Factory, len(builtin))
	for t, reg := range builtin {
		factories[t] = reg.build
	}
	return NewRegistryFrom(deps, factories)
}

func NewRegistryFrom(deps Deps, factories map[string]Factory) *Registry {
	if deps.Clients == nil {
		deps.Clients = apiclient.NewPool()
	}
	if deps.BatchSize == 0 {
		deps.BatchSize = batch.DefaultSize
	}

	r := &Registry{adapters: make(map[string]Adapter, len(factories))}
	for t, build := range factories {
		r.adapters[t] = build(deps)
	}
	return r
}

func (r *Registry) Get(sourceType string) (Adapter, error) {
	a, ok := r.adapters[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, sourceType)
	}
	return a, nil
}

// base carries what all built-in adapters share.
type base struct {
	sourceType string
	creds      *credentials.Manager
	clients    *apiclient.Pool
	batch      *batch.Processor
	clientOpts []apiclient.Option
	logger     *slog.Logger
}

func newBase(sourceType string, deps Deps) base {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clients == nil {
		deps.Clients = apiclient.NewPool()
	}
	return base{
		sourceType: sourceType,
		creds:      deps.Credentials[sourceType],
		clients:    deps.Clients,
		batch:      batch.New(deps.BatchSize, deps.BatchDelay),
		clientOpts: deps.ClientOptions,
		logger:     deps.Logger.With("source_type", sourceType),
	}
}

func (b *base) SourceType() string {
	return b.sourceType
}

func (b *base) load(ctx context.Context, opts Options) (*credentials.Bundle, error) {
	if b.creds == nil {
		return nil, fmt.Errorf("%s: %w", b.sourceType, ErrNotConfigured)
	}
	bundle, err := b.creds.Load(ctx, opts.loadOptions())
	if err != nil {
		return nil, fmt.Errorf("load %s credentials: %w", b.sourceType, err)
	}
	return bundle, nil
}

// client returns the pooled client for this connection and endpoint. auth
// turns freshly loaded credentials into request headers, so a rotated secret
// is picked up once the credential cache expires.
func (b *base) client(opts Options, bundle *credentials.Bundle, baseURL string, interval time.Duration, auth func(*credentials.Bundle) map[string]string) *apiclient.Client {
	key := fmt.Sprintf("%s|%s|%s|%s", b.sourceType, bundle.ConnectionID, opts.TenantID, baseURL)

	return b.clients.Get(key, func() *apiclient.Client {
		headers := func(ctx context.Context) (map[string]string, error) {
			fresh, err := b.load(ctx, opts)
			if err != nil {
				return nil, err
			}
			return auth(fresh), nil
		}

		clientOpts := append([]apiclient.Option{
			apiclient.WithName(b.sourceType),
			apiclient.WithMinInterval(interval),
			apiclient.WithLogger(b.logger),
		}, b.clientOpts...)
		return apiclient.New(baseURL, headers, clientOpts...)
	})
}

func testResult(err error) TestResult {
	if err != nil {
		return TestResult{Success: false, Error: err.Error()}
	}
	return TestResult{Success: true}
}
