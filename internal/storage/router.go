package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloudomate/coreauth/internal/crypto"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantInactive = errors.New("tenant is not active")
)

// IsolationMode selects how a tenant's data is separated: Shared tenants
// live in the master database behind a tenant_id column; Dedicated tenants
// get their own database and connection pool.
type IsolationMode string

const (
	IsolationShared    IsolationMode = "shared"
	IsolationDedicated IsolationMode = "dedicated"
)

// ParseIsolationMode normalizes the registry column. "silo" is the legacy
// spelling of dedicated.
func ParseIsolationMode(s string) IsolationMode {
	switch strings.ToLower(s) {
	case "dedicated", "silo":
		return IsolationDedicated
	default:
		return IsolationShared
	}
}

// TenantRecord is a row of the master tenant_registry table.
type TenantRecord struct {
	ID                        uuid.UUID
	Slug                      string
	Name                      string
	IsolationMode             string
	DatabaseHost              *string
	DatabasePort              *int32
	DatabaseName              *string
	DatabaseUser              *string
	DatabasePasswordEncrypted *string
	PoolMinConnections        *int32
	PoolMaxConnections        *int32
	Status                    string
	CreatedAt                 time.Time
}

func (t *TenantRecord) Isolation() IsolationMode {
	return ParseIsolationMode(t.IsolationMode)
}

func (t *TenantRecord) IsActive() bool {
	return t.Status == "active"
}

// tenantConn pairs a cached tenant record with its resolved pool handle.
// The record rides along so a stale cache entry self-heals: a suspended
// tenant fails the status check on the next lookup.
type tenantConn struct {
	tenant *TenantRecord
	pool   *pgxpool.Pool
}

// RouterConfig bounds the router's pool cache and dedicated pools.
type RouterConfig struct {
	MaxCachedPools  int
	PoolTTL         time.Duration
	DefaultMinConns int32
	DefaultMaxConns int32
	AcquireTimeout  time.Duration
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MaxCachedPools:  100,
		PoolTTL:         time.Hour,
		DefaultMinConns: 1,
		DefaultMaxConns: 10,
		AcquireTimeout:  10 * time.Second,
	}
}

// Router resolves a tenant to a ready-to-use connection pool.
//
// The master pool holds platform-scoped data (tenant_registry, signing_keys)
// and doubles as the data pool for shared-isolation tenants. Dedicated
// tenants get a private pool built from the registry coordinates, with the
// password decrypted on demand. Live pools are kept in an LRU so repeated
// lookups stay off the registry.
//
// Router carries no per-request state and is safe to share across tasks.
type Router struct {
	master *pgxpool.Pool
	box    *crypto.SecretBox // nil when no dedicated tenants are configured
	cache  *poolCache
	config RouterConfig
	logger *slog.Logger
}

func NewRouter(master *pgxpool.Pool, box *crypto.SecretBox, config RouterConfig, logger *slog.Logger) *Router {
	return &Router{
		master: master,
		box:    box,
		cache:  newPoolCache(config.MaxCachedPools, config.PoolTTL),
		config: config,
		logger: logger,
	}
}

// Master returns the master database pool for platform-level operations.
func (r *Router) Master() *pgxpool.Pool {
	return r.master
}

// Pool resolves the connection pool for a tenant by ID.
func (r *Router) Pool(ctx context.Context, tenantID uuid.UUID) (*pgxpool.Pool, error) {
	key := tenantID.String()

	if conn, ok := r.cache.get(key); ok {
		if conn.tenant.IsActive() {
			return conn.pool, nil
		}
		// Tenant no longer active, drop the stale entry.
		r.cache.remove(key)
	}

	tenant, err := r.TenantRecord(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if !tenant.IsActive() {
		return nil, fmt.Errorf("%w: %s (status: %s)", ErrTenantInactive, tenant.Slug, tenant.Status)
	}

	var pool *pgxpool.Pool
	switch tenant.Isolation() {
	case IsolationShared:
		pool = r.master
	case IsolationDedicated:
		pool, err = r.buildDedicatedPool(ctx, tenant)
		if err != nil {
			// Never mask a dedicated-pool failure by falling back to shared.
			return nil, err
		}
	}

	r.cache.put(key, &tenantConn{tenant: tenant, pool: pool})

	return pool, nil
}

// PoolBySlug resolves the pool for a tenant by its registry slug.
func (r *Router) PoolBySlug(ctx context.Context, slug string) (*pgxpool.Pool, error) {
	tenant, err := r.TenantRecordBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return r.Pool(ctx, tenant.ID)
}

const tenantRecordColumns = `id, slug, name, isolation_mode,
       database_host, database_port, database_name,
       database_user, database_password_encrypted,
       pool_min_connections, pool_max_connections,
       status, created_at`

func scanTenantRecord(row pgx.Row) (*TenantRecord, error) {
	var t TenantRecord
	err := row.Scan(
		&t.ID, &t.Slug, &t.Name, &t.IsolationMode,
		&t.DatabaseHost, &t.DatabasePort, &t.DatabaseName,
		&t.DatabaseUser, &t.DatabasePasswordEncrypted,
		&t.PoolMinConnections, &t.PoolMaxConnections,
		&t.Status, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant registry: %w", err)
	}
	return &t, nil
}

// TenantRecord fetches the registry row for a tenant by ID.
func (r *Router) TenantRecord(ctx context.Context, tenantID uuid.UUID) (*TenantRecord, error) {
	row := r.master.QueryRow(ctx,
		`SELECT `+tenantRecordColumns+` FROM tenant_registry WHERE id = $1`, tenantID)
	return scanTenantRecord(row)
}

// TenantRecordBySlug fetches the registry row for a tenant by slug.
func (r *Router) TenantRecordBySlug(ctx context.Context, slug string) (*TenantRecord, error) {
	row := r.master.QueryRow(ctx,
		`SELECT `+tenantRecordColumns+` FROM tenant_registry WHERE slug = $1`, slug)
	return scanTenantRecord(row)
}

// CreateTenant inserts a new registry row in provisioning state.
func (r *Router) CreateTenant(ctx context.Context, slug, name string, mode IsolationMode) (*TenantRecord, error) {
	return r.CreateTenantRecord(ctx, r.master, slug, name, mode, "provisioning")
}

// CreateTenantRecord inserts a registry row on the given handle, so tenant
// onboarding can bundle it into a larger transaction.
func (r *Router) CreateTenantRecord(ctx context.Context, db DB, slug, name string, mode IsolationMode, status string) (*TenantRecord, error) {
	row := db.QueryRow(ctx, `
		INSERT INTO tenant_registry (slug, name, isolation_mode, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+tenantRecordColumns,
		slug, name, string(mode), status)

	tenant, err := scanTenantRecord(row)
	if err != nil {
		return nil, err
	}

	r.logger.Info("tenant_created", "slug", tenant.Slug, "isolation", string(mode), "status", status)
	return tenant, nil
}

// ConfigureDedicatedDatabase stores the coordinates for a dedicated tenant
// database. The password is encrypted before it touches the registry and
// the cache entry is dropped so the next lookup picks up the new config.
func (r *Router) ConfigureDedicatedDatabase(ctx context.Context, tenantID uuid.UUID, host string, port int32, dbName, user, password string) (*TenantRecord, error) {
	if r.box == nil {
		return nil, crypto.ErrKeyNotConfigured
	}

	encrypted, err := r.box.Encrypt(password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt tenant database password: %w", err)
	}

	row := r.master.QueryRow(ctx, `
		UPDATE tenant_registry
		SET database_host = $1,
		    database_port = $2,
		    database_name = $3,
		    database_user = $4,
		    database_password_encrypted = $5,
		    status = 'active',
		    updated_at = NOW()
		WHERE id = $6
		RETURNING `+tenantRecordColumns,
		host, port, dbName, user, encrypted, tenantID)

	tenant, err := scanTenantRecord(row)
	if err != nil {
		return nil, err
	}

	r.cache.remove(tenantID.String())

	r.logger.Info("tenant_dedicated_db_configured",
		"slug", tenant.Slug, "host", host, "port", port, "database", dbName)
	return tenant, nil
}

// ActivateSharedTenant flips a shared-isolation tenant to active.
func (r *Router) ActivateSharedTenant(ctx context.Context, tenantID uuid.UUID) (*TenantRecord, error) {
	row := r.master.QueryRow(ctx, `
		UPDATE tenant_registry SET status = 'active', updated_at = NOW()
		WHERE id = $1
		RETURNING `+tenantRecordColumns, tenantID)

	tenant, err := scanTenantRecord(row)
	if err != nil {
		return nil, err
	}

	r.logger.Info("tenant_activated", "slug", tenant.Slug)
	return tenant, nil
}

// SuspendTenant marks a tenant suspended and evicts its cached pool.
func (r *Router) SuspendTenant(ctx context.Context, tenantID uuid.UUID) error {
	tag, err := r.master.Exec(ctx,
		`UPDATE tenant_registry SET status = 'suspended', updated_at = NOW() WHERE id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to suspend tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}

	r.cache.remove(tenantID.String())

	r.logger.Info("tenant_suspended", "tenant_id", tenantID)
	return nil
}

// ListTenants returns registry rows, optionally including non-active ones.
func (r *Router) ListTenants(ctx context.Context, includeInactive bool) ([]*TenantRecord, error) {
	query := `SELECT ` + tenantRecordColumns + ` FROM tenant_registry`
	if !includeInactive {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.master.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*TenantRecord
	for rows.Next() {
		tenant, err := scanTenantRecord(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

// Invalidate drops a tenant's cached pool handle. Called when a tenant is
// suspended, deleted or its database coordinates change.
func (r *Router) Invalidate(tenantID uuid.UUID) {
	r.cache.remove(tenantID.String())
}

// Stats reports cache occupancy for the health endpoint.
type RouterStats struct {
	CachedPools    int `json:"cached_pools"`
	MaxCachedPools int `json:"max_cached_pools"`
}

func (r *Router) Stats() RouterStats {
	return RouterStats{
		CachedPools:    r.cache.len(),
		MaxCachedPools: r.config.MaxCachedPools,
	}
}

// buildDedicatedPool constructs a pool from the tenant's registry
// coordinates. Every missing coordinate is a configuration error.
func (r *Router) buildDedicatedPool(ctx context.Context, tenant *TenantRecord) (*pgxpool.Pool, error) {
	if r.box == nil {
		return nil, fmt.Errorf("tenant %s has dedicated isolation: %w", tenant.Slug, crypto.ErrKeyNotConfigured)
	}
	if tenant.DatabaseHost == nil || tenant.DatabaseName == nil || tenant.DatabaseUser == nil {
		return nil, fmt.Errorf("tenant %s has dedicated isolation but incomplete database coordinates", tenant.Slug)
	}
	if tenant.DatabasePasswordEncrypted == nil {
		return nil, fmt.Errorf("tenant %s has dedicated isolation but no database password configured", tenant.Slug)
	}

	password, err := r.box.Decrypt(*tenant.DatabasePasswordEncrypted)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", tenant.Slug, err)
	}

	port := int32(5432)
	if tenant.DatabasePort != nil {
		port = *tenant.DatabasePort
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		*tenant.DatabaseUser, password, *tenant.DatabaseHost, port, *tenant.DatabaseName)

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: invalid database coordinates: %w", tenant.Slug, err)
	}

	config.MinConns = r.config.DefaultMinConns
	if tenant.PoolMinConnections != nil {
		config.MinConns = *tenant.PoolMinConnections
	}
	config.MaxConns = r.config.DefaultMaxConns
	if tenant.PoolMaxConnections != nil {
		config.MaxConns = *tenant.PoolMaxConnections
	}
	config.ConnConfig.ConnectTimeout = r.config.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tenant %s database: %w", tenant.Slug, err)
	}

	r.logger.Info("tenant_pool_created",
		"slug", tenant.Slug, "host", *tenant.DatabaseHost, "database", *tenant.DatabaseName)

	return pool, nil
}
