package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/joshu-sajeev/sourcestage/internal/config"
	"github.com/joshu-sajeev/sourcestage/internal/models"
	"gorm.io/gorm"
)

// ConnectionRepository is the read side of configured integrations. Create
// exists for operators and fixtures; the pipeline never writes connections.
type ConnectionRepository struct {
	db *gorm.DB
}

func NewConnectionRepository(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

func (r *ConnectionRepository) Create(ctx context.Context, conn *models.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.Status == "" {
		conn.Status = config.ConnectionStatusActive
	}
	if err := r.db.WithContext(ctx).Create(conn).Error; err != nil {
		return fmt.Errorf("create connection: %w", translate(err))
	}
	return nil
}

// GetByID returns the connection regardless of its status.
func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*models.Connection, error) {
	var conn models.Connection
	if err := r.db.WithContext(ctx).First(&conn, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get connection %s: %w", id, translate(err))
	}
	return &conn, nil
}

// FindActive resolves the oldest active connection of integrationType for a
// tenant. An empty name matches any connection name.
func (r *ConnectionRepository) FindActive(ctx context.Context, integrationType, tenantID, name string) (*models.Connection, error) {
	q := r.db.WithContext(ctx).
		Where("integration_type = ? AND tenant_id = ? AND status = ?", integrationType, tenantID, config.ConnectionStatusActive)
	if name != "" {
		q = q.Where("name = ?", name)
	}

	var conn models.Connection
	if err := q.Order("created_at ASC").Order("id ASC").Take(&conn).Error; err != nil {
		return nil, fmt.Errorf("find %s connection: %w", integrationType, translate(err))
	}
	return &conn, nil
}

// ListActive returns every active connection, oldest first.
func (r *ConnectionRepository) ListActive(ctx context.Context) ([]models.Connection, error) {
	var conns []models.Connection
	if err := r.db.WithContext(ctx).
		Where("status = ?", config.ConnectionStatusActive).
		Order("created_at ASC").
		Find(&conns).Error; err != nil {
		return nil, fmt.Errorf("list active connections: %w", err)
	}
	return conns, nil
}

// translate maps gorm's sentinel errors onto the storage-neutral ones in
// models.
func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", models.ErrDuplicate, err)
	default:
		return err
	}
}
