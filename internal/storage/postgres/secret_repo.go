package postgres

import (
	"context"
	"fmt"

	"github.com/joshu-sajeev/sourcestage/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SecretRepository struct {
	db *gorm.DB
}

func NewSecretRepository(db *gorm.DB) *SecretRepository {
	return &SecretRepository{db: db}
}

// Get returns the stored value of name, or models.ErrNotFound.
func (r *SecretRepository) Get(ctx context.Context, name string) (string, error) {
	var secret models.Secret
	if err := r.db.WithContext(ctx).First(&secret, "name = ?", name).Error; err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, translate(err))
	}
	return secret.Value, nil
}

// Put inserts or replaces a secret.
func (r *SecretRepository) Put(ctx context.Context, name, value string) error {
	secret := models.Secret{Name: name, Value: value}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&secret).Error
	if err != nil {
		return fmt.Errorf("put secret %s: %w", name, err)
	}
	return nil
}
