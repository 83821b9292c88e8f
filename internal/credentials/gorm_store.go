package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the credentials table on db. The caller owns db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	store := &GormStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	if err := s.db.AutoMigrate(&credentialRow{}); err != nil {
		return fmt.Errorf("migrate credentials: %w", err)
	}
	return nil
}

func (s *GormStore) Exists(ctx context.Context, tenantID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&credentialRow{}).Where("tenant_id = ?", tenantID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count credentials: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) List(ctx context.Context) ([]string, error) {
	var tenantIDs []string
	if err := s.db.WithContext(ctx).Model(&credentialRow{}).Order("tenant_id ASC").Pluck("tenant_id", &tenantIDs).Error; err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	if tenantIDs == nil {
		tenantIDs = []string{}
	}
	return tenantIDs, nil
}

func (s *GormStore) Get(ctx context.Context, tenantID string) ([]byte, error) {
	rec, err := s.record(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return rec.Blob, nil
}

func (s *GormStore) record(ctx context.Context, tenantID string) (Record, error) {
	var row credentialRow
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get credentials: %w", err)
	}
	return row.toRecord(), nil
}

func (s *GormStore) Put(ctx context.Context, tenantID string, blob []byte) error {
	now := time.Now().UTC()
	row := credentialRow{
		TenantID:  tenantID,
		Blob:      blob,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"blob", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("put credentials: %w", err)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, tenantID string) (bool, error) {
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Delete(&credentialRow{})
	if result.Error != nil {
		return false, fmt.Errorf("delete credentials: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Close is a no-op; the shared gorm handle is closed by its owner.
func (s *GormStore) Close() error {
	return nil
}
