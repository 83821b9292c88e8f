package journal

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"sessiongate.local/gateway/internal/events"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	store := &GormStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	if err := s.db.AutoMigrate(&notificationRow{}); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

func (s *GormStore) Append(ctx context.Context, n events.Notification) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&notificationRow{}).
			Where("tenant_id = ?", n.TenantID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("sequence lookup: %w", err)
		}

		row, err := rowFromNotification(n, maxSeq+1)
		if err != nil {
			return fmt.Errorf("encode notification: %w", err)
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("append notification: %w", err)
		}
		return nil
	})
}

func (s *GormStore) Recent(ctx context.Context, tenantID string, limit int) ([]events.Notification, error) {
	var rows []notificationRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("sequence DESC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	out := make([]events.Notification, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		n, err := rows[i].toNotification()
		if err != nil {
			return nil, fmt.Errorf("decode notification %s: %w", rows[i].ID, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Close is a no-op; the shared gorm handle is closed by its owner.
func (s *GormStore) Close() error {
	return nil
}
