// Package audit keeps the append-only production event trail.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/Teskh/production-sub000/internal/models"

	"gorm.io/gorm"
)

// Record appends ev inside the caller's transaction.
func Record(tx *gorm.DB, ev models.ProductionEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if err := tx.Create(&ev).Error; err != nil {
		return fmt.Errorf("failed to record %s event: %w", ev.Kind, err)
	}
	return nil
}

// Service reads the event trail.
type Service struct {
	db *gorm.DB
}

// NewService creates a new audit service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// List returns a work unit's events, oldest first.
func (s *Service) List(ctx context.Context, workUnitID uint) ([]models.ProductionEvent, error) {
	var events []models.ProductionEvent
	err := s.db.WithContext(ctx).
		Where("work_unit_id = ?", workUnitID).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// ListKind returns a work unit's events of one kind, oldest first.
func (s *Service) ListKind(ctx context.Context, workUnitID uint, kind models.EventKind) ([]models.ProductionEvent, error) {
	var events []models.ProductionEvent
	err := s.db.WithContext(ctx).
		Where("work_unit_id = ? AND kind = ?", workUnitID, kind).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s events: %w", kind, err)
	}
	return events, nil
}
