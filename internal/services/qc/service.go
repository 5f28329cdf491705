// Package qc opens quality checks on task completion, samples them, records
// inspection outcomes and drives the rework cycle.
package qc

import (
	"context"
	"time"

	"github.com/Teskh/production-sub000/internal/lock"
	"github.com/Teskh/production-sub000/internal/services/tasks"

	"gorm.io/gorm"
)

// Service is the QC engine. It listens to task completions and owns check,
// execution, rework and notification state.
type Service struct {
	db    *gorm.DB
	tasks *tasks.Service
	locks *lock.MutexMap
	now   func() time.Time
}

// NewService creates a new QC service sharing the task service's lock table.
func NewService(db *gorm.DB, taskService *tasks.Service) *Service {
	return &Service{
		db:    db,
		tasks: taskService,
		locks: taskService.Locks(),
		now:   time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

var _ tasks.Listener = (*Service)(nil)

// TaskCompleted evaluates triggers for production work and closes the rework
// cycle for rework instances.
func (s *Service) TaskCompleted(ctx context.Context, tx *gorm.DB, ev tasks.CompletionEvent) error {
	if ev.Instance.ReworkTaskID != nil {
		return s.FinishRework(tx, *ev.Instance.ReworkTaskID, ev.At)
	}
	if ev.Definition.IsRework {
		return nil
	}
	return s.evaluateTriggers(tx, ev)
}

// TaskSkipped does nothing; only completions fire checks.
func (s *Service) TaskSkipped(ctx context.Context, tx *gorm.DB, ev tasks.SkipEvent) error {
	return nil
}
