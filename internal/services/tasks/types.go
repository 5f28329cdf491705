package tasks

import (
	"context"
	"time"

	"github.com/Teskh/production-sub000/internal/models"

	"gorm.io/gorm"
)

// Listener reacts to completions and skips inside the action's transaction.
// A returned error rolls the whole action back.
type Listener interface {
	TaskCompleted(ctx context.Context, tx *gorm.DB, ev CompletionEvent) error
	TaskSkipped(ctx context.Context, tx *gorm.DB, ev SkipEvent) error
}

// CompletionEvent describes a task instance that just reached Completed.
type CompletionEvent struct {
	Instance   models.TaskInstance
	Definition models.TaskDefinition
	WorkerID   uint
	At         time.Time
}

// SkipEvent describes a recorded skip. Instance is the paused open instance,
// if there was one.
type SkipEvent struct {
	Exception  models.TaskException
	Definition models.TaskDefinition
	Instance   *models.TaskInstance
	At         time.Time
}

// StartRequest starts (or joins) work on a task for a unit at a station.
type StartRequest struct {
	TaskDefinitionID uint   `json:"task_definition_id"`
	WorkUnitID       uint   `json:"work_unit_id"`
	PanelUnitID      *uint  `json:"panel_unit_id"`
	StationID        uint   `json:"station_id"`
	WorkerIDs        []uint `json:"worker_ids"`
	Notes            string `json:"notes"`
}

// SkipRequest skips a panel task for one panel.
type SkipRequest struct {
	TaskDefinitionID uint   `json:"task_definition_id"`
	WorkUnitID       uint   `json:"work_unit_id"`
	PanelUnitID      uint   `json:"panel_unit_id"`
	StationID        *uint  `json:"station_id"`
	WorkerID         uint   `json:"worker_id"`
	Reason           string `json:"reason"`
}
