package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EventKind string

const (
	EventTaskCompleted    EventKind = "task_completed"
	EventTaskSkipped      EventKind = "task_skipped"
	EventPanelMoved       EventKind = "panel_moved"
	EventPanelCompleted   EventKind = "panel_completed"
	EventModuleMoved      EventKind = "module_moved"
	EventModuleCompleted  EventKind = "module_completed"
	EventTaskForceClosed  EventKind = "task_force_closed"
	EventQCCheckOpened    EventKind = "qc_check_opened"
	EventQCCheckClosed    EventKind = "qc_check_closed"
	EventQCCheckReopened  EventKind = "qc_check_reopened"
	EventQCSamplingTuned  EventKind = "qc_sampling_tuned"
	EventQCReworkOpened   EventKind = "qc_rework_opened"
	EventQCReworkFinished EventKind = "qc_rework_finished"
)

// ProductionEvent is an append-only audit record.
type ProductionEvent struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	Kind           EventKind `gorm:"not null;index" json:"kind"`
	WorkUnitID     uint      `gorm:"not null;index" json:"work_unit_id"`
	PanelUnitID    *uint     `json:"panel_unit_id"`
	TaskInstanceID *uint     `json:"task_instance_id"`
	FromStationID  *uint     `json:"from_station_id"`
	ToStationID    *uint     `json:"to_station_id"`
	Detail         string    `gorm:"type:text" json:"detail"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate hook to generate UUID before creating record
func (e *ProductionEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

func (ProductionEvent) TableName() string {
	return "production_events"
}
