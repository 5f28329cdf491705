package qc

import (
	"time"

	"github.com/Teskh/production-sub000/internal/models"
)

// FailureInput attaches a catalog failure mode, free text, or both.
type FailureInput struct {
	FailureModeID *uint  `json:"failure_mode_id"`
	OtherText     string `json:"other_text"`
}

// ExecutionRequest records an inspector's outcome on an Open check.
type ExecutionRequest struct {
	CheckInstanceID   uint             `json:"check_instance_id"`
	Outcome           models.QCOutcome `json:"outcome"`
	InspectorID       uint             `json:"inspector_id"`
	SeverityLevelID   *uint            `json:"severity_level_id"`
	Failures          []FailureInput   `json:"failures"`
	ReworkDescription string           `json:"rework_description"`
	Notes             string           `json:"notes"`
}

// ExecutionResult is what RecordExecution wrote.
type ExecutionResult struct {
	Execution     models.QCExecution      `json:"execution"`
	Check         models.QCCheckInstance  `json:"check"`
	Rework        *models.QCReworkTask    `json:"rework,omitempty"`
	Notifications []models.QCNotification `json:"notifications,omitempty"`
}

// ManualCheckRequest opens an inspection that no trigger fired.
type ManualCheckRequest struct {
	CheckDefinitionID uint  `json:"check_definition_id"`
	WorkUnitID        uint  `json:"work_unit_id"`
	PanelUnitID       *uint `json:"panel_unit_id"`
	StationID         *uint `json:"station_id"`
	TaskInstanceID    *uint `json:"task_instance_id"`
}

// ReworkStartRequest starts work on a rework task. StationID defaults to the
// check's station.
type ReworkStartRequest struct {
	ReworkTaskID uint   `json:"rework_task_id"`
	StationID    *uint  `json:"station_id"`
	WorkerIDs    []uint `json:"worker_ids"`
}

// NotificationPayload is what the dispatcher delivers for one notification.
type NotificationPayload struct {
	NotificationID uint      `json:"notification_id"`
	WorkerID       uint      `json:"worker_id"`
	ReworkTaskID   uint      `json:"rework_task_id"`
	CheckName      string    `json:"check_name"`
	WorkUnitID     uint      `json:"work_unit_id"`
	PanelUnitID    *uint     `json:"panel_unit_id,omitempty"`
	Description    string    `json:"description"`
	CreatedAt      time.Time `json:"created_at"`
}
