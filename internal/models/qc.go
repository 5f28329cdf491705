package models

import (
	"time"

	"gorm.io/datatypes"
)

type QCEventType string

const QCEventTaskCompleted QCEventType = "TaskCompleted"

type QCCheckOrigin string

const (
	QCCheckOriginTriggered QCCheckOrigin = "Triggered"
	QCCheckOriginManual    QCCheckOrigin = "Manual"
)

type QCCheckStatus string

const (
	QCCheckStatusOpen   QCCheckStatus = "Open"
	QCCheckStatusClosed QCCheckStatus = "Closed"
)

type QCOutcome string

const (
	QCOutcomePass  QCOutcome = "Pass"
	QCOutcomeFail  QCOutcome = "Fail"
	QCOutcomeWaive QCOutcome = "Waive"
	QCOutcomeSkip  QCOutcome = "Skip"
)

// QCExecutionSource distinguishes inspector-entered outcomes from the
// synthetic skips recorded for unsampled checks.
type QCExecutionSource string

const (
	QCExecutionSourceInspector QCExecutionSource = "Inspector"
	QCExecutionSourceSystem    QCExecutionSource = "System"
)

type QCReworkStatus string

const (
	QCReworkStatusOpen       QCReworkStatus = "Open"
	QCReworkStatusInProgress QCReworkStatus = "InProgress"
	QCReworkStatusDone       QCReworkStatus = "Done"
	QCReworkStatusCanceled   QCReworkStatus = "Canceled"
)

type QCNotificationStatus string

const (
	QCNotificationActive    QCNotificationStatus = "Active"
	QCNotificationSeen      QCNotificationStatus = "Seen"
	QCNotificationDismissed QCNotificationStatus = "Dismissed"
)

type QCCheckDefinition struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Active    bool      `gorm:"not null" json:"active"`
	Guidance  string    `gorm:"type:text" json:"guidance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (QCCheckDefinition) TableName() string {
	return "qc_check_definitions"
}

// QCTrigger fires a check on an event. TaskIDs, when set, limits the
// trigger to completions of those task definitions.
type QCTrigger struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	CheckDefinitionID   uint           `gorm:"not null;index" json:"check_definition_id"`
	EventType           QCEventType    `gorm:"not null" json:"event_type"`
	TaskIDs             datatypes.JSON `gorm:"column:task_ids" json:"task_ids"`
	Active              bool           `gorm:"not null" json:"active"`
	SamplingRate        float64        `gorm:"not null" json:"sampling_rate"`
	CurrentSamplingRate *float64       `json:"current_sampling_rate"`
	SamplingAutotune    bool           `gorm:"not null" json:"sampling_autotune"`
	SamplingStep        float64        `gorm:"not null" json:"sampling_step"`
}

func (QCTrigger) TableName() string {
	return "qc_triggers"
}

// FilterTaskIDs returns the task filter and whether one is configured.
func (t QCTrigger) FilterTaskIDs() ([]uint, bool, error) {
	return decodeIDList(t.TaskIDs)
}

// EffectiveRate is the adaptive rate when set, else the base rate.
func (t QCTrigger) EffectiveRate() float64 {
	if t.CurrentSamplingRate != nil {
		return *t.CurrentSamplingRate
	}
	return t.SamplingRate
}

type QCApplicability struct {
	ID                uint  `gorm:"primaryKey" json:"id"`
	CheckDefinitionID uint  `gorm:"not null;index" json:"check_definition_id"`
	HouseTypeID       *uint `json:"house_type_id"`
	SubTypeID         *uint `json:"sub_type_id"`
	ModuleNumber      *int  `json:"module_number"`
	PanelDefinitionID *uint `json:"panel_definition_id"`
	Applies           bool  `gorm:"not null" json:"applies"`
	ForceRequired     bool  `gorm:"not null" json:"force_required"`
}

func (QCApplicability) TableName() string {
	return "qc_applicability"
}

type QCFailureMode struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	CheckDefinitionID *uint  `gorm:"index" json:"check_definition_id"`
	Name              string `gorm:"not null" json:"name"`
	DefaultReworkText string `gorm:"type:text" json:"default_rework_text"`
}

func (QCFailureMode) TableName() string {
	return "qc_failure_modes"
}

type QCSeverityLevel struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"unique;not null" json:"name"`
	Rank int    `gorm:"not null" json:"rank"`
}

func (QCSeverityLevel) TableName() string {
	return "qc_severity_levels"
}

// QCCheckInstance is one inspection occasion.
type QCCheckInstance struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	CheckDefinitionID uint          `gorm:"not null;index" json:"check_definition_id"`
	Origin            QCCheckOrigin `gorm:"not null" json:"origin"`
	Status            QCCheckStatus `gorm:"not null;index" json:"status"`
	TaskInstanceID    *uint         `gorm:"index" json:"task_instance_id"`
	TriggerID         *uint         `json:"trigger_id"`
	Scope             TaskScope     `gorm:"not null" json:"scope"`
	WorkUnitID        uint          `gorm:"not null;index" json:"work_unit_id"`
	PanelUnitID       *uint         `json:"panel_unit_id"`
	StationID         *uint         `json:"station_id"`
	SamplingSelected  bool          `gorm:"not null" json:"sampling_selected"`
	SamplingRate      *float64      `json:"sampling_rate"`
	OpenedAt          time.Time     `gorm:"not null" json:"opened_at"`
	ClosedAt          *time.Time    `json:"closed_at"`
	ReopenedAt        *time.Time    `json:"reopened_at"`
}

func (QCCheckInstance) TableName() string {
	return "qc_check_instances"
}

type QCExecution struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	CheckInstanceID uint              `gorm:"not null;index" json:"check_instance_id"`
	Outcome         QCOutcome         `gorm:"not null" json:"outcome"`
	Source          QCExecutionSource `gorm:"not null" json:"source"`
	InspectorID     *uint             `json:"inspector_id"`
	SeverityLevelID *uint             `json:"severity_level_id"`
	Notes           string            `gorm:"type:text" json:"notes"`
	PerformedAt     time.Time         `gorm:"not null" json:"performed_at"`
}

func (QCExecution) TableName() string {
	return "qc_executions"
}

type QCExecutionFailure struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	ExecutionID   uint   `gorm:"not null;index" json:"execution_id"`
	FailureModeID *uint  `json:"failure_mode_id"`
	OtherText     string `gorm:"type:text" json:"other_text"`
}

func (QCExecutionFailure) TableName() string {
	return "qc_execution_failures"
}

// QCReworkTask is opened by a failing execution.
type QCReworkTask struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	CheckInstanceID uint           `gorm:"not null;index" json:"check_instance_id"`
	ExecutionID     uint           `gorm:"not null" json:"execution_id"`
	Description     string         `gorm:"type:text" json:"description"`
	Status          QCReworkStatus `gorm:"not null;index" json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (QCReworkTask) TableName() string {
	return "qc_rework_tasks"
}

type QCNotification struct {
	ID           uint                 `gorm:"primaryKey" json:"id"`
	WorkerID     uint                 `gorm:"not null;index" json:"worker_id"`
	ReworkTaskID uint                 `gorm:"not null;index" json:"rework_task_id"`
	Status       QCNotificationStatus `gorm:"not null;index" json:"status"`
	CreatedAt    time.Time            `json:"created_at"`
	SeenAt       *time.Time           `json:"seen_at"`
	DismissedAt  *time.Time           `json:"dismissed_at"`
	DeliveredAt  *time.Time           `json:"delivered_at"`
}

func (QCNotification) TableName() string {
	return "qc_notifications"
}
