package models

import "time"

type ModuleStatus string

const (
	ModuleStatusPlanned   ModuleStatus = "Planned"
	ModuleStatusPanels    ModuleStatus = "Panels"
	ModuleStatusMagazine  ModuleStatus = "Magazine"
	ModuleStatusAssembly  ModuleStatus = "Assembly"
	ModuleStatusCompleted ModuleStatus = "Completed"
)

type PanelStatus string

const (
	PanelStatusPlanned    PanelStatus = "Planned"
	PanelStatusInProgress PanelStatus = "InProgress"
	PanelStatusCompleted  PanelStatus = "Completed"
	PanelStatusConsumed   PanelStatus = "Consumed"
)

type TaskStatus string

const (
	TaskStatusNotStarted TaskStatus = "NotStarted"
	TaskStatusInProgress TaskStatus = "InProgress"
	TaskStatusPaused     TaskStatus = "Paused"
	TaskStatusCompleted  TaskStatus = "Completed"
	TaskStatusSkipped    TaskStatus = "Skipped"
)

// Terminal reports whether no further status writes are allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusSkipped
}

// Open reports whether the instance still has work in flight.
func (s TaskStatus) Open() bool {
	return s == TaskStatusNotStarted || s == TaskStatusInProgress || s == TaskStatusPaused
}

// WorkUnit is one module of a house under production.
type WorkUnit struct {
	ID               uint         `gorm:"primaryKey" json:"id"`
	ProjectName      string       `json:"project_name"`
	HouseIdentifier  string       `json:"house_identifier"`
	HouseTypeID      uint         `gorm:"not null;index" json:"house_type_id"`
	SubTypeID        *uint        `json:"sub_type_id"`
	ModuleNumber     int          `gorm:"not null" json:"module_number"`
	Status           ModuleStatus `gorm:"not null;default:Planned" json:"status"`
	CurrentStationID *uint        `gorm:"index" json:"current_station_id"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (WorkUnit) TableName() string {
	return "work_units"
}

// PanelUnit is one physical panel belonging to a work unit.
type PanelUnit struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	WorkUnitID        uint        `gorm:"not null;index" json:"work_unit_id"`
	PanelDefinitionID uint        `gorm:"not null;index" json:"panel_definition_id"`
	Status            PanelStatus `gorm:"not null;default:Planned" json:"status"`
	CurrentStationID  *uint       `gorm:"index" json:"current_station_id"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

func (PanelUnit) TableName() string {
	return "panel_units"
}

// TaskInstance is one execution of a task for one unit at one station.
type TaskInstance struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	TaskDefinitionID uint       `gorm:"not null;index" json:"task_definition_id"`
	Scope            TaskScope  `gorm:"not null" json:"scope"`
	WorkUnitID       uint       `gorm:"not null;index" json:"work_unit_id"`
	PanelUnitID      *uint      `gorm:"index" json:"panel_unit_id"`
	StationID        uint       `gorm:"not null;index" json:"station_id"`
	Status           TaskStatus `gorm:"not null;index" json:"status"`
	StartedAt        *time.Time `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	Notes            string     `gorm:"type:text" json:"notes"`
	ReworkTaskID     *uint      `gorm:"index" json:"rework_task_id"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (TaskInstance) TableName() string {
	return "task_instances"
}

// TaskParticipation links a worker to an instance. LeftAt nil means active.
type TaskParticipation struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TaskInstanceID uint       `gorm:"not null;index" json:"task_instance_id"`
	WorkerID       uint       `gorm:"not null;index" json:"worker_id"`
	JoinedAt       time.Time  `gorm:"not null" json:"joined_at"`
	LeftAt         *time.Time `json:"left_at"`
}

func (TaskParticipation) TableName() string {
	return "task_participations"
}

// TaskPause is open while ResumedAt is nil.
type TaskPause struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TaskInstanceID uint       `gorm:"not null;index" json:"task_instance_id"`
	PausedAt       time.Time  `gorm:"not null" json:"paused_at"`
	ResumedAt      *time.Time `json:"resumed_at"`
	Reason         string     `json:"reason"`
}

func (TaskPause) TableName() string {
	return "task_pauses"
}

type TaskExceptionType string

const TaskExceptionSkip TaskExceptionType = "Skip"

// TaskException records a skip outside of the instance state machine.
type TaskException struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	TaskDefinitionID  uint              `gorm:"not null;index" json:"task_definition_id"`
	Scope             TaskScope         `gorm:"not null" json:"scope"`
	WorkUnitID        uint              `gorm:"not null;index" json:"work_unit_id"`
	PanelUnitID       *uint             `gorm:"index" json:"panel_unit_id"`
	StationID         *uint             `json:"station_id"`
	Type              TaskExceptionType `gorm:"not null" json:"type"`
	Reason            string            `json:"reason"`
	CreatedByWorkerID uint              `json:"created_by_worker_id"`
	CreatedAt         time.Time         `json:"created_at"`
}

func (TaskException) TableName() string {
	return "task_exceptions"
}
