package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// StationRole describes what kind of work a station hosts.
type StationRole string

const (
	StationRolePanels   StationRole = "Panels"
	StationRoleMagazine StationRole = "Magazine"
	StationRoleAssembly StationRole = "Assembly"
)

// TaskScope says whether a task is performed on a panel or a whole module.
type TaskScope string

const (
	TaskScopePanel  TaskScope = "panel"
	TaskScopeModule TaskScope = "module"
)

// Station is a physical work station on a production line.
type Station struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	Name          string      `gorm:"not null" json:"name"`
	Role          StationRole `gorm:"not null;index" json:"role"`
	LineType      *string     `gorm:"column:line_type" json:"line_type"`
	SequenceOrder int         `gorm:"not null;column:sequence_order" json:"sequence_order"`
}

func (Station) TableName() string {
	return "stations"
}

type HouseType struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	Name            string `gorm:"unique;not null" json:"name"`
	NumberOfModules int    `gorm:"not null" json:"number_of_modules"`
}

func (HouseType) TableName() string {
	return "house_types"
}

type HouseSubType struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	HouseTypeID uint   `gorm:"not null;index" json:"house_type_id"`
	Name        string `gorm:"not null" json:"name"`
}

func (HouseSubType) TableName() string {
	return "house_sub_types"
}

// PanelDefinition is the design of one panel of a module. ApplicableTaskIDs,
// when set, restricts which panel tasks are ever required for it.
type PanelDefinition struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	HouseTypeID          uint           `gorm:"not null;index" json:"house_type_id"`
	ModuleSequenceNumber int            `gorm:"not null" json:"module_sequence_number"`
	SubTypeID            *uint          `json:"sub_type_id"`
	PanelCode            string         `gorm:"not null" json:"panel_code"`
	GroupName            string         `json:"group_name"`
	ApplicableTaskIDs    datatypes.JSON `gorm:"column:applicable_task_ids" json:"applicable_task_ids"`
}

func (PanelDefinition) TableName() string {
	return "panel_definitions"
}

// ApplicableTasks returns the configured task list and whether one is set.
func (p PanelDefinition) ApplicableTasks() ([]uint, bool, error) {
	return decodeIDList(p.ApplicableTaskIDs)
}

type Worker struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	FirstName string `gorm:"not null" json:"first_name"`
	LastName  string `json:"last_name"`
	Active    bool   `gorm:"not null" json:"active"`
}

func (Worker) TableName() string {
	return "workers"
}

// TaskDefinition is a reusable work template.
type TaskDefinition struct {
	ID                     uint           `gorm:"primaryKey" json:"id"`
	Name                   string         `gorm:"not null" json:"name"`
	Scope                  TaskScope      `gorm:"not null;index" json:"scope"`
	Active                 bool           `gorm:"not null" json:"active"`
	Skippable              bool           `gorm:"not null" json:"skippable"`
	ConcurrentAllowed      bool           `gorm:"not null" json:"concurrent_allowed"`
	AdvanceTrigger         bool           `gorm:"not null" json:"advance_trigger"`
	IsRework               bool           `gorm:"not null" json:"is_rework"`
	Dependencies           datatypes.JSON `gorm:"column:dependencies_json" json:"dependencies"`
	DefaultStationSequence *int           `gorm:"column:default_station_sequence" json:"default_station_sequence"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

func (TaskDefinition) TableName() string {
	return "task_definitions"
}

// DependencyIDs returns the prerequisite task definition ids.
func (t TaskDefinition) DependencyIDs() ([]uint, error) {
	ids, _, err := decodeIDList(t.Dependencies)
	return ids, err
}

// TaskApplicability scopes a task to a context. Nil fields are wildcards.
type TaskApplicability struct {
	ID                   uint  `gorm:"primaryKey" json:"id"`
	TaskDefinitionID     uint  `gorm:"not null;index" json:"task_definition_id"`
	HouseTypeID          *uint `json:"house_type_id"`
	SubTypeID            *uint `json:"sub_type_id"`
	ModuleNumber         *int  `json:"module_number"`
	PanelDefinitionID    *uint `json:"panel_definition_id"`
	Applies              bool  `gorm:"not null" json:"applies"`
	StationSequenceOrder *int  `gorm:"column:station_sequence_order" json:"station_sequence_order"`
}

func (TaskApplicability) TableName() string {
	return "task_applicability"
}

// TaskWorkerRestriction is one entry of a task's worker allow-list.
type TaskWorkerRestriction struct {
	ID               uint `gorm:"primaryKey" json:"id"`
	TaskDefinitionID uint `gorm:"not null;uniqueIndex:idx_task_worker" json:"task_definition_id"`
	WorkerID         uint `gorm:"not null;uniqueIndex:idx_task_worker" json:"worker_id"`
}

func (TaskWorkerRestriction) TableName() string {
	return "task_worker_restrictions"
}

// EncodeIDList serialises ids for a datatypes.JSON column.
func EncodeIDList(ids []uint) datatypes.JSON {
	if ids == nil {
		return nil
	}
	data, _ := json.Marshal(ids)
	return datatypes.JSON(data)
}

func decodeIDList(raw datatypes.JSON) ([]uint, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false, nil
	}
	var ids []uint
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false, fmt.Errorf("failed to decode id list: %w", err)
	}
	return ids, true, nil
}
