// Package advancement moves panels and modules between stations when their
// required work is done.
package advancement

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Teskh/production-sub000/internal/apperr"
	"github.com/Teskh/production-sub000/internal/database"
	"github.com/Teskh/production-sub000/internal/models"
	"github.com/Teskh/production-sub000/internal/services/applicability"
	"github.com/Teskh/production-sub000/internal/services/audit"
	"github.com/Teskh/production-sub000/internal/services/tasks"

	"gorm.io/gorm"
)

// ForceCloseNote is appended to module instances closed when their unit
// leaves the line.
const ForceCloseNote = "auto-completed: work unit left the line"

// ReworkFinisher settles the QC side of a rework instance that the engine
// force-closes when its unit leaves the line.
type ReworkFinisher interface {
	FinishRework(tx *gorm.DB, reworkTaskID uint, at time.Time) error
}

// Engine reacts to task completions and skips. Callers provide the
// transaction and hold the unit lock.
type Engine struct {
	rework ReworkFinisher
}

// NewEngine creates a new advancement engine
func NewEngine() *Engine {
	return &Engine{}
}

// SetReworkFinisher registers the QC hook run for force-closed rework
// instances.
func (e *Engine) SetReworkFinisher(f ReworkFinisher) {
	e.rework = f
}

var _ tasks.Listener = (*Engine)(nil)

// TaskCompleted advances the panel or module the completed instance belongs to.
func (e *Engine) TaskCompleted(ctx context.Context, tx *gorm.DB, ev tasks.CompletionEvent) error {
	if ev.Definition.IsRework || ev.Instance.ReworkTaskID != nil {
		return nil
	}

	switch ev.Definition.Scope {
	case models.TaskScopePanel:
		if ev.Instance.PanelUnitID == nil {
			return nil
		}
		_, err := e.ReevaluatePanel(tx, *ev.Instance.PanelUnitID, ev.At)
		return err
	case models.TaskScopeModule:
		if !ev.Definition.AdvanceTrigger {
			return nil
		}
		_, err := e.advanceModule(tx, ev.Instance.WorkUnitID, ev.Instance.StationID, ev.At)
		return err
	}
	return nil
}

// TaskSkipped re-evaluates the panel, since a skip satisfies a requirement
// the same way a completion does.
func (e *Engine) TaskSkipped(ctx context.Context, tx *gorm.DB, ev tasks.SkipEvent) error {
	if ev.Exception.PanelUnitID == nil {
		return nil
	}
	_, err := e.ReevaluatePanel(tx, *ev.Exception.PanelUnitID, ev.At)
	return err
}

// RequiredPanelTasks returns the panel tasks the resolver places at station
// for the panel, restricted to the panel definition's task list.
func (e *Engine) RequiredPanelTasks(tx *gorm.DB, panelID uint, station models.Station) ([]uint, error) {
	p, _, err := e.panelPlan(tx, panelID)
	if err != nil {
		return nil, err
	}
	return p.requiredAt(station.SequenceOrder), nil
}

func (e *Engine) panelPlan(tx *gorm.DB, panelID uint) (*plan, *models.PanelUnit, error) {
	var panel models.PanelUnit
	if err := database.ForUpdate(tx).First(&panel, panelID).Error; err != nil {
		return nil, nil, apperr.FromDB(fmt.Sprintf("failed to load panel unit %d", panelID), err)
	}
	unit, err := database.Get[models.WorkUnit](tx, panel.WorkUnitID, "work unit")
	if err != nil {
		return nil, nil, err
	}
	pdef, err := database.Get[models.PanelDefinition](tx, panel.PanelDefinitionID, "panel definition")
	if err != nil {
		return nil, nil, err
	}

	p, err := loadPlan(tx, models.TaskScopePanel, applicability.ContextFor(*unit, &pdef.ID))
	if err != nil {
		return nil, nil, err
	}
	if err := p.restrict(*pdef); err != nil {
		return nil, nil, err
	}
	return p, &panel, nil
}

// ReevaluatePanel advances the panel when every task required at its current
// station is completed or skipped. It reports whether the panel moved.
func (e *Engine) ReevaluatePanel(tx *gorm.DB, panelID uint, at time.Time) (bool, error) {
	p, panel, err := e.panelPlan(tx, panelID)
	if err != nil {
		return false, err
	}
	if panel.CurrentStationID == nil {
		return false, nil
	}

	current, err := database.Get[models.Station](tx, *panel.CurrentStationID, "station")
	if err != nil {
		return false, err
	}

	done, err := tasks.SatisfiedTaskIDs(tx, panel.WorkUnitID, &panel.ID)
	if err != nil {
		return false, err
	}
	for _, id := range p.requiredAt(current.SequenceOrder) {
		if !done[id] {
			return false, nil
		}
	}

	var next []models.Station
	err = tx.Where("role = ? AND sequence_order > ?", models.StationRolePanels, current.SequenceOrder).
		Order("sequence_order ASC, id ASC").
		Find(&next).Error
	if err != nil {
		return false, apperr.FromDB("failed to load panel stations", err)
	}

	for _, st := range next {
		if len(p.requiredAt(st.SequenceOrder)) == 0 {
			continue
		}
		return true, e.movePanel(tx, panel, current.ID, st.ID, at)
	}
	return true, e.completePanel(tx, panel, current.ID, at)
}

func (e *Engine) movePanel(tx *gorm.DB, panel *models.PanelUnit, fromID, toID uint, at time.Time) error {
	err := tx.Model(panel).Updates(map[string]any{
		"current_station_id": toID,
		"status":             models.PanelStatusInProgress,
	}).Error
	if err != nil {
		return apperr.FromDB("failed to move panel", err)
	}

	err = tx.Model(&models.WorkUnit{}).
		Where("id = ? AND status = ?", panel.WorkUnitID, models.ModuleStatusPlanned).
		Update("status", models.ModuleStatusPanels).Error
	if err != nil {
		return apperr.FromDB("failed to update work unit status", err)
	}

	return audit.Record(tx, models.ProductionEvent{
		Kind:          models.EventPanelMoved,
		WorkUnitID:    panel.WorkUnitID,
		PanelUnitID:   &panel.ID,
		FromStationID: &fromID,
		ToStationID:   &toID,
		CreatedAt:     at,
	})
}

func (e *Engine) completePanel(tx *gorm.DB, panel *models.PanelUnit, fromID uint, at time.Time) error {
	err := tx.Model(panel).Updates(map[string]any{
		"current_station_id": nil,
		"status":             models.PanelStatusCompleted,
	}).Error
	if err != nil {
		return apperr.FromDB("failed to complete panel", err)
	}

	err = tx.Model(&models.WorkUnit{}).
		Where("id = ? AND status IN ?", panel.WorkUnitID, []models.ModuleStatus{models.ModuleStatusPlanned, models.ModuleStatusPanels}).
		Update("status", models.ModuleStatusMagazine).Error
	if err != nil {
		return apperr.FromDB("failed to update work unit status", err)
	}

	return audit.Record(tx, models.ProductionEvent{
		Kind:          models.EventPanelCompleted,
		WorkUnitID:    panel.WorkUnitID,
		PanelUnitID:   &panel.ID,
		FromStationID: &fromID,
		CreatedAt:     at,
	})
}

// ReevaluateModule advances a unit sitting at an Assembly station when an
// advance-trigger task has already been completed there.
func (e *Engine) ReevaluateModule(tx *gorm.DB, unitID uint, at time.Time) (bool, error) {
	var unit models.WorkUnit
	if err := database.ForUpdate(tx).First(&unit, unitID).Error; err != nil {
		return false, apperr.FromDB(fmt.Sprintf("failed to load work unit %d", unitID), err)
	}
	if unit.CurrentStationID == nil || unit.Status != models.ModuleStatusAssembly {
		return false, nil
	}

	var triggered int64
	err := tx.Model(&models.TaskInstance{}).
		Joins("JOIN task_definitions ON task_definitions.id = task_instances.task_definition_id").
		Where("task_instances.work_unit_id = ? AND task_instances.station_id = ?", unit.ID, *unit.CurrentStationID).
		Where("task_instances.status = ? AND task_instances.rework_task_id IS NULL", models.TaskStatusCompleted).
		Where("task_definitions.scope = ? AND task_definitions.advance_trigger = ?", models.TaskScopeModule, true).
		Count(&triggered).Error
	if err != nil {
		return false, apperr.FromDB("failed to look up advance triggers", err)
	}
	if triggered == 0 {
		return false, nil
	}
	return e.advanceModule(tx, unit.ID, *unit.CurrentStationID, at)
}

// advanceModule moves the unit to the next Assembly station on its line that
// has applicable module work, or takes it off the line.
func (e *Engine) advanceModule(tx *gorm.DB, unitID, stationID uint, at time.Time) (bool, error) {
	current, err := database.Get[models.Station](tx, stationID, "station")
	if err != nil {
		return false, err
	}
	if current.Role != models.StationRoleAssembly {
		return false, nil
	}

	var unit models.WorkUnit
	if err := database.ForUpdate(tx).First(&unit, unitID).Error; err != nil {
		return false, apperr.FromDB(fmt.Sprintf("failed to load work unit %d", unitID), err)
	}
	if unit.Status == models.ModuleStatusCompleted {
		return false, nil
	}
	// A trigger finished at a station the unit already left is stale.
	if unit.CurrentStationID == nil || *unit.CurrentStationID != current.ID {
		log.Printf("WARNING: Ignoring advance trigger at station %d for work unit %d", current.ID, unit.ID)
		return false, nil
	}

	q := tx.Where("role = ? AND sequence_order > ?", models.StationRoleAssembly, current.SequenceOrder)
	if current.LineType != nil {
		q = q.Where("line_type = ?", *current.LineType)
	} else {
		q = q.Where("line_type IS NULL")
	}
	var next []models.Station
	if err := q.Order("sequence_order ASC, id ASC").Find(&next).Error; err != nil {
		return false, apperr.FromDB("failed to load assembly stations", err)
	}

	p, err := loadPlan(tx, models.TaskScopeModule, applicability.ContextFor(unit, nil))
	if err != nil {
		return false, err
	}

	for _, st := range next {
		if len(p.requiredAt(st.SequenceOrder)) == 0 {
			continue
		}
		err := tx.Model(&unit).Updates(map[string]any{
			"current_station_id": st.ID,
			"status":             models.ModuleStatusAssembly,
		}).Error
		if err != nil {
			return false, apperr.FromDB("failed to move work unit", err)
		}
		return true, audit.Record(tx, models.ProductionEvent{
			Kind:          models.EventModuleMoved,
			WorkUnitID:    unit.ID,
			FromStationID: &current.ID,
			ToStationID:   &st.ID,
			CreatedAt:     at,
		})
	}

	return true, e.completeModule(tx, &unit, current.ID, at)
}

func (e *Engine) completeModule(tx *gorm.DB, unit *models.WorkUnit, fromID uint, at time.Time) error {
	err := tx.Model(unit).Updates(map[string]any{
		"current_station_id": nil,
		"status":             models.ModuleStatusCompleted,
	}).Error
	if err != nil {
		return apperr.FromDB("failed to complete work unit", err)
	}

	err = tx.Model(&models.PanelUnit{}).
		Where("work_unit_id = ?", unit.ID).
		Updates(map[string]any{
			"status":             models.PanelStatusConsumed,
			"current_station_id": nil,
		}).Error
	if err != nil {
		return apperr.FromDB("failed to consume panels", err)
	}

	var open []models.TaskInstance
	err = tx.Where("work_unit_id = ? AND scope = ? AND status IN ?", unit.ID, models.TaskScopeModule,
		[]models.TaskStatus{models.TaskStatusNotStarted, models.TaskStatusInProgress, models.TaskStatusPaused}).
		Order("id ASC").
		Find(&open).Error
	if err != nil {
		return apperr.FromDB("failed to load open module tasks", err)
	}
	for i := range open {
		inst := &open[i]
		if err := tasks.ForceComplete(tx, inst, at, ForceCloseNote); err != nil {
			return fmt.Errorf("failed to close task instance %d: %w", inst.ID, err)
		}
		log.Printf("WARNING: Auto-completed task instance %d of work unit %d", inst.ID, unit.ID)
		if inst.ReworkTaskID != nil && e.rework != nil {
			if err := e.rework.FinishRework(tx, *inst.ReworkTaskID, at); err != nil {
				return fmt.Errorf("failed to finish rework task %d: %w", *inst.ReworkTaskID, err)
			}
		}
		err := audit.Record(tx, models.ProductionEvent{
			Kind:           models.EventTaskForceClosed,
			WorkUnitID:     unit.ID,
			TaskInstanceID: &inst.ID,
			Detail:         ForceCloseNote,
			CreatedAt:      at,
		})
		if err != nil {
			return err
		}
	}

	return audit.Record(tx, models.ProductionEvent{
		Kind:          models.EventModuleCompleted,
		WorkUnitID:    unit.ID,
		FromStationID: &fromID,
		CreatedAt:     at,
	})
}
