package qc

import (
	"fmt"
	"time"

	"github.com/Teskh/production-sub000/internal/apperr"
	"github.com/Teskh/production-sub000/internal/database"
	"github.com/Teskh/production-sub000/internal/models"
	"github.com/Teskh/production-sub000/internal/services/applicability"
	"github.com/Teskh/production-sub000/internal/services/audit"
	"github.com/Teskh/production-sub000/internal/services/tasks"

	"gorm.io/gorm"
)

// evaluateTriggers opens a check for every active TaskCompleted trigger that
// matches the completed instance. Unsampled checks are closed at once with a
// system Skip so every firing stays on record.
func (s *Service) evaluateTriggers(tx *gorm.DB, ev tasks.CompletionEvent) error {
	var triggers []models.QCTrigger
	err := tx.Where("event_type = ? AND active = ?", models.QCEventTaskCompleted, true).
		Order("id ASC").
		Find(&triggers).Error
	if err != nil {
		return apperr.FromDB("failed to load QC triggers", err)
	}
	if len(triggers) == 0 {
		return nil
	}

	unit, err := database.Get[models.WorkUnit](tx, ev.Instance.WorkUnitID, "work unit")
	if err != nil {
		return err
	}
	var panelDefID *uint
	if ev.Instance.PanelUnitID != nil {
		panel, err := database.Get[models.PanelUnit](tx, *ev.Instance.PanelUnitID, "panel unit")
		if err != nil {
			return err
		}
		panelDefID = &panel.PanelDefinitionID
	}
	ctx := applicability.ContextFor(*unit, panelDefID)

	for _, trig := range triggers {
		matched, err := triggerMatches(trig, ev.Definition.ID)
		if err != nil {
			return err
		}
		if !matched {
			continue
		}
		if err := s.fire(tx, trig, ev, ctx); err != nil {
			return fmt.Errorf("failed to fire QC trigger %d: %w", trig.ID, err)
		}
	}
	return nil
}

func triggerMatches(trig models.QCTrigger, taskDefID uint) (bool, error) {
	ids, ok, err := trig.FilterTaskIDs()
	if err != nil {
		return false, fmt.Errorf("failed to read task filter of trigger %d: %w", trig.ID, err)
	}
	if !ok {
		return true, nil
	}
	for _, id := range ids {
		if id == taskDefID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) fire(tx *gorm.DB, trig models.QCTrigger, ev tasks.CompletionEvent, ctx applicability.Context) error {
	check, err := database.Get[models.QCCheckDefinition](tx, trig.CheckDefinitionID, "QC check definition")
	if err != nil {
		return err
	}
	if !check.Active {
		return nil
	}

	var rows []models.QCApplicability
	if err := tx.Where("check_definition_id = ?", check.ID).Find(&rows).Error; err != nil {
		return apperr.FromDB("failed to load QC applicability", err)
	}
	res := applicability.ResolveCheck(check.ID, rows, ctx)
	if !res.Applies {
		return nil
	}

	// One check per trigger and task instance, whatever its status.
	var fired int64
	err = tx.Model(&models.QCCheckInstance{}).
		Where("trigger_id = ? AND task_instance_id = ?", trig.ID, ev.Instance.ID).
		Count(&fired).Error
	if err != nil {
		return apperr.FromDB("failed to look up fired checks", err)
	}
	if fired > 0 {
		return nil
	}

	rate := trig.EffectiveRate()
	selected := res.ForceRequired || Selected(ev.Instance.WorkUnitID, check.ID, ev.Instance.ID, rate)

	stationID := ev.Instance.StationID
	instanceID := ev.Instance.ID
	trigID := trig.ID
	inst := models.QCCheckInstance{
		CheckDefinitionID: check.ID,
		Origin:            models.QCCheckOriginTriggered,
		Status:            models.QCCheckStatusOpen,
		TaskInstanceID:    &instanceID,
		TriggerID:         &trigID,
		Scope:             ev.Instance.Scope,
		WorkUnitID:        ev.Instance.WorkUnitID,
		PanelUnitID:       ev.Instance.PanelUnitID,
		StationID:         &stationID,
		SamplingSelected:  selected,
		SamplingRate:      &rate,
		OpenedAt:          ev.At,
	}
	if err := tx.Create(&inst).Error; err != nil {
		return apperr.FromDB("failed to open QC check", err)
	}
	err = audit.Record(tx, models.ProductionEvent{
		Kind:           models.EventQCCheckOpened,
		WorkUnitID:     inst.WorkUnitID,
		PanelUnitID:    inst.PanelUnitID,
		TaskInstanceID: &instanceID,
		ToStationID:    &stationID,
		Detail:         fmt.Sprintf("%s (selected=%t, rate=%.3f, forced=%t)", check.Name, selected, rate, res.ForceRequired),
		CreatedAt:      ev.At,
	})
	if err != nil {
		return err
	}

	if selected {
		return nil
	}
	return s.systemSkip(tx, &inst, ev.At)
}

// systemSkip records the synthetic Skip of an unsampled check and closes it.
func (s *Service) systemSkip(tx *gorm.DB, check *models.QCCheckInstance, at time.Time) error {
	exec := models.QCExecution{
		CheckInstanceID: check.ID,
		Outcome:         models.QCOutcomeSkip,
		Source:          models.QCExecutionSourceSystem,
		Notes:           "not selected by sampling",
		PerformedAt:     at,
	}
	if err := tx.Create(&exec).Error; err != nil {
		return apperr.FromDB("failed to record system skip", err)
	}
	return closeCheck(tx, check, at, "sampling skip")
}

func closeCheck(tx *gorm.DB, check *models.QCCheckInstance, at time.Time, detail string) error {
	err := tx.Model(check).Updates(map[string]any{
		"status":    models.QCCheckStatusClosed,
		"closed_at": at,
	}).Error
	if err != nil {
		return apperr.FromDB("failed to close QC check", err)
	}
	check.Status = models.QCCheckStatusClosed
	check.ClosedAt = &at

	return audit.Record(tx, models.ProductionEvent{
		Kind:           models.EventQCCheckClosed,
		WorkUnitID:     check.WorkUnitID,
		PanelUnitID:    check.PanelUnitID,
		TaskInstanceID: check.TaskInstanceID,
		Detail:         fmt.Sprintf("check %d: %s", check.ID, detail),
		CreatedAt:      at,
	})
}
