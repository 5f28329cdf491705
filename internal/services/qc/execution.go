package qc

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Teskh/production-sub000/internal/apperr"
	"github.com/Teskh/production-sub000/internal/database"
	"github.com/Teskh/production-sub000/internal/lock"
	"github.com/Teskh/production-sub000/internal/models"
	"github.com/Teskh/production-sub000/internal/services/audit"

	"gorm.io/gorm"
)

var openReworkStatuses = []models.QCReworkStatus{models.QCReworkStatusOpen, models.QCReworkStatusInProgress}

// RecordExecution stores an inspector's outcome on an Open check. Fail opens
// one rework task and notifies the workers of the triggering instance.
func (s *Service) RecordExecution(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	switch req.Outcome {
	case models.QCOutcomePass, models.QCOutcomeFail, models.QCOutcomeWaive, models.QCOutcomeSkip:
	default:
		return nil, apperr.PolicyViolation("unknown QC outcome %q", req.Outcome)
	}
	if req.InspectorID == 0 {
		return nil, apperr.PolicyViolation("an inspector is required")
	}
	if req.Outcome == models.QCOutcomeFail && req.SeverityLevelID == nil {
		return nil, apperr.PolicyViolation("a failing execution requires a severity level")
	}

	peek, err := database.Get[models.QCCheckInstance](s.db.WithContext(ctx), req.CheckInstanceID, "QC check")
	if err != nil {
		return nil, err
	}

	release := s.locks.LockAll(lock.UnitKey(peek.WorkUnitID), lock.CheckKey(peek.ID))
	defer release()

	var result *ExecutionResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var check models.QCCheckInstance
		if err := database.ForUpdate(tx).First(&check, req.CheckInstanceID).Error; err != nil {
			return apperr.FromDB(fmt.Sprintf("failed to load QC check %d", req.CheckInstanceID), err)
		}
		if check.Status == models.QCCheckStatusClosed {
			return apperr.InvalidState("QC check %d is closed", check.ID)
		}

		var openRework int64
		err := tx.Model(&models.QCReworkTask{}).
			Where("check_instance_id = ? AND status IN ?", check.ID, openReworkStatuses).
			Count(&openRework).Error
		if err != nil {
			return apperr.FromDB("failed to look up rework tasks", err)
		}
		if openRework > 0 {
			return apperr.Conflict("QC check %d still has open rework", check.ID)
		}

		def, err := database.Get[models.QCCheckDefinition](tx, check.CheckDefinitionID, "QC check definition")
		if err != nil {
			return err
		}

		now := s.now()
		inspectorID := req.InspectorID
		exec := models.QCExecution{
			CheckInstanceID: check.ID,
			Outcome:         req.Outcome,
			Source:          models.QCExecutionSourceInspector,
			InspectorID:     &inspectorID,
			Notes:           req.Notes,
			PerformedAt:     now,
		}

		var modes []models.QCFailureMode
		if req.Outcome == models.QCOutcomeFail {
			if _, err := database.Get[models.QCSeverityLevel](tx, *req.SeverityLevelID, "severity level"); err != nil {
				return err
			}
			exec.SeverityLevelID = req.SeverityLevelID

			for _, f := range req.Failures {
				if f.FailureModeID == nil {
					continue
				}
				mode, err := database.Get[models.QCFailureMode](tx, *f.FailureModeID, "failure mode")
				if err != nil {
					return err
				}
				modes = append(modes, *mode)
			}
		}

		if err := tx.Create(&exec).Error; err != nil {
			return apperr.FromDB("failed to record QC execution", err)
		}
		result = &ExecutionResult{Execution: exec}

		if req.Outcome == models.QCOutcomeFail {
			for _, f := range req.Failures {
				if f.FailureModeID == nil && f.OtherText == "" {
					continue
				}
				row := models.QCExecutionFailure{
					ExecutionID:   exec.ID,
					FailureModeID: f.FailureModeID,
					OtherText:     f.OtherText,
				}
				if err := tx.Create(&row).Error; err != nil {
					return apperr.FromDB("failed to attach failure mode", err)
				}
			}

			rework, notes, err := s.openRework(tx, &check, exec, reworkDescription(req, modes, def.Name), now)
			if err != nil {
				return err
			}
			result.Rework = rework
			result.Notifications = notes
		}

		detail := string(req.Outcome)
		if err := closeCheck(tx, &check, now, detail); err != nil {
			return err
		}

		if req.Outcome == models.QCOutcomePass || req.Outcome == models.QCOutcomeWaive {
			if err := s.settleRework(tx, check.ID, now); err != nil {
				return err
			}
		}

		if err := s.autotune(tx, &check, req.Outcome, now); err != nil {
			return err
		}

		result.Check = check
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reworkDescription prefers the inspector's text, then the first failure
// mode's default text, then free text.
func reworkDescription(req ExecutionRequest, modes []models.QCFailureMode, checkName string) string {
	if req.ReworkDescription != "" {
		return req.ReworkDescription
	}
	for _, m := range modes {
		if m.DefaultReworkText != "" {
			return m.DefaultReworkText
		}
	}
	for _, f := range req.Failures {
		if f.OtherText != "" {
			return f.OtherText
		}
	}
	return "Rework required: " + checkName
}

func (s *Service) openRework(tx *gorm.DB, check *models.QCCheckInstance, exec models.QCExecution, description string, at time.Time) (*models.QCReworkTask, []models.QCNotification, error) {
	rework := models.QCReworkTask{
		CheckInstanceID: check.ID,
		ExecutionID:     exec.ID,
		Description:     description,
		Status:          models.QCReworkStatusOpen,
	}
	if err := tx.Create(&rework).Error; err != nil {
		return nil, nil, apperr.FromDB("failed to open rework task", err)
	}

	err := audit.Record(tx, models.ProductionEvent{
		Kind:           models.EventQCReworkOpened,
		WorkUnitID:     check.WorkUnitID,
		PanelUnitID:    check.PanelUnitID,
		TaskInstanceID: check.TaskInstanceID,
		Detail:         fmt.Sprintf("rework %d for check %d: %s", rework.ID, check.ID, description),
		CreatedAt:      at,
	})
	if err != nil {
		return nil, nil, err
	}

	if check.TaskInstanceID == nil {
		return &rework, nil, nil
	}

	var workerIDs []uint
	err = tx.Model(&models.TaskParticipation{}).
		Where("task_instance_id = ?", *check.TaskInstanceID).
		Distinct().
		Order("worker_id ASC").
		Pluck("worker_id", &workerIDs).Error
	if err != nil {
		return nil, nil, apperr.FromDB("failed to load participants", err)
	}

	notes := make([]models.QCNotification, 0, len(workerIDs))
	for _, workerID := range workerIDs {
		n := models.QCNotification{
			WorkerID:     workerID,
			ReworkTaskID: rework.ID,
			Status:       models.QCNotificationActive,
			CreatedAt:    at,
		}
		if err := tx.Create(&n).Error; err != nil {
			return nil, nil, apperr.FromDB("failed to create notification", err)
		}
		notes = append(notes, n)
	}
	return &rework, notes, nil
}

// settleRework marks rework still open on the check Done and dismisses every
// live notification of the check's rework tasks.
func (s *Service) settleRework(tx *gorm.DB, checkID uint, at time.Time) error {
	err := tx.Model(&models.QCReworkTask{}).
		Where("check_instance_id = ? AND status IN ?", checkID, openReworkStatuses).
		Update("status", models.QCReworkStatusDone).Error
	if err != nil {
		return apperr.FromDB("failed to settle rework tasks", err)
	}

	var reworkIDs []uint
	err = tx.Model(&models.QCReworkTask{}).
		Where("check_instance_id = ?", checkID).
		Pluck("id", &reworkIDs).Error
	if err != nil {
		return apperr.FromDB("failed to load rework tasks", err)
	}
	return dismissNotifications(tx, reworkIDs, at)
}

func dismissNotifications(tx *gorm.DB, reworkIDs []uint, at time.Time) error {
	if len(reworkIDs) == 0 {
		return nil
	}
	err := tx.Model(&models.QCNotification{}).
		Where("rework_task_id IN ? AND status IN ?", reworkIDs,
			[]models.QCNotificationStatus{models.QCNotificationActive, models.QCNotificationSeen}).
		Updates(map[string]any{
			"status":       models.QCNotificationDismissed,
			"dismissed_at": at,
		}).Error
	if err != nil {
		return apperr.FromDB("failed to dismiss notifications", err)
	}
	return nil
}

// autotune adjusts the firing trigger's adaptive rate from inspector
// feedback on triggered checks.
func (s *Service) autotune(tx *gorm.DB, check *models.QCCheckInstance, outcome models.QCOutcome, at time.Time) error {
	if check.Origin != models.QCCheckOriginTriggered || check.TriggerID == nil {
		return nil
	}
	if outcome != models.QCOutcomePass && outcome != models.QCOutcomeFail {
		return nil
	}

	var trig models.QCTrigger
	if err := database.ForUpdate(tx).First(&trig, *check.TriggerID).Error; err != nil {
		return apperr.FromDB(fmt.Sprintf("failed to load QC trigger %d", *check.TriggerID), err)
	}
	if !trig.SamplingAutotune {
		return nil
	}

	before := trig.EffectiveRate()
	after := tunedRate(trig.SamplingRate, before, trig.SamplingStep, outcome == models.QCOutcomePass)
	if err := tx.Model(&trig).Update("current_sampling_rate", after).Error; err != nil {
		return apperr.FromDB("failed to tune sampling rate", err)
	}
	log.Printf("QC trigger %d sampling rate %.3f -> %.3f after %s", trig.ID, before, after, outcome)

	return audit.Record(tx, models.ProductionEvent{
		Kind:           models.EventQCSamplingTuned,
		WorkUnitID:     check.WorkUnitID,
		PanelUnitID:    check.PanelUnitID,
		TaskInstanceID: check.TaskInstanceID,
		Detail:         fmt.Sprintf("trigger %d: %.3f -> %.3f (%s)", trig.ID, before, after, outcome),
		CreatedAt:      at,
	})
}

// OpenManualCheck opens an inspection outside of any trigger.
func (s *Service) OpenManualCheck(ctx context.Context, req ManualCheckRequest) (*models.QCCheckInstance, error) {
	release := s.locks.LockAll(lock.UnitKey(req.WorkUnitID))
	defer release()

	var check *models.QCCheckInstance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		def, err := database.Get[models.QCCheckDefinition](tx, req.CheckDefinitionID, "QC check definition")
		if err != nil {
			return err
		}
		if !def.Active {
			return apperr.PolicyViolation("QC check %q is not active", def.Name)
		}
		unit, err := database.Get[models.WorkUnit](tx, req.WorkUnitID, "work unit")
		if err != nil {
			return err
		}

		scope := models.TaskScopeModule
		if req.PanelUnitID != nil {
			panel, err := database.Get[models.PanelUnit](tx, *req.PanelUnitID, "panel unit")
			if err != nil {
				return err
			}
			if panel.WorkUnitID != unit.ID {
				return apperr.PolicyViolation("panel %d does not belong to work unit %d", panel.ID, unit.ID)
			}
			scope = models.TaskScopePanel
		}
		if req.StationID != nil {
			if _, err := database.Get[models.Station](tx, *req.StationID, "station"); err != nil {
				return err
			}
		}
		if req.TaskInstanceID != nil {
			inst, err := database.Get[models.TaskInstance](tx, *req.TaskInstanceID, "task instance")
			if err != nil {
				return err
			}
			if inst.WorkUnitID != unit.ID {
				return apperr.PolicyViolation("task instance %d does not belong to work unit %d", inst.ID, unit.ID)
			}
		}

		now := s.now()
		check = &models.QCCheckInstance{
			CheckDefinitionID: def.ID,
			Origin:            models.QCCheckOriginManual,
			Status:            models.QCCheckStatusOpen,
			TaskInstanceID:    req.TaskInstanceID,
			Scope:             scope,
			WorkUnitID:        unit.ID,
			PanelUnitID:       req.PanelUnitID,
			StationID:         req.StationID,
			SamplingSelected:  true,
			OpenedAt:          now,
		}
		if err := tx.Create(check).Error; err != nil {
			return apperr.FromDB("failed to open QC check", err)
		}
		return audit.Record(tx, models.ProductionEvent{
			Kind:           models.EventQCCheckOpened,
			WorkUnitID:     unit.ID,
			PanelUnitID:    req.PanelUnitID,
			TaskInstanceID: req.TaskInstanceID,
			ToStationID:    req.StationID,
			Detail:         def.Name + " (manual)",
			CreatedAt:      now,
		})
	})
	if err != nil {
		return nil, err
	}
	return check, nil
}

// GetCheck returns one check instance.
func (s *Service) GetCheck(ctx context.Context, checkID uint) (*models.QCCheckInstance, error) {
	return database.Get[models.QCCheckInstance](s.db.WithContext(ctx), checkID, "QC check")
}

// Executions returns a check's executions, oldest first.
func (s *Service) Executions(ctx context.Context, checkID uint) ([]models.QCExecution, error) {
	var execs []models.QCExecution
	err := s.db.WithContext(ctx).
		Where("check_instance_id = ?", checkID).
		Order("id ASC").
		Find(&execs).Error
	if err != nil {
		return nil, apperr.FromDB("failed to list QC executions", err)
	}
	return execs, nil
}

// ChecksForInstance returns the checks fired by a task instance.
func (s *Service) ChecksForInstance(ctx context.Context, taskInstanceID uint) ([]models.QCCheckInstance, error) {
	var checks []models.QCCheckInstance
	err := s.db.WithContext(ctx).
		Where("task_instance_id = ?", taskInstanceID).
		Order("id ASC").
		Find(&checks).Error
	if err != nil {
		return nil, apperr.FromDB("failed to list QC checks", err)
	}
	return checks, nil
}
