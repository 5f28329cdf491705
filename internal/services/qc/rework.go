package qc

import (
	"context"
	"fmt"
	"time"

	"github.com/Teskh/production-sub000/internal/apperr"
	"github.com/Teskh/production-sub000/internal/database"
	"github.com/Teskh/production-sub000/internal/models"
	"github.com/Teskh/production-sub000/internal/services/audit"
	"github.com/Teskh/production-sub000/internal/services/tasks"

	"gorm.io/gorm"
)

// StartRework starts (or joins) the task instance that carries out a rework
// task, using the rework task definition of the check's scope.
func (s *Service) StartRework(ctx context.Context, req ReworkStartRequest) (*models.TaskInstance, error) {
	rework, check, err := s.loadRework(s.db.WithContext(ctx), req.ReworkTaskID)
	if err != nil {
		return nil, err
	}

	def, err := reworkDefinition(s.db.WithContext(ctx), check.Scope)
	if err != nil {
		return nil, err
	}

	stationID := req.StationID
	if stationID == nil {
		stationID = check.StationID
	}
	if stationID == nil {
		return nil, apperr.PolicyViolation("rework task %d needs a station", rework.ID)
	}

	startReq := tasks.StartRequest{
		TaskDefinitionID: def.ID,
		WorkUnitID:       check.WorkUnitID,
		PanelUnitID:      check.PanelUnitID,
		StationID:        *stationID,
		WorkerIDs:        req.WorkerIDs,
		Notes:            rework.Description,
	}
	return s.tasks.StartRework(ctx, startReq, rework.ID, func(tx *gorm.DB, inst *models.TaskInstance) error {
		var current models.QCReworkTask
		if err := database.ForUpdate(tx).First(&current, rework.ID).Error; err != nil {
			return apperr.FromDB(fmt.Sprintf("failed to load rework task %d", rework.ID), err)
		}
		switch current.Status {
		case models.QCReworkStatusOpen:
			if err := tx.Model(&current).Update("status", models.QCReworkStatusInProgress).Error; err != nil {
				return apperr.FromDB("failed to start rework task", err)
			}
		case models.QCReworkStatusInProgress:
		default:
			return apperr.InvalidState("rework task %d is %s", current.ID, current.Status)
		}
		return nil
	})
}

// PauseRework pauses the open instance of a rework task.
func (s *Service) PauseRework(ctx context.Context, reworkTaskID, workerID uint, reason string) (*models.TaskInstance, error) {
	inst, err := s.openReworkInstance(ctx, reworkTaskID)
	if err != nil {
		return nil, err
	}
	return s.tasks.Pause(ctx, inst.ID, workerID, reason)
}

// ResumeRework resumes the paused instance of a rework task.
func (s *Service) ResumeRework(ctx context.Context, reworkTaskID, workerID uint) (*models.TaskInstance, error) {
	inst, err := s.openReworkInstance(ctx, reworkTaskID)
	if err != nil {
		return nil, err
	}
	return s.tasks.Resume(ctx, inst.ID, workerID)
}

// CompleteRework completes the rework instance. The completion listener
// marks the rework Done and reopens the check for re-inspection.
func (s *Service) CompleteRework(ctx context.Context, reworkTaskID, workerID uint, notes string) (*models.TaskInstance, error) {
	inst, err := s.openReworkInstance(ctx, reworkTaskID)
	if err != nil {
		return nil, err
	}
	return s.tasks.Complete(ctx, inst.ID, workerID, notes)
}

// GetRework returns one rework task.
func (s *Service) GetRework(ctx context.Context, reworkTaskID uint) (*models.QCReworkTask, error) {
	return database.Get[models.QCReworkTask](s.db.WithContext(ctx), reworkTaskID, "rework task")
}

// ReworkForCheck returns every rework task opened on a check, oldest first.
func (s *Service) ReworkForCheck(ctx context.Context, checkID uint) ([]models.QCReworkTask, error) {
	var out []models.QCReworkTask
	err := s.db.WithContext(ctx).
		Where("check_instance_id = ?", checkID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, apperr.FromDB("failed to list rework tasks", err)
	}
	return out, nil
}

func (s *Service) loadRework(db *gorm.DB, reworkTaskID uint) (*models.QCReworkTask, *models.QCCheckInstance, error) {
	rework, err := database.Get[models.QCReworkTask](db, reworkTaskID, "rework task")
	if err != nil {
		return nil, nil, err
	}
	if rework.Status == models.QCReworkStatusDone || rework.Status == models.QCReworkStatusCanceled {
		return nil, nil, apperr.InvalidState("rework task %d is %s", rework.ID, rework.Status)
	}
	check, err := database.Get[models.QCCheckInstance](db, rework.CheckInstanceID, "QC check")
	if err != nil {
		return nil, nil, err
	}
	return rework, check, nil
}

func (s *Service) openReworkInstance(ctx context.Context, reworkTaskID uint) (*models.TaskInstance, error) {
	if _, _, err := s.loadRework(s.db.WithContext(ctx), reworkTaskID); err != nil {
		return nil, err
	}

	var inst models.TaskInstance
	err := s.db.WithContext(ctx).
		Where("rework_task_id = ? AND status IN ?", reworkTaskID,
			[]models.TaskStatus{models.TaskStatusInProgress, models.TaskStatusPaused}).
		Order("id DESC").
		Limit(1).
		Find(&inst).Error
	if err != nil {
		return nil, apperr.FromDB("failed to look up rework instance", err)
	}
	if inst.ID == 0 {
		return nil, apperr.InvalidState("rework task %d has not been started", reworkTaskID)
	}
	return &inst, nil
}

func reworkDefinition(db *gorm.DB, scope models.TaskScope) (*models.TaskDefinition, error) {
	var def models.TaskDefinition
	err := db.Where("is_rework = ? AND active = ? AND scope = ?", true, true, scope).
		Order("id ASC").
		Limit(1).
		Find(&def).Error
	if err != nil {
		return nil, apperr.FromDB("failed to load rework task definition", err)
	}
	if def.ID == 0 {
		return nil, apperr.NotFound("rework task definition", scope)
	}
	return &def, nil
}

// FinishRework closes one turn of the check/rework cycle and dismisses the
// rework's notifications. The check reopens
// only while it is Closed and its latest execution is the failure that
// opened this rework, so a check reopens at most once per failing execution.
func (s *Service) FinishRework(tx *gorm.DB, reworkTaskID uint, at time.Time) error {
	var rework models.QCReworkTask
	if err := database.ForUpdate(tx).First(&rework, reworkTaskID).Error; err != nil {
		return apperr.FromDB(fmt.Sprintf("failed to load rework task %d", reworkTaskID), err)
	}
	if rework.Status == models.QCReworkStatusDone || rework.Status == models.QCReworkStatusCanceled {
		return nil
	}

	if err := tx.Model(&rework).Update("status", models.QCReworkStatusDone).Error; err != nil {
		return apperr.FromDB("failed to finish rework task", err)
	}
	if err := dismissNotifications(tx, []uint{rework.ID}, at); err != nil {
		return err
	}

	var check models.QCCheckInstance
	if err := database.ForUpdate(tx).First(&check, rework.CheckInstanceID).Error; err != nil {
		return apperr.FromDB(fmt.Sprintf("failed to load QC check %d", rework.CheckInstanceID), err)
	}

	err := audit.Record(tx, models.ProductionEvent{
		Kind:           models.EventQCReworkFinished,
		WorkUnitID:     check.WorkUnitID,
		PanelUnitID:    check.PanelUnitID,
		TaskInstanceID: check.TaskInstanceID,
		Detail:         fmt.Sprintf("rework %d for check %d", rework.ID, check.ID),
		CreatedAt:      at,
	})
	if err != nil {
		return err
	}

	if check.Status != models.QCCheckStatusClosed {
		return nil
	}
	var latest models.QCExecution
	err = tx.Where("check_instance_id = ?", check.ID).Order("id DESC").Limit(1).Find(&latest).Error
	if err != nil {
		return apperr.FromDB("failed to load latest execution", err)
	}
	if latest.ID != rework.ExecutionID || latest.Outcome != models.QCOutcomeFail {
		return nil
	}

	err = tx.Model(&check).Updates(map[string]any{
		"status":      models.QCCheckStatusOpen,
		"closed_at":   nil,
		"reopened_at": at,
	}).Error
	if err != nil {
		return apperr.FromDB("failed to reopen QC check", err)
	}
	return audit.Record(tx, models.ProductionEvent{
		Kind:           models.EventQCCheckReopened,
		WorkUnitID:     check.WorkUnitID,
		PanelUnitID:    check.PanelUnitID,
		TaskInstanceID: check.TaskInstanceID,
		Detail:         fmt.Sprintf("check %d reopened after rework %d", check.ID, rework.ID),
		CreatedAt:      at,
	})
}
