package tasks

import (
	"fmt"
	"time"

	"github.com/Teskh/production-sub000/internal/apperr"
	"github.com/Teskh/production-sub000/internal/models"

	"gorm.io/gorm"
)

// validateTransition enforces the instance state machine:
// NotStarted -> InProgress <-> Paused, InProgress -> Completed, and
// NotStarted/InProgress/Paused -> Skipped. Completed and Skipped are terminal.
func validateTransition(from, to models.TaskStatus) error {
	if from.Terminal() {
		return apperr.InvalidState("task instance is already %s", from)
	}

	switch from {
	case models.TaskStatusNotStarted:
		if to == models.TaskStatusInProgress || to == models.TaskStatusSkipped {
			return nil
		}
	case models.TaskStatusInProgress:
		if to == models.TaskStatusPaused || to == models.TaskStatusCompleted || to == models.TaskStatusSkipped {
			return nil
		}
	case models.TaskStatusPaused:
		if to == models.TaskStatusInProgress || to == models.TaskStatusSkipped {
			return nil
		}
	}

	return apperr.InvalidState("invalid transition from %s to %s", from, to)
}

// transition validates and persists a status change.
func transition(tx *gorm.DB, inst *models.TaskInstance, to models.TaskStatus, at time.Time) error {
	if err := validateTransition(inst.Status, to); err != nil {
		return err
	}

	updates := map[string]any{"status": to}
	switch to {
	case models.TaskStatusInProgress:
		if inst.StartedAt == nil {
			inst.StartedAt = &at
			updates["started_at"] = at
		}
	case models.TaskStatusCompleted, models.TaskStatusSkipped:
		inst.CompletedAt = &at
		updates["completed_at"] = at
	}

	if err := tx.Model(inst).Updates(updates).Error; err != nil {
		return apperr.FromDB(fmt.Sprintf("failed to move task instance %d to %s", inst.ID, to), err)
	}
	inst.Status = to
	return nil
}

// closeOpenPauses ends every open pause on the instance.
func closeOpenPauses(tx *gorm.DB, instanceID uint, at time.Time) error {
	err := tx.Model(&models.TaskPause{}).
		Where("task_instance_id = ? AND resumed_at IS NULL", instanceID).
		Update("resumed_at", at).Error
	if err != nil {
		return apperr.FromDB("failed to close pauses", err)
	}
	return nil
}

// closeParticipations marks every active participant as having left.
func closeParticipations(tx *gorm.DB, instanceID uint, at time.Time) error {
	err := tx.Model(&models.TaskParticipation{}).
		Where("task_instance_id = ? AND left_at IS NULL", instanceID).
		Update("left_at", at).Error
	if err != nil {
		return apperr.FromDB("failed to close participations", err)
	}
	return nil
}

// ForceComplete closes an open instance on behalf of the system, resuming it
// first when paused so only legal transitions are written. Notes gain note.
func ForceComplete(tx *gorm.DB, inst *models.TaskInstance, at time.Time, note string) error {
	if !inst.Status.Open() {
		return nil
	}
	if inst.Status == models.TaskStatusPaused {
		if err := transition(tx, inst, models.TaskStatusInProgress, at); err != nil {
			return err
		}
	}
	if inst.Status == models.TaskStatusNotStarted {
		if err := transition(tx, inst, models.TaskStatusInProgress, at); err != nil {
			return err
		}
	}
	if err := closeOpenPauses(tx, inst.ID, at); err != nil {
		return err
	}
	if err := closeParticipations(tx, inst.ID, at); err != nil {
		return err
	}

	notes := note
	if inst.Notes != "" {
		notes = inst.Notes + "\n" + note
	}
	if err := tx.Model(inst).Update("notes", notes).Error; err != nil {
		return apperr.FromDB("failed to annotate task instance", err)
	}
	inst.Notes = notes

	return transition(tx, inst, models.TaskStatusCompleted, at)
}
