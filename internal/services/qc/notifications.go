package qc

import (
	"context"
	"time"

	"github.com/Teskh/production-sub000/internal/apperr"
	"github.com/Teskh/production-sub000/internal/database"
	"github.com/Teskh/production-sub000/internal/models"

	"gorm.io/gorm"
)

// ListNotifications returns a worker's notifications, newest first.
// Dismissed ones are left out unless includeDismissed is set.
func (s *Service) ListNotifications(ctx context.Context, workerID uint, includeDismissed bool) ([]models.QCNotification, error) {
	q := s.db.WithContext(ctx).Where("worker_id = ?", workerID)
	if !includeDismissed {
		q = q.Where("status <> ?", models.QCNotificationDismissed)
	}

	var out []models.QCNotification
	if err := q.Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, apperr.FromDB("failed to list notifications", err)
	}
	return out, nil
}

// MarkNotificationSeen moves an Active notification to Seen. Seen is a no-op.
func (s *Service) MarkNotificationSeen(ctx context.Context, notificationID uint) (*models.QCNotification, error) {
	var n *models.QCNotification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		n, err = database.Get[models.QCNotification](tx, notificationID, "notification")
		if err != nil {
			return err
		}
		switch n.Status {
		case models.QCNotificationSeen:
			return nil
		case models.QCNotificationDismissed:
			return apperr.InvalidState("notification %d is dismissed", n.ID)
		}

		now := s.now()
		err = tx.Model(n).Updates(map[string]any{
			"status":  models.QCNotificationSeen,
			"seen_at": now,
		}).Error
		if err != nil {
			return apperr.FromDB("failed to mark notification seen", err)
		}
		n.Status = models.QCNotificationSeen
		n.SeenAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// PendingDeliveries returns up to limit Active notifications that have not
// been pushed yet, oldest first.
func (s *Service) PendingDeliveries(ctx context.Context, limit int) ([]NotificationPayload, error) {
	var rows []pendingRow
	err := s.db.WithContext(ctx).
		Table("qc_notifications").
		Select("qc_notifications.id AS id, qc_notifications.worker_id AS worker_id, " +
			"qc_notifications.rework_task_id AS rework_task_id, qc_notifications.created_at AS created_at, " +
			"qc_rework_tasks.description AS description, " +
			"qc_check_definitions.name AS check_name, qc_check_instances.work_unit_id AS work_unit_id, " +
			"qc_check_instances.panel_unit_id AS panel_unit_id").
		Joins("JOIN qc_rework_tasks ON qc_rework_tasks.id = qc_notifications.rework_task_id").
		Joins("JOIN qc_check_instances ON qc_check_instances.id = qc_rework_tasks.check_instance_id").
		Joins("JOIN qc_check_definitions ON qc_check_definitions.id = qc_check_instances.check_definition_id").
		Where("qc_notifications.status = ? AND qc_notifications.delivered_at IS NULL", models.QCNotificationActive).
		Order("qc_notifications.id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.FromDB("failed to load pending notifications", err)
	}

	out := make([]NotificationPayload, len(rows))
	for i, r := range rows {
		out[i] = NotificationPayload{
			NotificationID: r.ID,
			WorkerID:       r.WorkerID,
			ReworkTaskID:   r.ReworkTaskID,
			CheckName:      r.CheckName,
			WorkUnitID:     r.WorkUnitID,
			PanelUnitID:    r.PanelUnitID,
			Description:    r.Description,
			CreatedAt:      r.CreatedAt,
		}
	}
	return out, nil
}

type pendingRow struct {
	ID           uint
	WorkerID     uint
	ReworkTaskID uint
	CreatedAt    time.Time
	Description  string
	CheckName    string
	WorkUnitID   uint
	PanelUnitID  *uint
}

// MarkDelivered stamps DeliveredAt on the given notifications.
func (s *Service) MarkDelivered(ctx context.Context, ids []uint, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&models.QCNotification{}).
		Where("id IN ?", ids).
		Update("delivered_at", at).Error
	if err != nil {
		return apperr.FromDB("failed to mark notifications delivered", err)
	}
	return nil
}
