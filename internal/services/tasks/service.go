package tasks

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

// Service owns task instance state. Every action runs in one transaction
// under the locks of the work unit and the workers it touches.
type Service struct {
	db        *gorm.DB
	locks     *lock.MutexMap
	listeners []Listener
	now       func() time.Time
}

// NewService creates a new task service
func NewService(db *gorm.DB, locks *lock.MutexMap) *Service {
	if locks == nil {
		locks = lock.NewMutexMap()
	}
	return &Service{
		db:    db,
		locks: locks,
		now:   time.Now,
	}
}

// AddListener registers l. Listeners run in registration order.
func (s *Service) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Locks exposes the lock table shared with the other engines.
func (s *Service) Locks() *lock.MutexMap {
	return s.locks
}

// Start begins work on a task, or joins the open instance of a
// non-concurrent task at the same station.
func (s *Service) Start(ctx context.Context, req StartRequest) (*models.TaskInstance, error) {
	if len(req.WorkerIDs) == 0 {
		return nil, apperr.PolicyViolation("at least one worker is required to start a task")
	}

	release := s.locks.LockAll(lockKeys(req.WorkUnitID, req.WorkerIDs...)...)
	defer release()

	var inst *models.TaskInstance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		def, err := database.Get[models.TaskDefinition](tx, req.TaskDefinitionID, "task definition")
		if err != nil {
			return err
		}
		if !def.Active {
			return apperr.PolicyViolation("task %q is not active", def.Name)
		}
		if def.IsRework {
			return apperr.PolicyViolation("task %q is a rework template and cannot be started directly", def.Name)
		}

		inst, err = s.start(tx, def, req, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// StartRework starts or joins the instance serving a QC rework task.
// onStarted runs in the same transaction once the instance exists.
func (s *Service) StartRework(ctx context.Context, req StartRequest, reworkTaskID uint, onStarted func(tx *gorm.DB, inst *models.TaskInstance) error) (*models.TaskInstance, error) {
	if len(req.WorkerIDs) == 0 {
		return nil, apperr.PolicyViolation("at least one worker is required to start a task")
	}

	release := s.locks.LockAll(lockKeys(req.WorkUnitID, req.WorkerIDs...)...)
	defer release()

	var inst *models.TaskInstance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		def, err := database.Get[models.TaskDefinition](tx, req.TaskDefinitionID, "task definition")
		if err != nil {
			return err
		}
		if !def.IsRework {
			return apperr.PolicyViolation("task %q is not a rework template", def.Name)
		}

		inst, err = s.start(tx, def, req, &reworkTaskID)
		if err != nil {
			return err
		}
		if onStarted != nil {
			return onStarted(tx, inst)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Service) start(tx *gorm.DB, def *models.TaskDefinition, req StartRequest, reworkTaskID *uint) (*models.TaskInstance, error) {
	now := s.now()

	var unit models.WorkUnit
	if err := database.ForUpdate(tx).First(&unit, req.WorkUnitID).Error; err != nil {
		return nil, apperr.FromDB(fmt.Sprintf("failed to load work unit %d", req.WorkUnitID), err)
	}

	panel, err := s.loadPanelForScope(tx, def, unit.ID, req.PanelUnitID)
	if err != nil {
		return nil, err
	}

	station, err := database.Get[models.Station](tx, req.StationID, "station")
	if err != nil {
		return nil, err
	}

	for _, workerID := range req.WorkerIDs {
		if err := s.checkWorker(tx, def, workerID); err != nil {
			return nil, err
		}
	}

	if err := s.checkDependencies(tx, def, unit.ID, req.PanelUnitID); err != nil {
		return nil, err
	}

	existing, err := s.findInstance(tx, def.ID, unit.ID, req.PanelUnitID, station.ID, reworkTaskID)
	if err != nil {
		return nil, err
	}

	var open *models.TaskInstance
	for i := range existing {
		switch {
		case existing[i].Status == models.TaskStatusCompleted:
			return nil, apperr.InvalidState("task %q is already completed at station %s", def.Name, station.Name)
		case existing[i].Status.Open() && open == nil:
			open = &existing[i]
		}
	}

	if open != nil && !def.ConcurrentAllowed {
		for _, workerID := range req.WorkerIDs {
			if err := s.checkWorkerAvailable(tx, workerID, open.ID); err != nil {
				return nil, err
			}
			if err := s.addParticipant(tx, open.ID, workerID, now); err != nil {
				return nil, err
			}
		}
		if open.Status == models.TaskStatusPaused {
			if err := closeOpenPauses(tx, open.ID, now); err != nil {
				return nil, err
			}
			if err := transition(tx, open, models.TaskStatusInProgress, now); err != nil {
				return nil, err
			}
		}
		return open, nil
	}

	if !def.ConcurrentAllowed {
		for _, workerID := range req.WorkerIDs {
			if err := s.checkWorkerAvailable(tx, workerID, 0); err != nil {
				return nil, err
			}
		}
	}

	inst := &models.TaskInstance{
		TaskDefinitionID: def.ID,
		Scope:            def.Scope,
		WorkUnitID:       unit.ID,
		PanelUnitID:      req.PanelUnitID,
		StationID:        station.ID,
		Status:           models.TaskStatusInProgress,
		StartedAt:        &now,
		Notes:            req.Notes,
		ReworkTaskID:     reworkTaskID,
	}
	if err := tx.Create(inst).Error; err != nil {
		return nil, apperr.FromDB("failed to create task instance", err)
	}

	for _, workerID := range req.WorkerIDs {
		if err := s.addParticipant(tx, inst.ID, workerID, now); err != nil {
			return nil, err
		}
	}

	if reworkTaskID == nil {
		if err := s.place(tx, &unit, panel, station, now); err != nil {
			return nil, err
		}
	}

	return inst, nil
}

// place puts a unit that has not entered the line yet at the station where
// its first task starts.
func (s *Service) place(tx *gorm.DB, unit *models.WorkUnit, panel *models.PanelUnit, station *models.Station, at time.Time) error {
	if panel != nil {
		if panel.Status != models.PanelStatusPlanned {
			return nil
		}
		err := tx.Model(panel).Updates(map[string]any{
			"status":             models.PanelStatusInProgress,
			"current_station_id": station.ID,
		}).Error
		if err != nil {
			return apperr.FromDB("failed to place panel", err)
		}
		if unit.Status == models.ModuleStatusPlanned {
			if err := tx.Model(unit).Update("status", models.ModuleStatusPanels).Error; err != nil {
				return apperr.FromDB("failed to update work unit status", err)
			}
		}
		return audit.Record(tx, models.ProductionEvent{
			Kind:        models.EventPanelMoved,
			WorkUnitID:  unit.ID,
			PanelUnitID: &panel.ID,
			ToStationID: &station.ID,
			Detail:      "panel entered the line",
			CreatedAt:   at,
		})
	}

	if station.Role != models.StationRoleAssembly || unit.CurrentStationID != nil {
		return nil
	}
	if unit.Status == models.ModuleStatusAssembly || unit.Status == models.ModuleStatusCompleted {
		return nil
	}
	err := tx.Model(unit).Updates(map[string]any{
		"status":             models.ModuleStatusAssembly,
		"current_station_id": station.ID,
	}).Error
	if err != nil {
		return apperr.FromDB("failed to place work unit", err)
	}
	return audit.Record(tx, models.ProductionEvent{
		Kind:        models.EventModuleMoved,
		WorkUnitID:  unit.ID,
		ToStationID: &station.ID,
		Detail:      "module entered assembly",
		CreatedAt:   at,
	})
}

// Join adds a worker to an open instance.
func (s *Service) Join(ctx context.Context, instanceID, workerID uint) (*models.TaskInstance, error) {
	unitID, err := s.unitOf(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	release := s.locks.LockAll(lockKeys(unitID, workerID)...)
	defer release()

	var inst *models.TaskInstance
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var def *models.TaskDefinition
		inst, def, err = s.loadInstance(tx, instanceID)
		if err != nil {
			return err
		}
		if !inst.Status.Open() {
			return apperr.InvalidState("cannot join a task instance that is %s", inst.Status)
		}
		if err := s.checkWorker(tx, def, workerID); err != nil {
			return err
		}
		if !def.ConcurrentAllowed {
			if err := s.checkWorkerAvailable(tx, workerID, inst.ID); err != nil {
				return err
			}
		}
		return s.addParticipant(tx, inst.ID, workerID, s.now())
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// Pause opens a pause on an InProgress instance.
func (s *Service) Pause(ctx context.Context, instanceID, workerID uint, reason string) (*models.TaskInstance, error) {
	unitID, err := s.unitOf(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	release := s.locks.LockAll(lockKeys(unitID, workerID)...)
	defer release()

	var inst *models.TaskInstance
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inst, _, err = s.loadInstance(tx, instanceID)
		if err != nil {
			return err
		}
		if err := validateTransition(inst.Status, models.TaskStatusPaused); err != nil {
			return err
		}
		if err := s.requireParticipant(tx, inst.ID, workerID); err != nil {
			return err
		}
		return s.pause(tx, inst, reason, s.now())
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Service) pause(tx *gorm.DB, inst *models.TaskInstance, reason string, at time.Time) error {
	if err := transition(tx, inst, models.TaskStatusPaused, at); err != nil {
		return err
	}
	p := models.TaskPause{
		TaskInstanceID: inst.ID,
		PausedAt:       at,
		Reason:         reason,
	}
	if err := tx.Create(&p).Error; err != nil {
		return apperr.FromDB("failed to record pause", err)
	}
	return nil
}

// Resume closes the open pause. The resuming worker must be free of other
// non-concurrent work and becomes a participant if they were not one.
func (s *Service) Resume(ctx context.Context, instanceID, workerID uint) (*models.TaskInstance, error) {
	unitID, err := s.unitOf(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	release := s.locks.LockAll(lockKeys(unitID, workerID)...)
	defer release()

	var inst *models.TaskInstance
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var def *models.TaskDefinition
		inst, def, err = s.loadInstance(tx, instanceID)
		if err != nil {
			return err
		}
		if err := validateTransition(inst.Status, models.TaskStatusInProgress); err != nil {
			return err
		}
		if err := s.checkWorker(tx, def, workerID); err != nil {
			return err
		}
		if !def.ConcurrentAllowed {
			if err := s.checkWorkerAvailable(tx, workerID, inst.ID); err != nil {
				return err
			}
		}

		now := s.now()
		if err := s.addParticipant(tx, inst.ID, workerID, now); err != nil {
			return err
		}
		if err := closeOpenPauses(tx, inst.ID, now); err != nil {
			return err
		}
		return transition(tx, inst, models.TaskStatusInProgress, now)
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// Complete finishes an InProgress instance and runs advancement and QC
// evaluation in the same transaction.
func (s *Service) Complete(ctx context.Context, instanceID, workerID uint, notes string) (*models.TaskInstance, error) {
	unitID, err := s.unitOf(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	release := s.locks.LockAll(lockKeys(unitID, workerID)...)
	defer release()

	var inst *models.TaskInstance
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var def *models.TaskDefinition
		inst, def, err = s.loadInstance(tx, instanceID)
		if err != nil {
			return err
		}
		if err := validateTransition(inst.Status, models.TaskStatusCompleted); err != nil {
			return err
		}
		if err := s.requireParticipant(tx, inst.ID, workerID); err != nil {
			return err
		}

		now := s.now()
		if err := closeOpenPauses(tx, inst.ID, now); err != nil {
			return err
		}
		if err := closeParticipations(tx, inst.ID, now); err != nil {
			return err
		}
		if notes != "" {
			if err := tx.Model(inst).Update("notes", notes).Error; err != nil {
				return apperr.FromDB("failed to save notes", err)
			}
			inst.Notes = notes
		}
		if err := transition(tx, inst, models.TaskStatusCompleted, now); err != nil {
			return err
		}

		err := audit.Record(tx, models.ProductionEvent{
			Kind:           models.EventTaskCompleted,
			WorkUnitID:     inst.WorkUnitID,
			PanelUnitID:    inst.PanelUnitID,
			TaskInstanceID: &inst.ID,
			ToStationID:    &inst.StationID,
			Detail:         def.Name,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}

		ev := CompletionEvent{
			Instance:   *inst,
			Definition: *def,
			WorkerID:   workerID,
			At:         now,
		}
		for _, l := range s.listeners {
			if err := l.TaskCompleted(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("WARNING: Failed to complete task instance %d: %v", instanceID, err)
		return nil, err
	}
	return inst, nil
}

// Skip records a skip exception for a panel task. An open instance is
// paused, not moved to Skipped, so the time already logged on it survives.
func (s *Service) Skip(ctx context.Context, req SkipRequest) (*models.TaskException, error) {
	release := s.locks.LockAll(lockKeys(req.WorkUnitID, req.WorkerID)...)
	defer release()

	var exc *models.TaskException
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		def, err := database.Get[models.TaskDefinition](tx, req.TaskDefinitionID, "task definition")
		if err != nil {
			return err
		}
		if def.Scope != models.TaskScopePanel {
			return apperr.PolicyViolation("only panel tasks can be skipped")
		}
		if !def.Skippable {
			return apperr.PolicyViolation("task %q is not skippable", def.Name)
		}
		if def.IsRework {
			return apperr.PolicyViolation("rework tasks cannot be skipped")
		}

		worker, err := database.Get[models.Worker](tx, req.WorkerID, "worker")
		if err != nil {
			return err
		}
		if !worker.Active {
			return apperr.PolicyViolation("worker %d is not active", worker.ID)
		}

		panelID := req.PanelUnitID
		panel, err := s.loadPanelForScope(tx, def, req.WorkUnitID, &panelID)
		if err != nil {
			return err
		}

		var instances []models.TaskInstance
		err = tx.Where("task_definition_id = ? AND panel_unit_id = ? AND rework_task_id IS NULL", def.ID, panel.ID).
			Order("id ASC").
			Find(&instances).Error
		if err != nil {
			return apperr.FromDB("failed to load task instances", err)
		}
		var open *models.TaskInstance
		for i := range instances {
			if instances[i].Status == models.TaskStatusCompleted {
				return apperr.InvalidState("task %q is already completed for panel %d", def.Name, panel.ID)
			}
			if instances[i].Status.Open() && open == nil {
				open = &instances[i]
			}
		}

		var prior models.TaskException
		err = tx.Where("task_definition_id = ? AND panel_unit_id = ? AND type = ?", def.ID, panel.ID, models.TaskExceptionSkip).
			Limit(1).Find(&prior).Error
		if err != nil {
			return apperr.FromDB("failed to load task exceptions", err)
		}
		if prior.ID != 0 {
			exc = &prior
			return nil
		}

		now := s.now()
		stationID := req.StationID
		if stationID == nil {
			stationID = panel.CurrentStationID
		}
		exc = &models.TaskException{
			TaskDefinitionID:  def.ID,
			Scope:             def.Scope,
			WorkUnitID:        req.WorkUnitID,
			PanelUnitID:       &panel.ID,
			StationID:         stationID,
			Type:              models.TaskExceptionSkip,
			Reason:            req.Reason,
			CreatedByWorkerID: worker.ID,
			CreatedAt:         now,
		}
		if err := tx.Create(exc).Error; err != nil {
			return apperr.FromDB("failed to record skip", err)
		}

		if open != nil && open.Status == models.TaskStatusInProgress {
			if err := s.pause(tx, open, "skipped: "+req.Reason, now); err != nil {
				return err
			}
		}

		err = audit.Record(tx, models.ProductionEvent{
			Kind:        models.EventTaskSkipped,
			WorkUnitID:  req.WorkUnitID,
			PanelUnitID: &panel.ID,
			ToStationID: stationID,
			Detail:      fmt.Sprintf("%s: %s", def.Name, req.Reason),
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}

		ev := SkipEvent{
			Exception:  *exc,
			Definition: *def,
			Instance:   open,
			At:         now,
		}
		for _, l := range s.listeners {
			if err := l.TaskSkipped(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exc, nil
}

// Get returns one task instance.
func (s *Service) Get(ctx context.Context, instanceID uint) (*models.TaskInstance, error) {
	return database.Get[models.TaskInstance](s.db.WithContext(ctx), instanceID, "task instance")
}

// ActiveForWorker returns the open instances a worker is currently on.
func (s *Service) ActiveForWorker(ctx context.Context, workerID uint) ([]models.TaskInstance, error) {
	var instances []models.TaskInstance
	err := s.db.WithContext(ctx).
		Joins("JOIN task_participations ON task_participations.task_instance_id = task_instances.id").
		Where("task_participations.worker_id = ? AND task_participations.left_at IS NULL", workerID).
		Where("task_instances.status IN ?", []models.TaskStatus{models.TaskStatusInProgress, models.TaskStatusPaused}).
		Order("task_instances.id ASC").
		Find(&instances).Error
	if err != nil {
		return nil, apperr.FromDB("failed to list active task instances", err)
	}
	return instances, nil
}

// Participants returns every participation row of an instance, oldest first.
func (s *Service) Participants(ctx context.Context, instanceID uint) ([]models.TaskParticipation, error) {
	var parts []models.TaskParticipation
	err := s.db.WithContext(ctx).
		Where("task_instance_id = ?", instanceID).
		Order("id ASC").
		Find(&parts).Error
	if err != nil {
		return nil, apperr.FromDB("failed to list participants", err)
	}
	return parts, nil
}

func (s *Service) unitOf(ctx context.Context, instanceID uint) (uint, error) {
	inst, err := s.Get(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	return inst.WorkUnitID, nil
}

func (s *Service) loadInstance(tx *gorm.DB, instanceID uint) (*models.TaskInstance, *models.TaskDefinition, error) {
	var inst models.TaskInstance
	if err := database.ForUpdate(tx).First(&inst, instanceID).Error; err != nil {
		return nil, nil, apperr.FromDB(fmt.Sprintf("failed to load task instance %d", instanceID), err)
	}
	def, err := database.Get[models.TaskDefinition](tx, inst.TaskDefinitionID, "task definition")
	if err != nil {
		return nil, nil, err
	}
	return &inst, def, nil
}

func (s *Service) loadPanelForScope(tx *gorm.DB, def *models.TaskDefinition, unitID uint, panelID *uint) (*models.PanelUnit, error) {
	if def.Scope == models.TaskScopeModule {
		if panelID != nil {
			return nil, apperr.PolicyViolation("module task %q cannot target a panel", def.Name)
		}
		return nil, nil
	}
	if panelID == nil {
		return nil, apperr.PolicyViolation("panel task %q requires a panel", def.Name)
	}
	var panel models.PanelUnit
	if err := database.ForUpdate(tx).First(&panel, *panelID).Error; err != nil {
		return nil, apperr.FromDB(fmt.Sprintf("failed to load panel unit %d", *panelID), err)
	}
	if panel.WorkUnitID != unitID {
		return nil, apperr.PolicyViolation("panel %d does not belong to work unit %d", panel.ID, unitID)
	}
	return &panel, nil
}

func (s *Service) findInstance(tx *gorm.DB, defID, unitID uint, panelID *uint, stationID uint, reworkTaskID *uint) ([]models.TaskInstance, error) {
	q := tx.Where("task_definition_id = ? AND work_unit_id = ? AND station_id = ?", defID, unitID, stationID)
	if panelID != nil {
		q = q.Where("panel_unit_id = ?", *panelID)
	} else {
		q = q.Where("panel_unit_id IS NULL")
	}
	if reworkTaskID != nil {
		q = q.Where("rework_task_id = ?", *reworkTaskID)
	} else {
		q = q.Where("rework_task_id IS NULL")
	}

	var instances []models.TaskInstance
	if err := q.Order("id ASC").Find(&instances).Error; err != nil {
		return nil, apperr.FromDB("failed to look up task instances", err)
	}
	return instances, nil
}

// checkWorker verifies the worker exists, is active and is on the task's
// allow-list when one is configured.
func (s *Service) checkWorker(tx *gorm.DB, def *models.TaskDefinition, workerID uint) error {
	worker, err := database.Get[models.Worker](tx, workerID, "worker")
	if err != nil {
		return err
	}
	if !worker.Active {
		return apperr.PolicyViolation("worker %d is not active", workerID)
	}

	var restrictions []models.TaskWorkerRestriction
	if err := tx.Where("task_definition_id = ?", def.ID).Find(&restrictions).Error; err != nil {
		return apperr.FromDB("failed to load worker restrictions", err)
	}
	if len(restrictions) == 0 {
		return nil
	}
	for _, r := range restrictions {
		if r.WorkerID == workerID {
			return nil
		}
	}
	return apperr.PolicyViolation("worker %d is not allowed on task %q", workerID, def.Name)
}

// checkWorkerAvailable enforces one active non-concurrent task per worker.
// excludeID is the instance being joined or resumed.
func (s *Service) checkWorkerAvailable(tx *gorm.DB, workerID, excludeID uint) error {
	q := tx.Model(&models.TaskParticipation{}).
		Joins("JOIN task_instances ON task_instances.id = task_participations.task_instance_id").
		Joins("JOIN task_definitions ON task_definitions.id = task_instances.task_definition_id").
		Where("task_participations.worker_id = ? AND task_participations.left_at IS NULL", workerID).
		Where("task_instances.status IN ?", []models.TaskStatus{models.TaskStatusInProgress, models.TaskStatusPaused}).
		Where("task_definitions.concurrent_allowed = ?", false)
	if excludeID != 0 {
		q = q.Where("task_instances.id <> ?", excludeID)
	}

	var busy int64
	if err := q.Count(&busy).Error; err != nil {
		return apperr.FromDB("failed to check worker availability", err)
	}
	if busy > 0 {
		return apperr.PolicyViolation("worker %d already has an active task", workerID)
	}
	return nil
}

// checkDependencies requires every prerequisite to be completed or skipped
// for the same unit and panel.
func (s *Service) checkDependencies(tx *gorm.DB, def *models.TaskDefinition, unitID uint, panelID *uint) error {
	deps, err := def.DependencyIDs()
	if err != nil {
		return fmt.Errorf("failed to read dependencies of task %d: %w", def.ID, err)
	}
	if len(deps) == 0 {
		return nil
	}

	done, err := SatisfiedTaskIDs(tx, unitID, panelID)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		if !done[dep] {
			return apperr.PolicyViolation("task %q depends on task %d which is not completed", def.Name, dep)
		}
	}
	return nil
}

// SatisfiedTaskIDs returns the task definitions completed or skipped for a
// panel, or for the module itself when panelID is nil.
func SatisfiedTaskIDs(tx *gorm.DB, unitID uint, panelID *uint) (map[uint]bool, error) {
	instQ := tx.Model(&models.TaskInstance{}).
		Where("work_unit_id = ? AND status = ? AND rework_task_id IS NULL", unitID, models.TaskStatusCompleted)
	excQ := tx.Model(&models.TaskException{}).
		Where("work_unit_id = ? AND type = ?", unitID, models.TaskExceptionSkip)
	if panelID != nil {
		instQ = instQ.Where("panel_unit_id = ?", *panelID)
		excQ = excQ.Where("panel_unit_id = ?", *panelID)
	} else {
		instQ = instQ.Where("panel_unit_id IS NULL")
		excQ = excQ.Where("panel_unit_id IS NULL")
	}

	var completed, skipped []uint
	if err := instQ.Pluck("task_definition_id", &completed).Error; err != nil {
		return nil, apperr.FromDB("failed to load completed tasks", err)
	}
	if err := excQ.Pluck("task_definition_id", &skipped).Error; err != nil {
		return nil, apperr.FromDB("failed to load skipped tasks", err)
	}

	done := make(map[uint]bool, len(completed)+len(skipped))
	for _, id := range completed {
		done[id] = true
	}
	for _, id := range skipped {
		done[id] = true
	}
	return done, nil
}

func (s *Service) requireParticipant(tx *gorm.DB, instanceID, workerID uint) error {
	var n int64
	err := tx.Model(&models.TaskParticipation{}).
		Where("task_instance_id = ? AND worker_id = ? AND left_at IS NULL", instanceID, workerID).
		Count(&n).Error
	if err != nil {
		return apperr.FromDB("failed to check participation", err)
	}
	if n == 0 {
		return apperr.PolicyViolation("worker %d is not working on task instance %d", workerID, instanceID)
	}
	return nil
}

// addParticipant is a no-op when the worker is already active on the instance.
func (s *Service) addParticipant(tx *gorm.DB, instanceID, workerID uint, at time.Time) error {
	var n int64
	err := tx.Model(&models.TaskParticipation{}).
		Where("task_instance_id = ? AND worker_id = ? AND left_at IS NULL", instanceID, workerID).
		Count(&n).Error
	if err != nil {
		return apperr.FromDB("failed to check participation", err)
	}
	if n > 0 {
		return nil
	}
	p := models.TaskParticipation{
		TaskInstanceID: instanceID,
		WorkerID:       workerID,
		JoinedAt:       at,
	}
	if err := tx.Create(&p).Error; err != nil {
		return apperr.FromDB("failed to add participant", err)
	}
	return nil
}

func lockKeys(unitID uint, workerIDs ...uint) []string {
	keys := make([]string, 0, len(workerIDs)+1)
	keys = append(keys, lock.UnitKey(unitID))
	for _, id := range workerIDs {
		keys = append(keys, lock.WorkerKey(id))
	}
	return keys
}
