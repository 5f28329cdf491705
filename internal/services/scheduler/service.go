package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/Teskh/production-sub000/internal/lock"
	"github.com/Teskh/production-sub000/internal/models"
	"github.com/Teskh/production-sub000/internal/services/advancement"
	"github.com/Teskh/production-sub000/internal/services/qc"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"

	// Upper bound on consecutive moves of one panel or module in a sweep.
	maxSweepSteps = 64
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Service handles scheduled job management and execution
type Service struct {
	db        *gorm.DB
	ctx       context.Context
	cron      *cron.Cron
	jobs      map[string]cron.EntryID // jobID -> cron entry ID
	jobsMu    sync.RWMutex
	engine    *advancement.Engine
	locks     *lock.MutexMap
	qc        *qc.Service
	notifier  Notifier
	batchSize int
	now       func() time.Time
}

// NewService creates a new scheduler service. locks must be the table the
// task service uses so sweeps serialise with worker actions.
func NewService(db *gorm.DB, ctx context.Context, engine *advancement.Engine, locks *lock.MutexMap, qcService *qc.Service) *Service {
	// Create cron scheduler with seconds support
	c := cron.New(cron.WithSeconds())

	if locks == nil {
		locks = lock.NewMutexMap()
	}

	return &Service{
		db:        db,
		ctx:       ctx,
		cron:      c,
		jobs:      make(map[string]cron.EntryID),
		engine:    engine,
		locks:     locks,
		qc:        qcService,
		batchSize: 100,
		now:       time.Now,
	}
}

// SetNotifier configures webhook delivery for notification_dispatch jobs.
func (s *Service) SetNotifier(n Notifier, batchSize int) {
	s.notifier = n
	if batchSize > 0 {
		s.batchSize = batchSize
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Start initializes the scheduler and loads enabled jobs from database
func (s *Service) Start() error {
	log.Println("Starting scheduler...")

	// Start the cron scheduler
	s.cron.Start()
	log.Println("Cron scheduler started")

	// Load all enabled jobs from database
	var jobs []models.ScheduledJob
	if err := s.db.Where("enabled = ?", true).Find(&jobs).Error; err != nil {
		return fmt.Errorf("failed to load scheduled jobs: %w", err)
	}

	for i := range jobs {
		job := jobs[i]
		if err := s.scheduleJob(&job); err != nil {
			log.Printf("WARNING: Failed to schedule job %s (%s): %v", job.Name, job.ID, err)
		} else {
			log.Printf("Scheduled job: %s (%s) with cron: %s", job.Name, job.ID, job.Cron)
		}
	}

	log.Printf("Scheduler started with %d enabled jobs", len(jobs))
	return nil
}

// Stop gracefully stops the scheduler, waiting for running jobs
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		log.Println("Scheduler stopped")
	}
}

// ListJobs retrieves all scheduled jobs
func (s *Service) ListJobs() ([]JobListResponse, error) {
	var jobs []models.ScheduledJob
	if err := s.db.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	responses := make([]JobListResponse, len(jobs))
	for i := range jobs {
		responses[i] = s.toJobListResponse(&jobs[i])
	}

	return responses, nil
}

// UpsertJob creates or updates a scheduled job
func (s *Service) UpsertJob(req UpsertJobRequest) (string, error) {
	// Validate required fields
	if req.Name == "" || req.JobType == "" || req.Cron == "" {
		return "", fmt.Errorf("name, job_type, and cron are required")
	}
	switch req.JobType {
	case models.JobTypeAdvancementSweep, models.JobTypeNotificationDispatch:
	default:
		return "", fmt.Errorf("unknown job type: %s", req.JobType)
	}

	// Normalize and validate cron expression (convert 5-field to 6-field)
	normalizedCron, err := normalizeCron(req.Cron)
	if err != nil {
		return "", err
	}
	req.Cron = normalizedCron

	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", req.Timezone, err)
	}

	// Find or create job
	var job models.ScheduledJob
	result := s.db.Where("name = ?", req.Name).First(&job)
	isNew := false
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("failed to query job: %w", result.Error)
		}
		isNew = true
		job = models.ScheduledJob{Name: req.Name}
	}

	job.JobType = req.JobType
	job.Cron = req.Cron
	job.Timezone = req.Timezone
	job.Enabled = req.Enabled

	payloadStr, err := encodePayload(req.Payload)
	if err != nil {
		return "", err
	}
	job.Payload = payloadStr

	schedule, err := cronParser.Parse(cronSpec(&job))
	if err != nil {
		return "", fmt.Errorf("failed to parse cron for next run: %w", err)
	}
	nextRun := schedule.Next(s.now())
	job.NextRunAt = &nextRun

	if isNew {
		if err := s.db.Create(&job).Error; err != nil {
			return "", fmt.Errorf("failed to create job: %w", err)
		}
	} else {
		if err := s.db.Save(&job).Error; err != nil {
			return "", fmt.Errorf("failed to update job: %w", err)
		}
	}

	// Reschedule in cron
	if err := s.rescheduleJob(job.ID); err != nil {
		return "", fmt.Errorf("failed to reschedule job: %w", err)
	}

	return job.ID, nil
}

func encodePayload(payload interface{}) (string, error) {
	switch p := payload.(type) {
	case nil:
		return "", nil
	case string:
		if p != "" && !json.Valid([]byte(p)) {
			return "", fmt.Errorf("payload is not valid JSON")
		}
		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("failed to marshal payload: %w", err)
		}
		return string(data), nil
	}
}

// DeleteJob removes a scheduled job
func (s *Service) DeleteJob(jobID string) error {
	s.unschedule(jobID)

	if err := s.db.Delete(&models.ScheduledJob{}, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return nil
}

func (s *Service) unschedule(jobID string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if entryID, exists := s.jobs[jobID]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, jobID)
	}
}

// scheduleJob adds a job to the cron scheduler
func (s *Service) scheduleJob(job *models.ScheduledJob) error {
	s.unschedule(job.ID)
	if !job.Enabled {
		return nil
	}

	jobID := job.ID
	entryID, err := s.cron.AddFunc(cronSpec(job), func() {
		s.executeJob(jobID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobsMu.Lock()
	s.jobs[jobID] = entryID
	s.jobsMu.Unlock()

	return nil
}

// rescheduleJob reloads a job from database and reschedules it
func (s *Service) rescheduleJob(jobID string) error {
	var job models.ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Job was deleted, remove from cron
			s.unschedule(jobID)
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	return s.scheduleJob(&job)
}

func (s *Service) scheduled(jobID string) bool {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	_, ok := s.jobs[jobID]
	return ok
}

// executeJob runs a scheduled job from cron
func (s *Service) executeJob(jobID string) {
	log.Printf("Executing scheduled job: %s", jobID)
	summary, err := s.RunNow(jobID)
	if err != nil {
		log.Printf("ERROR: Scheduled job %s failed: %v", jobID, err)
		return
	}
	log.Printf("Completed scheduled job: %s (%s)", jobID, summary)
}

// RunNow executes a job immediately and records its outcome.
func (s *Service) RunNow(jobID string) (string, error) {
	var job models.ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		return "", fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	now := s.now()
	job.LastRunAt = &now
	if schedule, err := cronParser.Parse(cronSpec(&job)); err != nil {
		log.Printf("WARNING: Failed to parse cron for next run: %v", err)
	} else {
		nextRun := schedule.Next(now)
		job.NextRunAt = &nextRun
	}

	summary, runErr := s.runJob(&job)

	job.LastStatus = statusSuccess
	job.LastError = ""
	if runErr != nil {
		job.LastStatus = statusFailed
		job.LastError = runErr.Error()
	}
	if err := s.db.Save(&job).Error; err != nil {
		log.Printf("WARNING: Failed to update job run times: %v", err)
	}

	return summary, runErr
}

func (s *Service) runJob(job *models.ScheduledJob) (string, error) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	switch job.JobType {
	case models.JobTypeAdvancementSweep:
		var payload SweepJobPayload
		if err := decodePayload(job.Payload, &payload); err != nil {
			return "", err
		}
		res, err := s.runAdvancementSweep(ctx, payload)
		return summarize(res), err

	case models.JobTypeNotificationDispatch:
		var payload DispatchJobPayload
		if err := decodePayload(job.Payload, &payload); err != nil {
			return "", err
		}
		res, err := s.runNotificationDispatch(ctx, payload)
		return summarize(res), err

	default:
		return "", fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

func decodePayload(raw string, out interface{}) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to parse job payload: %w", err)
	}
	return nil
}

func summarize(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// runAdvancementSweep re-evaluates every work unit with a panel on the line
// or a module at an assembly station.
func (s *Service) runAdvancementSweep(ctx context.Context, payload SweepJobPayload) (*SweepResult, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("advancement engine is not configured")
	}

	unitIDs, err := s.sweepCandidates(ctx, payload.WorkUnitIDs)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{}
	for _, unitID := range unitIDs {
		res.UnitsChecked++
		panels, modules, err := s.sweepUnit(ctx, unitID)
		if err != nil {
			log.Printf("WARNING: Failed to sweep work unit %d: %v", unitID, err)
			res.Failed++
			continue
		}
		res.PanelsMoved += panels
		res.ModulesMoved += modules
	}

	if res.PanelsMoved > 0 || res.ModulesMoved > 0 {
		log.Printf("Advancement sweep moved %d panels and %d modules", res.PanelsMoved, res.ModulesMoved)
	}
	if res.Failed > 0 {
		return res, fmt.Errorf("%d of %d work units failed to sweep", res.Failed, res.UnitsChecked)
	}
	return res, nil
}

func (s *Service) sweepCandidates(ctx context.Context, only []uint) ([]uint, error) {
	db := s.db.WithContext(ctx)

	panelQuery := db.Model(&models.PanelUnit{}).
		Where("status = ? AND current_station_id IS NOT NULL", models.PanelStatusInProgress)
	unitQuery := db.Model(&models.WorkUnit{}).
		Where("status = ? AND current_station_id IS NOT NULL", models.ModuleStatusAssembly)
	if len(only) > 0 {
		panelQuery = panelQuery.Where("work_unit_id IN ?", only)
		unitQuery = unitQuery.Where("id IN ?", only)
	}

	var fromPanels, fromUnits []uint
	if err := panelQuery.Distinct().Pluck("work_unit_id", &fromPanels).Error; err != nil {
		return nil, fmt.Errorf("failed to load panels on the line: %w", err)
	}
	if err := unitQuery.Pluck("id", &fromUnits).Error; err != nil {
		return nil, fmt.Errorf("failed to load units at assembly: %w", err)
	}

	seen := make(map[uint]bool, len(fromPanels)+len(fromUnits))
	ids := make([]uint, 0, len(fromPanels)+len(fromUnits))
	for _, id := range append(fromPanels, fromUnits...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Service) sweepUnit(ctx context.Context, unitID uint) (panels, modules int, err error) {
	unlock := s.locks.LockAll(lock.UnitKey(unitID))
	defer unlock()

	at := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		panels, modules = 0, 0

		var panelIDs []uint
		err := tx.Model(&models.PanelUnit{}).
			Where("work_unit_id = ? AND status = ? AND current_station_id IS NOT NULL", unitID, models.PanelStatusInProgress).
			Order("id ASC").
			Pluck("id", &panelIDs).Error
		if err != nil {
			return fmt.Errorf("failed to load panels: %w", err)
		}

		for _, panelID := range panelIDs {
			for i := 0; i < maxSweepSteps; i++ {
				moved, err := s.engine.ReevaluatePanel(tx, panelID, at)
				if err != nil {
					return err
				}
				if !moved {
					break
				}
				panels++
			}
		}

		for i := 0; i < maxSweepSteps; i++ {
			moved, err := s.engine.ReevaluateModule(tx, unitID, at)
			if err != nil {
				return err
			}
			if !moved {
				break
			}
			modules++
		}
		return nil
	})
	return panels, modules, err
}

// runNotificationDispatch pushes pending rework notifications to the webhook.
// Each delivery is stamped as soon as it succeeds.
func (s *Service) runNotificationDispatch(ctx context.Context, payload DispatchJobPayload) (*DispatchResult, error) {
	if s.notifier == nil {
		return nil, fmt.Errorf("notification webhook is not configured")
	}
	if s.qc == nil {
		return nil, fmt.Errorf("qc service is not configured")
	}

	limit := payload.BatchSize
	if limit <= 0 {
		limit = s.batchSize
	}

	pending, err := s.qc.PendingDeliveries(ctx, limit)
	if err != nil {
		return nil, err
	}

	res := &DispatchResult{Pending: len(pending)}
	for _, p := range pending {
		if err := s.notifier.PostNotification(ctx, p); err != nil {
			log.Printf("WARNING: Failed to deliver notification %d to worker %d: %v", p.NotificationID, p.WorkerID, err)
			res.Failed++
			continue
		}
		if err := s.qc.MarkDelivered(ctx, []uint{p.NotificationID}, s.now()); err != nil {
			return res, err
		}
		res.Delivered++
	}

	if res.Failed > 0 {
		return res, fmt.Errorf("%d of %d notifications failed to deliver", res.Failed, res.Pending)
	}
	return res, nil
}

// cronSpec prefixes the expression with its timezone for robfig/cron.
func cronSpec(job *models.ScheduledJob) string {
	if job.Timezone == "" || job.Timezone == "UTC" {
		return job.Cron
	}
	return "CRON_TZ=" + job.Timezone + " " + job.Cron
}

// normalizeCron converts 5-field cron to 6-field format by prepending seconds
// 5-field: "minute hour day month dow" (standard cron)
// 6-field: "second minute hour day month dow" (robfig/cron with WithSeconds)
func normalizeCron(cronExpr string) (string, error) {
	cronExpr = strings.TrimSpace(cronExpr)

	fields := strings.Fields(cronExpr)
	if len(fields) == 6 {
		if _, err := cronParser.Parse(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 6-field cron expression: %w", err)
		}
		return cronExpr, nil
	}

	if len(fields) == 5 {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 5-field cron expression: %w", err)
		}
		// Prepend seconds (0 = run at 0 seconds of the minute)
		return "0 " + cronExpr, nil
	}

	return "", fmt.Errorf("invalid cron expression: expected 5 or 6 fields, got %d", len(fields))
}

func (s *Service) toJobListResponse(job *models.ScheduledJob) JobListResponse {
	resp := JobListResponse{
		ID:         job.ID,
		Name:       job.Name,
		JobType:    job.JobType,
		Cron:       job.Cron,
		Timezone:   job.Timezone,
		Enabled:    job.Enabled,
		LastStatus: job.LastStatus,
		LastError:  job.LastError,
		CreatedAt:  job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  job.UpdatedAt.Format(time.RFC3339),
	}

	if job.LastRunAt != nil {
		lastRun := job.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &lastRun
	}

	if job.NextRunAt != nil {
		nextRun := job.NextRunAt.Format(time.RFC3339)
		resp.NextRun = &nextRun
	}

	return resp
}
