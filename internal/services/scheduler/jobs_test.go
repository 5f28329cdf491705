package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Teskh/production-sub000/internal/api"
	"github.com/Teskh/production-sub000/internal/catalog"
	"github.com/Teskh/production-sub000/internal/models"
	"github.com/Teskh/production-sub000/internal/services/advancement"
	"github.com/Teskh/production-sub000/internal/services/qc"
	"github.com/Teskh/production-sub000/internal/services/tasks"
	"github.com/Teskh/production-sub000/internal/testutil"
)

const plantCatalog = `
stations:
  - {name: Framing, role: Panels, sequence: 1}
  - {name: Sheathing, role: Panels, sequence: 2}
  - {name: Assembly 1, role: Assembly, sequence: 10, line_type: A}
  - {name: Assembly 2, role: Assembly, sequence: 11, line_type: A}
house_types:
  - {name: Casa, modules: 1}
panel_definitions:
  - {house_type: Casa, module: 1, code: W1}
workers:
  - {first_name: Ana}
  - {first_name: Ben}
  - {first_name: Ines}
tasks:
  - {name: Frame, scope: panel, station_sequence: 1}
  - {name: Sheath, scope: panel, station_sequence: 2}
  - {name: Set Module, scope: module, station_sequence: 10, advance_trigger: true}
  - {name: Finish, scope: module, station_sequence: 11, advance_trigger: true}
qc:
  severity_levels:
    - {name: Minor, rank: 1}
  checks:
    - name: Frame Check
      triggers:
        - {tasks: [Frame], sampling_rate: 1.0}
units:
  - {project: P1, house: H1, house_type: Casa, module: 1}
`

type plantFixture struct {
	db        *gorm.DB
	ix        *catalog.Index
	tasks     *tasks.Service
	qc        *qc.Service
	scheduler *Service
	ctx       context.Context
}

// newPlantFixture wires QC into task completion but leaves advancement to the
// sweep, so completed work piles up until a job runs.
func newPlantFixture(t *testing.T) *plantFixture {
	db := testutil.NewDB(t)
	ix := testutil.Seed(t, db, plantCatalog)
	clock := testutil.NewClock()

	taskSvc := tasks.NewService(db, nil)
	taskSvc.SetClock(clock.Now)
	qcSvc := qc.NewService(db, taskSvc)
	qcSvc.SetClock(clock.Now)
	taskSvc.AddListener(qcSvc)

	ctx := context.Background()
	sched := NewService(db, ctx, advancement.NewEngine(), taskSvc.Locks(), qcSvc)
	sched.SetClock(clock.Now)

	return &plantFixture{db: db, ix: ix, tasks: taskSvc, qc: qcSvc, scheduler: sched, ctx: ctx}
}

func (f *plantFixture) unitID() uint {
	return f.ix.Units["P1/H1/1"]
}

func (f *plantFixture) run(t *testing.T, task, panel, station, worker string) *models.TaskInstance {
	t.Helper()
	req := tasks.StartRequest{
		TaskDefinitionID: f.ix.Tasks[task],
		WorkUnitID:       f.unitID(),
		StationID:        f.ix.Stations[station],
		WorkerIDs:        []uint{f.ix.Workers[worker]},
	}
	if panel != "" {
		id := f.ix.PanelUnits["P1/H1/1/"+panel]
		req.PanelUnitID = &id
	}
	inst, err := f.tasks.Start(f.ctx, req)
	require.NoError(t, err)
	done, err := f.tasks.Complete(f.ctx, inst.ID, f.ix.Workers[worker], "")
	require.NoError(t, err)
	return done
}

func (f *plantFixture) job(t *testing.T, name, jobType string, payload interface{}) string {
	t.Helper()
	id, err := f.scheduler.UpsertJob(UpsertJobRequest{
		Name:    name,
		JobType: jobType,
		Cron:    "*/5 * * * *",
		Enabled: true,
		Payload: payload,
	})
	require.NoError(t, err)
	return id
}

func (f *plantFixture) stored(t *testing.T, id string) models.ScheduledJob {
	t.Helper()
	var job models.ScheduledJob
	require.NoError(t, f.db.First(&job, "id = ?", id).Error)
	return job
}

// failFrameCheck completes Frame on W1 and fails the check it opens, leaving
// one Active notification for Ana.
func (f *plantFixture) failFrameCheck(t *testing.T) {
	t.Helper()
	inst := f.run(t, "Frame", "W1", "Framing", "Ana")
	checks, err := f.qc.ChecksForInstance(f.ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, checks, 1)

	minor := f.ix.Severities["Minor"]
	_, err = f.qc.RecordExecution(f.ctx, qc.ExecutionRequest{
		CheckInstanceID: checks[0].ID,
		Outcome:         models.QCOutcomeFail,
		InspectorID:     f.ix.Workers["Ines"],
		SeverityLevelID: &minor,
		Failures:        []qc.FailureInput{{OtherText: "bowed top plate"}},
	})
	require.NoError(t, err)
}

func TestUpsertJob(t *testing.T) {
	t.Run("Should create and schedule an enabled job", func(t *testing.T) {
		f := newPlantFixture(t)
		id := f.job(t, "sweep", models.JobTypeAdvancementSweep, nil)

		job := f.stored(t, id)
		assert.Equal(t, "0 */5 * * * *", job.Cron)
		assert.Equal(t, "UTC", job.Timezone)
		require.NotNil(t, job.NextRunAt)
		assert.True(t, f.scheduler.scheduled(id))
	})

	t.Run("Should update an existing job by name", func(t *testing.T) {
		f := newPlantFixture(t)
		id := f.job(t, "dispatch", models.JobTypeNotificationDispatch, nil)

		again, err := f.scheduler.UpsertJob(UpsertJobRequest{
			Name:     "dispatch",
			JobType:  models.JobTypeNotificationDispatch,
			Cron:     "0 0 6 * * *",
			Timezone: "America/Santiago",
			Enabled:  false,
			Payload:  map[string]interface{}{"batch_size": 10},
		})
		require.NoError(t, err)
		assert.Equal(t, id, again)

		job := f.stored(t, id)
		assert.Equal(t, "0 0 6 * * *", job.Cron)
		assert.Equal(t, "America/Santiago", job.Timezone)
		assert.JSONEq(t, `{"batch_size": 10}`, job.Payload)
		assert.False(t, f.scheduler.scheduled(id))

		jobs, err := f.scheduler.ListJobs()
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "dispatch", jobs[0].Name)
		assert.False(t, jobs[0].Enabled)
	})

	t.Run("Should reject invalid requests", func(t *testing.T) {
		f := newPlantFixture(t)
		tests := []struct {
			name string
			req  UpsertJobRequest
			msg  string
		}{
			{"missing name", UpsertJobRequest{JobType: models.JobTypeAdvancementSweep, Cron: "* * * * *"}, "required"},
			{"unknown type", UpsertJobRequest{Name: "x", JobType: "transfer", Cron: "* * * * *"}, "unknown job type"},
			{"bad cron", UpsertJobRequest{Name: "x", JobType: models.JobTypeAdvancementSweep, Cron: "0 0 25 * * *"}, "invalid"},
			{"bad timezone", UpsertJobRequest{Name: "x", JobType: models.JobTypeAdvancementSweep, Cron: "* * * * *", Timezone: "Mars/Base"}, "invalid timezone"},
			{"bad payload", UpsertJobRequest{Name: "x", JobType: models.JobTypeAdvancementSweep, Cron: "* * * * *", Payload: "{not json"}, "not valid JSON"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.scheduler.UpsertJob(tt.req)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.msg)
			})
		}

		jobs, err := f.scheduler.ListJobs()
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})
}

func TestDeleteJob(t *testing.T) {
	f := newPlantFixture(t)
	id := f.job(t, "sweep", models.JobTypeAdvancementSweep, nil)
	require.True(t, f.scheduler.scheduled(id))

	require.NoError(t, f.scheduler.DeleteJob(id))
	assert.False(t, f.scheduler.scheduled(id))

	var count int64
	require.NoError(t, f.db.Model(&models.ScheduledJob{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAdvancementSweep(t *testing.T) {
	f := newPlantFixture(t)

	f.run(t, "Frame", "W1", "Framing", "Ana")
	f.run(t, "Set Module", "", "Assembly 1", "Ben")

	var panel models.PanelUnit
	require.NoError(t, f.db.First(&panel, f.ix.PanelUnits["P1/H1/1/W1"]).Error)
	assert.Equal(t, f.ix.Stations["Framing"], *panel.CurrentStationID)

	id := f.job(t, "sweep", models.JobTypeAdvancementSweep, nil)
	summary, err := f.scheduler.RunNow(id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"units_checked": 1, "panels_moved": 1, "modules_moved": 1, "failed": 0}`, summary)

	require.NoError(t, f.db.First(&panel, panel.ID).Error)
	assert.Equal(t, f.ix.Stations["Sheathing"], *panel.CurrentStationID)

	var unit models.WorkUnit
	require.NoError(t, f.db.First(&unit, f.unitID()).Error)
	assert.Equal(t, models.ModuleStatusAssembly, unit.Status)
	assert.Equal(t, f.ix.Stations["Assembly 2"], *unit.CurrentStationID)

	job := f.stored(t, id)
	assert.Equal(t, statusSuccess, job.LastStatus)
	assert.Empty(t, job.LastError)
	require.NotNil(t, job.LastRunAt)

	// Nothing left to repair.
	summary, err = f.scheduler.RunNow(id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"units_checked": 1, "panels_moved": 0, "modules_moved": 0, "failed": 0}`, summary)
}

func TestAdvancementSweep_PayloadLimitsUnits(t *testing.T) {
	f := newPlantFixture(t)
	f.run(t, "Frame", "W1", "Framing", "Ana")

	id := f.job(t, "sweep other", models.JobTypeAdvancementSweep, SweepJobPayload{WorkUnitIDs: []uint{f.unitID() + 100}})
	summary, err := f.scheduler.RunNow(id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"units_checked": 0, "panels_moved": 0, "modules_moved": 0, "failed": 0}`, summary)
}

func TestNotificationDispatch(t *testing.T) {
	t.Run("Should deliver and stamp pending notifications", func(t *testing.T) {
		f := newPlantFixture(t)
		f.failFrameCheck(t)

		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()
		f.scheduler.SetNotifier(api.NewClient(srv.URL, "token", time.Second), 50)

		id := f.job(t, "dispatch", models.JobTypeNotificationDispatch, nil)
		summary, err := f.scheduler.RunNow(id)
		require.NoError(t, err)
		assert.JSONEq(t, `{"pending": 1, "delivered": 1, "failed": 0}`, summary)
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

		notes, err := f.qc.ListNotifications(f.ctx, f.ix.Workers["Ana"], false)
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.NotNil(t, notes[0].DeliveredAt)
		assert.Equal(t, models.QCNotificationActive, notes[0].Status)

		summary, err = f.scheduler.RunNow(id)
		require.NoError(t, err)
		assert.JSONEq(t, `{"pending": 0, "delivered": 0, "failed": 0}`, summary)
		assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	})

	t.Run("Should record failed deliveries on the job", func(t *testing.T) {
		f := newPlantFixture(t)
		f.failFrameCheck(t)
		f.scheduler.SetNotifier(failingNotifier{}, 0)

		id := f.job(t, "dispatch", models.JobTypeNotificationDispatch, nil)
		_, err := f.scheduler.RunNow(id)
		require.Error(t, err)

		job := f.stored(t, id)
		assert.Equal(t, statusFailed, job.LastStatus)
		assert.Contains(t, job.LastError, "1 of 1 notifications failed")

		notes, err := f.qc.ListNotifications(f.ctx, f.ix.Workers["Ana"], false)
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Nil(t, notes[0].DeliveredAt)
	})

	t.Run("Should fail without a webhook", func(t *testing.T) {
		f := newPlantFixture(t)
		id := f.job(t, "dispatch", models.JobTypeNotificationDispatch, nil)

		_, err := f.scheduler.RunNow(id)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not configured")
		assert.Equal(t, statusFailed, f.stored(t, id).LastStatus)
	})
}

type failingNotifier struct{}

func (failingNotifier) PostNotification(ctx context.Context, payload interface{}) error {
	return errors.New("connection refused")
}
