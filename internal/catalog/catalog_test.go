package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Teskh/production-sub000/internal/catalog"
	"github.com/Teskh/production-sub000/internal/models"
	"github.com/Teskh/production-sub000/internal/testutil"
)

const fullCatalog = `
stations:
  - {name: Framing, role: Panels, sequence: 1}
  - {name: Assembly 1, role: Assembly, sequence: 10, line_type: A}
house_types:
  - {name: Casa, modules: 2, sub_types: [Norte]}
panel_definitions:
  - {house_type: Casa, module: 1, code: W1}
  - {house_type: Casa, module: 1, code: W2, tasks: [Frame]}
  - {house_type: Casa, module: 2, code: F1}
  - {house_type: Casa, module: 1, sub_type: Norte, code: N1}
workers:
  - {first_name: Ana, last_name: Rojas}
  - {first_name: Ben, active: false}
tasks:
  - {name: Frame, scope: panel, station_sequence: 1}
  - name: Insulate
    scope: panel
    station_sequence: 1
    skippable: true
    depends_on: [Frame]
    allowed_workers: [Ana Rojas]
    applicability:
      - {house_type: Casa, module: 1, panel: Casa/1/W1, station_sequence: 1}
      - {house_type: Casa, sub_type: Norte, applies: false}
  - {name: Set Module, scope: module, station_sequence: 10, advance_trigger: true}
qc:
  severity_levels:
    - {name: Minor, rank: 1}
  checks:
    - name: Frame Check
      guidance: Check stud spacing
      failure_modes:
        - {name: Loose stud, rework_text: Re-nail studs}
      triggers:
        - {tasks: [Frame, Insulate], sampling_rate: 0.25, autotune: true, step: 0.05}
        - {sampling_rate: 0.1, active: false}
      applicability:
        - {house_type: Casa, force_required: true}
units:
  - {project: P1, house: H1, house_type: Casa, module: 1}
  - {project: P1, house: H2, house_type: Casa, module: 1, panels: [W2]}
  - {project: P1, house: H3, house_type: Casa, sub_type: Norte, module: 1}
`

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{"unknown field", "stations:\n  - {name: X, role: Panels, colour: red}\n", "colour"},
		{"unknown role", "stations:\n  - {name: X, role: Paint}\n", "unknown role"},
		{"station without name", "stations:\n  - {role: Panels}\n", "without name"},
		{"unknown scope", "tasks:\n  - {name: X, scope: house}\n", "unknown scope"},
		{"worker without name", "workers:\n  - {last_name: Rojas}\n", "first name"},
		{"rate out of range", "qc:\n  checks:\n    - name: C\n      triggers:\n        - {sampling_rate: 1.5}\n", "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	seed, err := catalog.Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, seed.Stations)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullCatalog), 0o600))

	seed, err := catalog.ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, seed.Tasks, 3)

	_, err = catalog.ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	db := testutil.NewDB(t)
	ix := testutil.Seed(t, db, fullCatalog)

	assert.Len(t, ix.Stations, 2)
	assert.Contains(t, ix.SubTypes, "Casa/Norte")
	assert.Len(t, ix.Panels, 4)
	assert.Contains(t, ix.Workers, "Ana Rojas")
	assert.Contains(t, ix.Workers, "Ben")

	t.Run("stations keep role and line", func(t *testing.T) {
		var st models.Station
		require.NoError(t, db.First(&st, ix.Stations["Assembly 1"]).Error)
		assert.Equal(t, models.StationRoleAssembly, st.Role)
		require.NotNil(t, st.LineType)
		assert.Equal(t, "A", *st.LineType)
		assert.Equal(t, 10, st.SequenceOrder)
	})

	t.Run("inactive worker", func(t *testing.T) {
		var w models.Worker
		require.NoError(t, db.First(&w, ix.Workers["Ben"]).Error)
		assert.False(t, w.Active)
	})

	t.Run("task dependencies and allow-list", func(t *testing.T) {
		var def models.TaskDefinition
		require.NoError(t, db.First(&def, ix.Tasks["Insulate"]).Error)
		assert.True(t, def.Skippable)
		assert.True(t, def.Active)
		deps, err := def.DependencyIDs()
		require.NoError(t, err)
		assert.Equal(t, []uint{ix.Tasks["Frame"]}, deps)

		var allowed []models.TaskWorkerRestriction
		require.NoError(t, db.Where("task_definition_id = ?", def.ID).Find(&allowed).Error)
		require.Len(t, allowed, 1)
		assert.Equal(t, ix.Workers["Ana Rojas"], allowed[0].WorkerID)
	})

	t.Run("panel task restriction", func(t *testing.T) {
		var w1, w2 models.PanelDefinition
		require.NoError(t, db.First(&w1, ix.Panels["Casa/1/W1"]).Error)
		require.NoError(t, db.First(&w2, ix.Panels["Casa/1/W2"]).Error)

		_, set, err := w1.ApplicableTasks()
		require.NoError(t, err)
		assert.False(t, set)

		ids, set, err := w2.ApplicableTasks()
		require.NoError(t, err)
		assert.True(t, set)
		assert.Equal(t, []uint{ix.Tasks["Frame"]}, ids)
	})

	t.Run("task rules", func(t *testing.T) {
		var rules []models.TaskApplicability
		require.NoError(t, db.Where("task_definition_id = ?", ix.Tasks["Insulate"]).Order("id").Find(&rules).Error)
		require.Len(t, rules, 2)

		assert.True(t, rules[0].Applies)
		require.NotNil(t, rules[0].PanelDefinitionID)
		assert.Equal(t, ix.Panels["Casa/1/W1"], *rules[0].PanelDefinitionID)
		require.NotNil(t, rules[0].ModuleNumber)
		assert.Equal(t, 1, *rules[0].ModuleNumber)
		require.NotNil(t, rules[0].StationSequenceOrder)

		assert.False(t, rules[1].Applies)
		require.NotNil(t, rules[1].SubTypeID)
		assert.Equal(t, ix.SubTypes["Casa/Norte"], *rules[1].SubTypeID)
	})

	t.Run("qc catalog", func(t *testing.T) {
		require.Len(t, ix.Triggers["Frame Check"], 2)

		var trig models.QCTrigger
		require.NoError(t, db.First(&trig, ix.Triggers["Frame Check"][0]).Error)
		assert.Equal(t, models.QCEventTaskCompleted, trig.EventType)
		assert.InDelta(t, 0.25, trig.SamplingRate, 1e-9)
		assert.True(t, trig.SamplingAutotune)
		assert.Nil(t, trig.CurrentSamplingRate)
		ids, set, err := trig.FilterTaskIDs()
		require.NoError(t, err)
		assert.True(t, set)
		assert.ElementsMatch(t, []uint{ix.Tasks["Frame"], ix.Tasks["Insulate"]}, ids)

		var catchAll models.QCTrigger
		require.NoError(t, db.First(&catchAll, ix.Triggers["Frame Check"][1]).Error)
		assert.False(t, catchAll.Active)
		_, set, err = catchAll.FilterTaskIDs()
		require.NoError(t, err)
		assert.False(t, set)

		var mode models.QCFailureMode
		require.NoError(t, db.First(&mode, ix.FailureModes["Frame Check/Loose stud"]).Error)
		assert.Equal(t, "Re-nail studs", mode.DefaultReworkText)

		var rule models.QCApplicability
		require.NoError(t, db.Where("check_definition_id = ?", ix.Checks["Frame Check"]).First(&rule).Error)
		assert.True(t, rule.ForceRequired)
		assert.True(t, rule.Applies)
	})

	t.Run("units get their panels", func(t *testing.T) {
		assert.Contains(t, ix.PanelUnits, "P1/H1/1/W1")
		assert.Contains(t, ix.PanelUnits, "P1/H1/1/W2")
		assert.NotContains(t, ix.PanelUnits, "P1/H1/1/F1")
		assert.NotContains(t, ix.PanelUnits, "P1/H1/1/N1")

		assert.Contains(t, ix.PanelUnits, "P1/H2/1/W2")
		assert.NotContains(t, ix.PanelUnits, "P1/H2/1/W1")

		assert.Contains(t, ix.PanelUnits, "P1/H3/1/N1")

		var unit models.WorkUnit
		require.NoError(t, db.First(&unit, ix.Units["P1/H3/1"]).Error)
		assert.Equal(t, models.ModuleStatusPlanned, unit.Status)
		require.NotNil(t, unit.SubTypeID)
		assert.Nil(t, unit.CurrentStationID)

		var panel models.PanelUnit
		require.NoError(t, db.First(&panel, ix.PanelUnits["P1/H1/1/W1"]).Error)
		assert.Equal(t, models.PanelStatusPlanned, panel.Status)
		assert.Equal(t, ix.Units["P1/H1/1"], panel.WorkUnitID)
	})
}

func TestApply_UnknownReferenceRollsBack(t *testing.T) {
	db := testutil.NewDB(t)
	seed, err := catalog.Parse(strings.NewReader(`
stations:
  - {name: Framing, role: Panels, sequence: 1}
tasks:
  - {name: Insulate, scope: panel, depends_on: [Frame]}
`))
	require.NoError(t, err)

	_, err = seed.Apply(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown task "Frame"`)

	var count int64
	require.NoError(t, db.Model(&models.Station{}).Count(&count).Error)
	assert.Zero(t, count)
}
