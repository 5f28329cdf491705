package applicability

import (
	"testing"

	"github.com/Teskh/production-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uintPtr(v uint) *uint { return &v }
func intPtr(v int) *int    { return &v }

func TestSpecificity(t *testing.T) {
	tests := []struct {
		name     string
		rule     Rule
		expected Specificity
	}{
		{"unscoped", Rule{}, SpecificityDefault},
		{"house only", Rule{HouseTypeID: uintPtr(1)}, SpecificityHouseOnly},
		{"house with sub-type", Rule{HouseTypeID: uintPtr(1), SubTypeID: uintPtr(2)}, SpecificityHouseOnly},
		{"house and module", Rule{HouseTypeID: uintPtr(1), ModuleNumber: intPtr(2)}, SpecificityHouseModule},
		{"module only", Rule{ModuleNumber: intPtr(2)}, SpecificityHouseModule},
		{"panel", Rule{PanelDefinitionID: uintPtr(9)}, SpecificityPanel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.rule.Specificity())
		})
	}
}

func TestResolve(t *testing.T) {
	ctx := Context{HouseTypeID: 1, ModuleNumber: 2, PanelDefinitionID: uintPtr(7)}
	defaultStation := intPtr(1)

	t.Run("Should apply at the default station when no rule matches", func(t *testing.T) {
		rules := []Rule{{ID: 1, HouseTypeID: uintPtr(99), Applies: false}}

		res := Resolve(defaultStation, rules, ctx)
		assert.True(t, res.Applies)
		require.NotNil(t, res.StationSequence)
		assert.Equal(t, 1, *res.StationSequence)
		assert.Nil(t, res.Rule)
	})

	t.Run("Should prefer panel over house+module over house over default", func(t *testing.T) {
		rules := []Rule{
			{ID: 1, Applies: true, StationSequence: intPtr(10)},
			{ID: 2, HouseTypeID: uintPtr(1), Applies: true, StationSequence: intPtr(20)},
			{ID: 3, HouseTypeID: uintPtr(1), ModuleNumber: intPtr(2), Applies: true, StationSequence: intPtr(30)},
			{ID: 4, PanelDefinitionID: uintPtr(7), Applies: true, StationSequence: intPtr(40)},
		}

		res := Resolve(defaultStation, rules, ctx)
		assert.Equal(t, 40, *res.StationSequence)
		assert.Equal(t, uint(4), res.Rule.ID)

		// Remove rules from the top and check the next one wins.
		res = Resolve(defaultStation, rules[:3], ctx)
		assert.Equal(t, 30, *res.StationSequence)
		res = Resolve(defaultStation, rules[:2], ctx)
		assert.Equal(t, 20, *res.StationSequence)
		res = Resolve(defaultStation, rules[:1], ctx)
		assert.Equal(t, 10, *res.StationSequence)
	})

	t.Run("Should not depend on rule order", func(t *testing.T) {
		rules := []Rule{
			{ID: 4, PanelDefinitionID: uintPtr(7), Applies: true, StationSequence: intPtr(40)},
			{ID: 1, Applies: true, StationSequence: intPtr(10)},
			{ID: 3, HouseTypeID: uintPtr(1), ModuleNumber: intPtr(2), Applies: true},
		}
		assert.Equal(t, uint(4), Resolve(defaultStation, rules, ctx).Rule.ID)
	})

	t.Run("Should break ties on lowest rule id", func(t *testing.T) {
		rules := []Rule{
			{ID: 8, HouseTypeID: uintPtr(1), Applies: true, StationSequence: intPtr(8)},
			{ID: 5, HouseTypeID: uintPtr(1), Applies: true, StationSequence: intPtr(5)},
		}
		res := Resolve(defaultStation, rules, ctx)
		assert.Equal(t, uint(5), res.Rule.ID)
		assert.Equal(t, 5, *res.StationSequence)
	})

	t.Run("Should return no station when the winning rule excludes", func(t *testing.T) {
		rules := []Rule{
			{ID: 1, Applies: true},
			{ID: 2, PanelDefinitionID: uintPtr(7), Applies: false, StationSequence: intPtr(3)},
		}
		res := Resolve(defaultStation, rules, ctx)
		assert.False(t, res.Applies)
		assert.Nil(t, res.StationSequence)
	})

	t.Run("Should fall back to the default station when the rule has no override", func(t *testing.T) {
		rules := []Rule{{ID: 1, HouseTypeID: uintPtr(1), Applies: true}}
		res := Resolve(defaultStation, rules, ctx)
		assert.True(t, res.Applies)
		assert.Equal(t, 1, *res.StationSequence)
	})

	t.Run("Should treat nil rule fields as wildcards but require context values", func(t *testing.T) {
		noPanel := Context{HouseTypeID: 1, ModuleNumber: 2}
		rules := []Rule{{ID: 1, PanelDefinitionID: uintPtr(7), Applies: false}}
		assert.True(t, Resolve(defaultStation, rules, noPanel).Applies)

		subTyped := []Rule{{ID: 2, SubTypeID: uintPtr(3), Applies: false}}
		assert.True(t, Resolve(defaultStation, subTyped, ctx).Applies)
		withSub := ctx
		withSub.SubTypeID = uintPtr(3)
		assert.False(t, Resolve(defaultStation, subTyped, withSub).Applies)
	})

	t.Run("Should be deterministic", func(t *testing.T) {
		rules := []Rule{
			{ID: 3, HouseTypeID: uintPtr(1), Applies: true, StationSequence: intPtr(2)},
			{ID: 2, HouseTypeID: uintPtr(1), Applies: true, StationSequence: intPtr(4)},
			{ID: 1, ModuleNumber: intPtr(2), Applies: true, StationSequence: intPtr(6)},
		}
		first := Resolve(defaultStation, rules, ctx)
		for i := 0; i < 20; i++ {
			assert.Equal(t, first, Resolve(defaultStation, rules, ctx))
		}
	})

	t.Run("Should not alias the caller's default station", func(t *testing.T) {
		def := intPtr(1)
		res := Resolve(def, nil, ctx)
		*res.StationSequence = 99
		assert.Equal(t, 1, *def)
	})
}

func TestResolveModels(t *testing.T) {
	task := models.TaskDefinition{ID: 5, DefaultStationSequence: intPtr(2)}
	rows := []models.TaskApplicability{
		{ID: 1, TaskDefinitionID: 5, HouseTypeID: uintPtr(1), Applies: true, StationSequenceOrder: intPtr(3)},
		{ID: 2, TaskDefinitionID: 6, PanelDefinitionID: uintPtr(7), Applies: false},
	}
	unit := models.WorkUnit{HouseTypeID: 1, ModuleNumber: 1}

	res := ResolveTask(task, rows, ContextFor(unit, uintPtr(7)))
	assert.True(t, res.Applies, "rows for other tasks must be ignored")
	assert.Equal(t, 3, *res.StationSequence)

	qcRows := []models.QCApplicability{
		{ID: 1, CheckDefinitionID: 2, HouseTypeID: uintPtr(1), Applies: true, ForceRequired: true},
	}
	qcRes := ResolveCheck(2, qcRows, ContextFor(unit, nil))
	assert.True(t, qcRes.Applies)
	assert.True(t, qcRes.ForceRequired)
	assert.Nil(t, qcRes.StationSequence)

	none := ResolveCheck(3, qcRows, ContextFor(unit, nil))
	assert.True(t, none.Applies)
	assert.False(t, none.ForceRequired)
}
