package advancement

import (
	"fmt"

	"github.com/Teskh/production-sub000/internal/apperr"
	"github.com/Teskh/production-sub000/internal/models"
	"github.com/Teskh/production-sub000/internal/services/applicability"

	"gorm.io/gorm"
)

// plan is the active catalog of one task scope resolved for one context.
type plan struct {
	defs  []models.TaskDefinition
	rules map[uint][]models.TaskApplicability
	ctx   applicability.Context
	only  map[uint]bool
}

func loadPlan(tx *gorm.DB, scope models.TaskScope, ctx applicability.Context) (*plan, error) {
	var defs []models.TaskDefinition
	err := tx.Where("scope = ? AND active = ? AND is_rework = ?", scope, true, false).
		Order("id ASC").
		Find(&defs).Error
	if err != nil {
		return nil, apperr.FromDB("failed to load task definitions", err)
	}

	ids := make([]uint, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
	}

	var rows []models.TaskApplicability
	if len(ids) > 0 {
		if err := tx.Where("task_definition_id IN ?", ids).Find(&rows).Error; err != nil {
			return nil, apperr.FromDB("failed to load task applicability", err)
		}
	}

	p := &plan{
		defs:  defs,
		rules: make(map[uint][]models.TaskApplicability, len(defs)),
		ctx:   ctx,
	}
	for _, row := range rows {
		p.rules[row.TaskDefinitionID] = append(p.rules[row.TaskDefinitionID], row)
	}
	return p, nil
}

// restrict limits the plan to the panel definition's configured task list.
func (p *plan) restrict(def models.PanelDefinition) error {
	ids, ok, err := def.ApplicableTasks()
	if err != nil {
		return fmt.Errorf("failed to read task list of panel definition %d: %w", def.ID, err)
	}
	if !ok {
		return nil
	}
	p.only = make(map[uint]bool, len(ids))
	for _, id := range ids {
		p.only[id] = true
	}
	return nil
}

// requiredAt returns the tasks placed at the station sequence, in id order.
func (p *plan) requiredAt(sequence int) []uint {
	var out []uint
	for _, def := range p.defs {
		if p.only != nil && !p.only[def.ID] {
			continue
		}
		res := applicability.ResolveTask(def, p.rules[def.ID], p.ctx)
		if !res.Applies || res.StationSequence == nil {
			continue
		}
		if *res.StationSequence == sequence {
			out = append(out, def.ID)
		}
	}
	return out
}
