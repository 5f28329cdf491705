// Package applicability decides whether a task or QC check template applies
// to a manufacturing context and at which station sequence.
package applicability

import (
	"sort"

	"github.com/Teskh/production-sub000/internal/models"
)

// Specificity ranks rule scopes. Higher values win.
type Specificity int

const (
	SpecificityDefault Specificity = iota
	SpecificityHouseOnly
	SpecificityHouseModule
	SpecificityPanel
)

func (s Specificity) String() string {
	switch s {
	case SpecificityPanel:
		return "panel"
	case SpecificityHouseModule:
		return "house+module"
	case SpecificityHouseOnly:
		return "house"
	default:
		return "default"
	}
}

// Context is the unit being asked about.
type Context struct {
	HouseTypeID       uint
	SubTypeID         *uint
	ModuleNumber      int
	PanelDefinitionID *uint
}

// Rule is a scoping override. Nil fields match anything.
type Rule struct {
	ID                uint
	HouseTypeID       *uint
	SubTypeID         *uint
	ModuleNumber      *int
	PanelDefinitionID *uint
	Applies           bool
	StationSequence   *int
	ForceRequired     bool
}

// Result is the resolver's answer. Rule is nil when no rule matched.
type Result struct {
	Applies         bool
	StationSequence *int
	ForceRequired   bool
	Rule            *Rule
}

// Specificity classifies the rule by its most specific populated field.
func (r Rule) Specificity() Specificity {
	switch {
	case r.PanelDefinitionID != nil:
		return SpecificityPanel
	case r.ModuleNumber != nil:
		return SpecificityHouseModule
	case r.HouseTypeID != nil:
		return SpecificityHouseOnly
	default:
		return SpecificityDefault
	}
}

// Matches reports whether every non-nil field equals the context.
func (r Rule) Matches(ctx Context) bool {
	if r.HouseTypeID != nil && *r.HouseTypeID != ctx.HouseTypeID {
		return false
	}
	if r.SubTypeID != nil && (ctx.SubTypeID == nil || *r.SubTypeID != *ctx.SubTypeID) {
		return false
	}
	if r.ModuleNumber != nil && *r.ModuleNumber != ctx.ModuleNumber {
		return false
	}
	if r.PanelDefinitionID != nil && (ctx.PanelDefinitionID == nil || *r.PanelDefinitionID != *ctx.PanelDefinitionID) {
		return false
	}
	return true
}

// Less orders a before b when a takes precedence.
func Less(a, b Rule) bool {
	sa, sb := a.Specificity(), b.Specificity()
	if sa != sb {
		return sa > sb
	}
	return a.ID < b.ID
}

// Select returns the winning rule among those matching ctx.
func Select(rules []Rule, ctx Context) (Rule, bool) {
	matches := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Matches(ctx) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return Rule{}, false
	}
	sort.SliceStable(matches, func(i, j int) bool { return Less(matches[i], matches[j]) })
	return matches[0], true
}

// Resolve applies the rules to ctx. defaultStation is the template's default
// station sequence.
func Resolve(defaultStation *int, rules []Rule, ctx Context) Result {
	rule, ok := Select(rules, ctx)
	if !ok {
		return Result{Applies: true, StationSequence: copyInt(defaultStation)}
	}
	if !rule.Applies {
		return Result{Applies: false, Rule: &rule}
	}
	station := rule.StationSequence
	if station == nil {
		station = defaultStation
	}
	return Result{
		Applies:         true,
		StationSequence: copyInt(station),
		ForceRequired:   rule.ForceRequired,
		Rule:            &rule,
	}
}

// ResolveTask resolves a task definition against its applicability rows.
func ResolveTask(task models.TaskDefinition, rows []models.TaskApplicability, ctx Context) Result {
	rules := make([]Rule, 0, len(rows))
	for _, row := range rows {
		if row.TaskDefinitionID != task.ID {
			continue
		}
		rules = append(rules, FromTaskApplicability(row))
	}
	return Resolve(task.DefaultStationSequence, rules, ctx)
}

// ResolveCheck resolves a QC check definition. Checks have no station.
func ResolveCheck(checkID uint, rows []models.QCApplicability, ctx Context) Result {
	rules := make([]Rule, 0, len(rows))
	for _, row := range rows {
		if row.CheckDefinitionID != checkID {
			continue
		}
		rules = append(rules, FromQCApplicability(row))
	}
	return Resolve(nil, rules, ctx)
}

func FromTaskApplicability(row models.TaskApplicability) Rule {
	return Rule{
		ID:                row.ID,
		HouseTypeID:       row.HouseTypeID,
		SubTypeID:         row.SubTypeID,
		ModuleNumber:      row.ModuleNumber,
		PanelDefinitionID: row.PanelDefinitionID,
		Applies:           row.Applies,
		StationSequence:   row.StationSequenceOrder,
	}
}

func FromQCApplicability(row models.QCApplicability) Rule {
	return Rule{
		ID:                row.ID,
		HouseTypeID:       row.HouseTypeID,
		SubTypeID:         row.SubTypeID,
		ModuleNumber:      row.ModuleNumber,
		PanelDefinitionID: row.PanelDefinitionID,
		Applies:           row.Applies,
		ForceRequired:     row.ForceRequired,
	}
}

// ContextFor builds the context of a work unit, optionally narrowed to one
// of its panels.
func ContextFor(unit models.WorkUnit, panelDefinitionID *uint) Context {
	return Context{
		HouseTypeID:       unit.HouseTypeID,
		SubTypeID:         unit.SubTypeID,
		ModuleNumber:      unit.ModuleNumber,
		PanelDefinitionID: panelDefinitionID,
	}
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
