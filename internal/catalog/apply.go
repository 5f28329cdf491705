package catalog

import (
	"context"
	"fmt"
	"log"

	"github.com/Teskh/production-sub000/internal/models"

	"gorm.io/gorm"
)

// Index maps seed names to the ids Apply assigned.
type Index struct {
	Stations     map[string]uint   `json:"stations"`
	HouseTypes   map[string]uint   `json:"house_types"`
	SubTypes     map[string]uint   `json:"sub_types"` // "<house type>/<sub type>"
	Panels       map[string]uint   `json:"panels"`    // PanelKey
	Workers      map[string]uint   `json:"workers"`   // WorkerSeed.Key
	Tasks        map[string]uint   `json:"tasks"`
	Checks       map[string]uint   `json:"checks"`
	Triggers     map[string][]uint `json:"triggers"`      // by check name
	FailureModes map[string]uint   `json:"failure_modes"` // "<check>/<mode>"
	Severities   map[string]uint   `json:"severities"`
	Units        map[string]uint   `json:"units"`       // UnitKey
	PanelUnits   map[string]uint   `json:"panel_units"` // "<UnitKey>/<panel code>"
}

func newIndex() *Index {
	return &Index{
		Stations:     map[string]uint{},
		HouseTypes:   map[string]uint{},
		SubTypes:     map[string]uint{},
		Panels:       map[string]uint{},
		Workers:      map[string]uint{},
		Tasks:        map[string]uint{},
		Checks:       map[string]uint{},
		Triggers:     map[string][]uint{},
		FailureModes: map[string]uint{},
		Severities:   map[string]uint{},
		Units:        map[string]uint{},
		PanelUnits:   map[string]uint{},
	}
}

// Apply inserts the seed in one transaction.
func (s *Seed) Apply(ctx context.Context, db *gorm.DB) (*Index, error) {
	ix := newIndex()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		steps := []func(*gorm.DB, *Index) error{
			s.applyStations,
			s.applyHouseTypes,
			s.applyWorkers,
			s.applyTasks,
			s.applyPanels,
			s.applyTaskRules,
			s.applyQC,
			s.applyUnits,
		}
		for _, step := range steps {
			if err := step(tx, ix); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Catalog applied: %d stations, %d tasks, %d QC checks, %d work units",
		len(ix.Stations), len(ix.Tasks), len(ix.Checks), len(ix.Units))
	return ix, nil
}

func (s *Seed) applyStations(tx *gorm.DB, ix *Index) error {
	for _, st := range s.Stations {
		row := models.Station{
			Name:          st.Name,
			Role:          st.Role,
			LineType:      st.LineType,
			SequenceOrder: st.Sequence,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create station %q: %w", st.Name, err)
		}
		ix.Stations[st.Name] = row.ID
	}
	return nil
}

func (s *Seed) applyHouseTypes(tx *gorm.DB, ix *Index) error {
	for _, ht := range s.HouseTypes {
		row := models.HouseType{Name: ht.Name, NumberOfModules: ht.Modules}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create house type %q: %w", ht.Name, err)
		}
		ix.HouseTypes[ht.Name] = row.ID

		for _, name := range ht.SubTypes {
			sub := models.HouseSubType{HouseTypeID: row.ID, Name: name}
			if err := tx.Create(&sub).Error; err != nil {
				return fmt.Errorf("failed to create sub-type %q: %w", name, err)
			}
			ix.SubTypes[ht.Name+"/"+name] = sub.ID
		}
	}
	return nil
}

func (s *Seed) applyWorkers(tx *gorm.DB, ix *Index) error {
	for _, w := range s.Workers {
		row := models.Worker{
			FirstName: w.FirstName,
			LastName:  w.LastName,
			Active:    boolOr(w.Active, true),
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create worker %q: %w", w.Key(), err)
		}
		ix.Workers[w.Key()] = row.ID
	}
	return nil
}

func (s *Seed) applyTasks(tx *gorm.DB, ix *Index) error {
	for _, t := range s.Tasks {
		row := models.TaskDefinition{
			Name:                   t.Name,
			Scope:                  t.Scope,
			Active:                 boolOr(t.Active, true),
			Skippable:              t.Skippable,
			ConcurrentAllowed:      t.ConcurrentAllowed,
			AdvanceTrigger:         t.AdvanceTrigger,
			IsRework:               t.IsRework,
			DefaultStationSequence: t.StationSequence,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create task %q: %w", t.Name, err)
		}
		ix.Tasks[t.Name] = row.ID
	}

	// Dependencies and allow-lists may point forward in the file.
	for _, t := range s.Tasks {
		id := ix.Tasks[t.Name]
		if len(t.DependsOn) > 0 {
			deps, err := lookupAll(ix.Tasks, "task", t.DependsOn)
			if err != nil {
				return fmt.Errorf("task %q: %w", t.Name, err)
			}
			err = tx.Model(&models.TaskDefinition{}).Where("id = ?", id).
				Update("dependencies_json", models.EncodeIDList(deps)).Error
			if err != nil {
				return fmt.Errorf("failed to set dependencies of %q: %w", t.Name, err)
			}
		}
		for _, name := range t.AllowedWorkers {
			workerID, err := lookup(ix.Workers, "worker", name)
			if err != nil {
				return fmt.Errorf("task %q: %w", t.Name, err)
			}
			row := models.TaskWorkerRestriction{TaskDefinitionID: id, WorkerID: workerID}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to restrict task %q: %w", t.Name, err)
			}
		}
	}
	return nil
}

func (s *Seed) applyPanels(tx *gorm.DB, ix *Index) error {
	for _, p := range s.PanelDefinitions {
		houseID, err := lookup(ix.HouseTypes, "house type", p.HouseType)
		if err != nil {
			return fmt.Errorf("panel %q: %w", p.Key(), err)
		}
		row := models.PanelDefinition{
			HouseTypeID:          houseID,
			ModuleSequenceNumber: p.Module,
			PanelCode:            p.Code,
			GroupName:            p.Group,
		}
		if p.SubType != "" {
			subID, err := lookup(ix.SubTypes, "sub-type", p.HouseType+"/"+p.SubType)
			if err != nil {
				return fmt.Errorf("panel %q: %w", p.Key(), err)
			}
			row.SubTypeID = &subID
		}
		if p.Tasks != nil {
			ids, err := lookupAll(ix.Tasks, "task", p.Tasks)
			if err != nil {
				return fmt.Errorf("panel %q: %w", p.Key(), err)
			}
			row.ApplicableTaskIDs = models.EncodeIDList(ids)
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create panel %q: %w", p.Key(), err)
		}
		ix.Panels[p.Key()] = row.ID
	}
	return nil
}

// ruleScope resolves the references of one applicability row.
type ruleScope struct {
	houseTypeID *uint
	subTypeID   *uint
	module      *int
	panelID     *uint
}

func (ix *Index) resolveRule(r RuleSeed) (ruleScope, error) {
	var out ruleScope
	if r.HouseType != "" {
		id, err := lookup(ix.HouseTypes, "house type", r.HouseType)
		if err != nil {
			return out, err
		}
		out.houseTypeID = &id
	}
	if r.SubType != "" {
		id, err := lookup(ix.SubTypes, "sub-type", r.HouseType+"/"+r.SubType)
		if err != nil {
			return out, err
		}
		out.subTypeID = &id
	}
	if r.Panel != "" {
		id, err := lookup(ix.Panels, "panel", r.Panel)
		if err != nil {
			return out, err
		}
		out.panelID = &id
	}
	out.module = r.Module
	return out, nil
}

func (s *Seed) applyTaskRules(tx *gorm.DB, ix *Index) error {
	for _, t := range s.Tasks {
		for _, r := range t.Applicability {
			scope, err := ix.resolveRule(r)
			if err != nil {
				return fmt.Errorf("task %q rule: %w", t.Name, err)
			}
			row := models.TaskApplicability{
				TaskDefinitionID:     ix.Tasks[t.Name],
				HouseTypeID:          scope.houseTypeID,
				SubTypeID:            scope.subTypeID,
				ModuleNumber:         scope.module,
				PanelDefinitionID:    scope.panelID,
				Applies:              boolOr(r.Applies, true),
				StationSequenceOrder: r.StationSequence,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create rule for task %q: %w", t.Name, err)
			}
		}
	}
	return nil
}

func (s *Seed) applyQC(tx *gorm.DB, ix *Index) error {
	for _, sev := range s.QC.SeverityLevels {
		row := models.QCSeverityLevel{Name: sev.Name, Rank: sev.Rank}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create severity %q: %w", sev.Name, err)
		}
		ix.Severities[sev.Name] = row.ID
	}

	for _, c := range s.QC.Checks {
		check := models.QCCheckDefinition{
			Name:     c.Name,
			Active:   boolOr(c.Active, true),
			Guidance: c.Guidance,
		}
		if err := tx.Create(&check).Error; err != nil {
			return fmt.Errorf("failed to create QC check %q: %w", c.Name, err)
		}
		ix.Checks[c.Name] = check.ID

		for _, fm := range c.FailureModes {
			row := models.QCFailureMode{
				CheckDefinitionID: &check.ID,
				Name:              fm.Name,
				DefaultReworkText: fm.ReworkText,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create failure mode %q: %w", fm.Name, err)
			}
			ix.FailureModes[c.Name+"/"+fm.Name] = row.ID
		}

		for _, tr := range c.Triggers {
			row := models.QCTrigger{
				CheckDefinitionID:   check.ID,
				EventType:           models.QCEventTaskCompleted,
				Active:              boolOr(tr.Active, true),
				SamplingRate:        tr.SamplingRate,
				CurrentSamplingRate: tr.CurrentSamplingRate,
				SamplingAutotune:    tr.Autotune,
				SamplingStep:        tr.Step,
			}
			if len(tr.Tasks) > 0 {
				ids, err := lookupAll(ix.Tasks, "task", tr.Tasks)
				if err != nil {
					return fmt.Errorf("QC check %q trigger: %w", c.Name, err)
				}
				row.TaskIDs = models.EncodeIDList(ids)
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create trigger for %q: %w", c.Name, err)
			}
			ix.Triggers[c.Name] = append(ix.Triggers[c.Name], row.ID)
		}

		for _, r := range c.Applicability {
			scope, err := ix.resolveRule(r)
			if err != nil {
				return fmt.Errorf("QC check %q rule: %w", c.Name, err)
			}
			row := models.QCApplicability{
				CheckDefinitionID: check.ID,
				HouseTypeID:       scope.houseTypeID,
				SubTypeID:         scope.subTypeID,
				ModuleNumber:      scope.module,
				PanelDefinitionID: scope.panelID,
				Applies:           boolOr(r.Applies, true),
				ForceRequired:     r.ForceRequired,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create rule for QC check %q: %w", c.Name, err)
			}
		}
	}
	return nil
}

func (s *Seed) applyUnits(tx *gorm.DB, ix *Index) error {
	for _, u := range s.Units {
		houseID, err := lookup(ix.HouseTypes, "house type", u.HouseType)
		if err != nil {
			return fmt.Errorf("unit %q: %w", u.Key(), err)
		}
		unit := models.WorkUnit{
			ProjectName:     u.Project,
			HouseIdentifier: u.House,
			HouseTypeID:     houseID,
			ModuleNumber:    u.Module,
			Status:          models.ModuleStatusPlanned,
		}
		if u.SubType != "" {
			subID, err := lookup(ix.SubTypes, "sub-type", u.HouseType+"/"+u.SubType)
			if err != nil {
				return fmt.Errorf("unit %q: %w", u.Key(), err)
			}
			unit.SubTypeID = &subID
		}
		if err := tx.Create(&unit).Error; err != nil {
			return fmt.Errorf("failed to create unit %q: %w", u.Key(), err)
		}
		ix.Units[u.Key()] = unit.ID

		codes := u.Panels
		if len(codes) == 0 {
			for _, p := range s.PanelDefinitions {
				if p.HouseType != u.HouseType || p.Module != u.Module {
					continue
				}
				if p.SubType != "" && p.SubType != u.SubType {
					continue
				}
				codes = append(codes, p.Code)
			}
		}
		for _, code := range codes {
			defID, err := lookup(ix.Panels, "panel", PanelKey(u.HouseType, u.Module, code))
			if err != nil {
				return fmt.Errorf("unit %q: %w", u.Key(), err)
			}
			panel := models.PanelUnit{
				WorkUnitID:        unit.ID,
				PanelDefinitionID: defID,
				Status:            models.PanelStatusPlanned,
			}
			if err := tx.Create(&panel).Error; err != nil {
				return fmt.Errorf("failed to create panel unit %q: %w", code, err)
			}
			ix.PanelUnits[u.Key()+"/"+code] = panel.ID
		}
	}
	return nil
}

func lookup(m map[string]uint, kind, name string) (uint, error) {
	id, ok := m[name]
	if !ok {
		return 0, fmt.Errorf("unknown %s %q", kind, name)
	}
	return id, nil
}

func lookupAll(m map[string]uint, kind string, names []string) ([]uint, error) {
	ids := make([]uint, 0, len(names))
	for _, name := range names {
		id, err := lookup(m, kind, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
