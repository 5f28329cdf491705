// Package catalog loads station, task and QC catalogs (and optionally
// planned work units) from YAML seed files.
package catalog

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Teskh/production-sub000/internal/models"
)

// Seed is the YAML document.
type Seed struct {
	Stations         []StationSeed   `yaml:"stations"`
	HouseTypes       []HouseTypeSeed `yaml:"house_types"`
	PanelDefinitions []PanelSeed     `yaml:"panel_definitions"`
	Workers          []WorkerSeed    `yaml:"workers"`
	Tasks            []TaskSeed      `yaml:"tasks"`
	QC               QCSeed          `yaml:"qc"`
	Units            []UnitSeed      `yaml:"units"`
}

type StationSeed struct {
	Name     string             `yaml:"name"`
	Role     models.StationRole `yaml:"role"`
	LineType *string            `yaml:"line_type"`
	Sequence int                `yaml:"sequence"`
}

type HouseTypeSeed struct {
	Name     string   `yaml:"name"`
	Modules  int      `yaml:"modules"`
	SubTypes []string `yaml:"sub_types"`
}

// PanelSeed is keyed as "<house type>/<module>/<code>" elsewhere in the file.
type PanelSeed struct {
	HouseType string   `yaml:"house_type"`
	Module    int      `yaml:"module"`
	SubType   string   `yaml:"sub_type"`
	Code      string   `yaml:"code"`
	Group     string   `yaml:"group"`
	Tasks     []string `yaml:"tasks"`
}

// Key is how rules and units refer to the panel definition.
func (p PanelSeed) Key() string {
	return PanelKey(p.HouseType, p.Module, p.Code)
}

// PanelKey builds a panel definition reference.
func PanelKey(houseType string, module int, code string) string {
	return fmt.Sprintf("%s/%d/%s", houseType, module, code)
}

// WorkerSeed is referenced by "<first> <last>".
type WorkerSeed struct {
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Active    *bool  `yaml:"active"`
}

func (w WorkerSeed) Key() string {
	if w.LastName == "" {
		return w.FirstName
	}
	return w.FirstName + " " + w.LastName
}

type TaskSeed struct {
	Name              string           `yaml:"name"`
	Scope             models.TaskScope `yaml:"scope"`
	Active            *bool            `yaml:"active"`
	Skippable         bool             `yaml:"skippable"`
	ConcurrentAllowed bool             `yaml:"concurrent_allowed"`
	AdvanceTrigger    bool             `yaml:"advance_trigger"`
	IsRework          bool             `yaml:"is_rework"`
	StationSequence   *int             `yaml:"station_sequence"`
	DependsOn         []string         `yaml:"depends_on"`
	AllowedWorkers    []string         `yaml:"allowed_workers"`
	Applicability     []RuleSeed       `yaml:"applicability"`
}

// RuleSeed is one applicability row. Empty references are wildcards.
type RuleSeed struct {
	HouseType       string `yaml:"house_type"`
	SubType         string `yaml:"sub_type"`
	Module          *int   `yaml:"module"`
	Panel           string `yaml:"panel"`
	Applies         *bool  `yaml:"applies"`
	StationSequence *int   `yaml:"station_sequence"`
	ForceRequired   bool   `yaml:"force_required"`
}

type QCSeed struct {
	SeverityLevels []SeveritySeed `yaml:"severity_levels"`
	Checks         []CheckSeed    `yaml:"checks"`
}

type SeveritySeed struct {
	Name string `yaml:"name"`
	Rank int    `yaml:"rank"`
}

type CheckSeed struct {
	Name          string            `yaml:"name"`
	Active        *bool             `yaml:"active"`
	Guidance      string            `yaml:"guidance"`
	FailureModes  []FailureModeSeed `yaml:"failure_modes"`
	Triggers      []TriggerSeed     `yaml:"triggers"`
	Applicability []RuleSeed        `yaml:"applicability"`
}

type FailureModeSeed struct {
	Name       string `yaml:"name"`
	ReworkText string `yaml:"rework_text"`
}

type TriggerSeed struct {
	Tasks               []string `yaml:"tasks"`
	Active              *bool    `yaml:"active"`
	SamplingRate        float64  `yaml:"sampling_rate"`
	CurrentSamplingRate *float64 `yaml:"current_sampling_rate"`
	Autotune            bool     `yaml:"autotune"`
	Step                float64  `yaml:"step"`
}

// UnitSeed plans a work unit and one panel unit per listed panel code, or per
// panel definition of its module when Panels is empty.
type UnitSeed struct {
	Project   string   `yaml:"project"`
	House     string   `yaml:"house"`
	HouseType string   `yaml:"house_type"`
	SubType   string   `yaml:"sub_type"`
	Module    int      `yaml:"module"`
	Panels    []string `yaml:"panels"`
}

func (u UnitSeed) Key() string {
	return UnitKey(u.Project, u.House, u.Module)
}

// UnitKey builds a work unit reference.
func UnitKey(project, house string, module int) string {
	return fmt.Sprintf("%s/%s/%d", project, house, module)
}

// Parse decodes and validates a seed document.
func Parse(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// ParseFile reads a seed document from disk.
func ParseFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Validate checks enums and required names. References are checked by Apply.
func (s *Seed) Validate() error {
	for _, st := range s.Stations {
		if st.Name == "" {
			return fmt.Errorf("station without name")
		}
		switch st.Role {
		case models.StationRolePanels, models.StationRoleMagazine, models.StationRoleAssembly:
		default:
			return fmt.Errorf("station %q: unknown role %q", st.Name, st.Role)
		}
	}
	for _, ht := range s.HouseTypes {
		if ht.Name == "" {
			return fmt.Errorf("house type without name")
		}
	}
	for _, w := range s.Workers {
		if w.FirstName == "" {
			return fmt.Errorf("worker without first name")
		}
	}
	for _, t := range s.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task without name")
		}
		if t.Scope != models.TaskScopePanel && t.Scope != models.TaskScopeModule {
			return fmt.Errorf("task %q: unknown scope %q", t.Name, t.Scope)
		}
	}
	for _, c := range s.QC.Checks {
		if c.Name == "" {
			return fmt.Errorf("QC check without name")
		}
		for _, tr := range c.Triggers {
			if tr.SamplingRate < 0 || tr.SamplingRate > 1 {
				return fmt.Errorf("QC check %q: sampling rate %v out of range", c.Name, tr.SamplingRate)
			}
		}
	}
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
