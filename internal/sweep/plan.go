// Package sweep expands stimulus sweep plans into runs and drives the
// engine through them one at a time.
package sweep

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nvandessel/connectome/internal/config"
	"github.com/nvandessel/connectome/internal/connectome"
	"gopkg.in/yaml.v3"
)

// Mode selects how targets and amplitudes combine into runs.
type Mode string

const (
	// ModeProduct runs every target alone at every amplitude and b value.
	ModeProduct Mode = config.ModeProduct
	// ModeZip stimulates all targets together, pairing their amplitude
	// lists index by index.
	ModeZip Mode = config.ModeZip
)

// DefaultName names plans that do not set one.
const DefaultName = "sweep"

var (
	// ErrInvalidPlan is returned for plans that fail validation.
	ErrInvalidPlan = errors.New("invalid sweep plan")

	// ErrDuplicateFolder is returned when two runs of a plan would share a
	// result folder.
	ErrDuplicateFolder = errors.New("duplicate result folder")
)

var validate = validator.New()

// Target is one region to stimulate.
type Target struct {
	Region string `json:"region" yaml:"region" validate:"required"`
	// Amplitudes overrides Plan.Amplitudes for this target.
	Amplitudes []float64 `json:"amplitudes,omitempty" yaml:"amplitudes,omitempty"`
}

// Plan describes a sweep.
type Plan struct {
	Name       string    `json:"name" yaml:"name" validate:"omitempty,max=100,excludesall=/\\"`
	Targets    []Target  `json:"targets" yaml:"targets" validate:"required,min=1,dive"`
	Amplitudes []float64 `json:"amplitudes,omitempty" yaml:"amplitudes,omitempty"`
	BValues    []float64 `json:"b_values" yaml:"b_values" validate:"required,min=1"`
	Mode       Mode      `json:"mode" yaml:"mode" validate:"omitempty,oneof=product zip"`
}

// Run is one engine invocation of a plan. Regions and Amplitudes are
// parallel.
type Run struct {
	Index      int       `json:"index"`
	Folder     string    `json:"folder"`
	Regions    []string  `json:"regions"`
	Amplitudes []float64 `json:"amplitudes"`
	B          float64   `json:"b"`
}

// LoadPlan reads a YAML plan file.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("reading plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("parsing plan %s: %w", path, err)
	}
	return p, nil
}

// WithDefaults fills unset fields from cfg.
func (p Plan) WithDefaults(cfg *config.Config) Plan {
	if p.Name == "" {
		p.Name = DefaultName
	}
	if p.Mode == "" {
		p.Mode = Mode(cfg.Sweep.Mode)
	}
	if len(p.BValues) == 0 {
		p.BValues = append([]float64(nil), cfg.Sweep.BValues...)
	}
	if len(p.Amplitudes) == 0 && cfg.Stimulus.DefaultAmplitude != 0 {
		p.Amplitudes = []float64{cfg.Stimulus.DefaultAmplitude}
	}
	return p
}

// Validate checks struct constraints and that every target has amplitudes.
func (p Plan) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPlan, formatValidationError(err))
	}
	for _, t := range p.Targets {
		if len(p.amplitudes(t)) == 0 {
			return fmt.Errorf("%w: target %s has no amplitudes", ErrInvalidPlan, t.Region)
		}
	}
	if p.mode() == ModeZip {
		want := len(p.amplitudes(p.Targets[0]))
		for _, t := range p.Targets[1:] {
			if n := len(p.amplitudes(t)); n != want {
				return fmt.Errorf("%w: zip mode needs equal amplitude counts, %s has %d and %s has %d",
					ErrInvalidPlan, p.Targets[0].Region, want, t.Region, n)
			}
		}
	}
	return nil
}

// Resolve checks that every target names a region of c.
func (p Plan) Resolve(c *connectome.Connectome) error {
	var missing []string
	for _, t := range p.Targets {
		if _, ok := c.Lookup(t.Region); !ok {
			missing = append(missing, t.Region)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: unknown target regions %s", connectome.ErrNotFound, strings.Join(missing, ", "))
	}
	return nil
}

// Expand lists the plan's runs in execution order.
func (p Plan) Expand() ([]Run, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var runs []Run
	switch p.mode() {
	case ModeZip:
		regions := make([]string, len(p.Targets))
		for i, t := range p.Targets {
			regions[i] = t.Region
		}
		steps := len(p.amplitudes(p.Targets[0]))
		for i := 0; i < steps; i++ {
			amps := make([]float64, len(p.Targets))
			for j, t := range p.Targets {
				amps[j] = p.amplitudes(t)[i]
			}
			for _, b := range p.BValues {
				runs = append(runs, Run{
					Folder:     zipFolder(p.Name, b, amps, regions),
					Regions:    append([]string(nil), regions...),
					Amplitudes: amps,
					B:          b,
				})
			}
		}
	default:
		for _, t := range p.Targets {
			for _, amp := range p.amplitudes(t) {
				for _, b := range p.BValues {
					runs = append(runs, Run{
						Folder:     ProductFolder(b, amp, t.Region),
						Regions:    []string{t.Region},
						Amplitudes: []float64{amp},
						B:          b,
					})
				}
			}
		}
	}

	seen := make(map[string]bool, len(runs))
	for i := range runs {
		runs[i].Index = i
		if seen[runs[i].Folder] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFolder, runs[i].Folder)
		}
		seen[runs[i].Folder] = true
	}
	return runs, nil
}

func (p Plan) mode() Mode {
	if p.Mode == "" {
		return ModeProduct
	}
	return p.Mode
}

func (p Plan) amplitudes(t Target) []float64 {
	if len(t.Amplitudes) > 0 {
		return t.Amplitudes
	}
	return p.Amplitudes
}

// ProductFolder names a single-region run: b<b>_stim<amp>_<region>.
func ProductFolder(b, amp float64, region string) string {
	return "b" + formatNumber(b) + "_stim" + formatNumber(amp) + "_" + region
}

// zipFolder names a multi-region run:
// <name>_b<b>_stim<a1>_<a2>..._<r1>_<r2>...
func zipFolder(name string, b float64, amps []float64, regions []string) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteString("_b")
	sb.WriteString(formatNumber(b))
	sb.WriteString("_stim")
	for i, a := range amps {
		if i > 0 {
			sb.WriteByte('_')
		}
		sb.WriteString(formatNumber(a))
	}
	for _, r := range regions {
		sb.WriteByte('_')
		sb.WriteString(r)
	}
	return sb.String()
}

// formatNumber uses the shortest representation that round-trips.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	e := verrs[0]
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Namespace())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", e.Namespace(), e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", e.Namespace(), e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", e.Namespace(), e.Param())
	case "excludesall":
		return fmt.Sprintf("%s must not contain path separators", e.Namespace())
	default:
		return fmt.Sprintf("%s failed %s", e.Namespace(), e.Tag())
	}
}
