// Package refdata loads the static reference tables (nationalities and
// name pools, injury catalog, evacuation timing, facility chains) from
// embedded YAML and serves pure, race-free lookups for the rest of the
// pipeline. A load failure is fatal to the process.
package refdata

import (
	"embed"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/bc-dunia/casgen/internal/types"
)

//go:embed data/*.yaml
var embedded embed.FS

// WeightedName is a name pool entry; a zero weight counts as 1.
type WeightedName struct {
	Name   string `yaml:"name"`
	Weight int    `yaml:"weight"`
}

// Nationality holds the demographic pools for one nationality code.
type Nationality struct {
	Code        string             `yaml:"code"`
	GenderRatio map[string]float64 `yaml:"gender_ratio"`
	GivenNames  map[string][]WeightedName `yaml:"given_names"`
	FamilyNames []WeightedName     `yaml:"family_names"`
	Ranks       []string           `yaml:"ranks"`
}

// WeightedInjury is one injury catalog entry for a warfare scenario.
type WeightedInjury struct {
	Type   string `yaml:"type"`
	Weight int    `yaml:"weight"`
	CBRN   bool   `yaml:"cbrn"`
	Minor  bool   `yaml:"minor"`
}

// TriagePrior holds the T1..T4 probabilities for an injury type.
type TriagePrior struct {
	T1 float64 `yaml:"T1"`
	T2 float64 `yaml:"T2"`
	T3 float64 `yaml:"T3"`
	T4 float64 `yaml:"T4"`
}

// Outcome holds per (triage, facility) KIA/RTD probabilities and timing.
type Outcome struct {
	KIA       float64  `yaml:"kia"`
	RTD       float64  `yaml:"rtd"`
	KIATiming Triangle `yaml:"kia_timing"`
	RTDTiming Triangle `yaml:"rtd_timing"`
}

// PreRole1 holds the explicit pre-Role-1 KIA decision parameters.
type PreRole1 struct {
	Probability float64  `yaml:"probability"`
	Timing      Triangle `yaml:"timing"`
}

type nationalitiesFile struct {
	Nationalities []Nationality `yaml:"nationalities"`
}

type injuriesFile struct {
	Scenarios map[string]struct {
		Injuries []WeightedInjury `yaml:"injuries"`
	} `yaml:"scenarios"`
	Environmental map[string][]WeightedInjury `yaml:"environmental"`
	TriagePriors  struct {
		Default   TriagePrior            `yaml:"default"`
		PerInjury map[string]TriagePrior `yaml:"per_injury"`
	} `yaml:"triage_priors"`
	BodyRegions map[string]float64 `yaml:"body_regions"`
}

type dwellEntry struct {
	Triage   string  `yaml:"triage"`
	Facility string  `yaml:"facility"`
	Min      float64 `yaml:"min"`
	Mode     float64 `yaml:"mode"`
	Max      float64 `yaml:"max"`
}

type transitEntry struct {
	Triage string  `yaml:"triage"`
	From   string  `yaml:"from"`
	To     string  `yaml:"to"`
	Min    float64 `yaml:"min"`
	Mode   float64 `yaml:"mode"`
	Max    float64 `yaml:"max"`
}

type outcomeEntry struct {
	Triage    string   `yaml:"triage"`
	Facility  string   `yaml:"facility"`
	KIA       float64  `yaml:"kia"`
	RTD       float64  `yaml:"rtd"`
	KIATiming Triangle `yaml:"kia_timing"`
	RTDTiming Triangle `yaml:"rtd_timing"`
}

type evacuationFile struct {
	PreRole1KIA     map[string]PreRole1 `yaml:"pre_role1_kia"`
	Dwell           []dwellEntry        `yaml:"dwell"`
	Transit         []transitEntry      `yaml:"transit"`
	Outcomes        []outcomeEntry      `yaml:"outcomes"`
	DeconDwell      Triangle            `yaml:"decon_dwell"`
	T3MinorRole2RTD float64             `yaml:"t3_minor_role2_rtd"`
}

type chainsFile struct {
	Chains map[string][]string `yaml:"chains"`
}

type dwellKey struct {
	triage   types.Triage
	facility types.Facility
}

type transitKey struct {
	triage types.Triage
	from   types.Facility
	to     types.Facility
}

// Provider serves read-only reference data lookups. All methods are safe
// for concurrent use after Load returns.
type Provider struct {
	nationalities map[string]*Nationality
	scenarios     map[string][]WeightedInjury
	environmental map[string][]WeightedInjury
	defaultPrior  TriagePrior
	injuryPriors  map[string]TriagePrior
	bodyRegions   map[types.BodyRegion]float64

	preRole1  map[types.Triage]PreRole1
	dwell     map[dwellKey]Triangle
	transit   map[transitKey]Triangle
	outcomes  map[dwellKey]Outcome
	decon     Triangle
	t3Role2   float64
	chains    map[string][]types.Facility
}

// Load parses the embedded reference tables.
func Load() (*Provider, error) {
	return LoadFromFS(embedded)
}

// LoadFromFS parses reference tables from an arbitrary filesystem laid
// out like the embedded data directory. Tests use it to inject corner
// cases.
func LoadFromFS(fsys fs.FS) (*Provider, error) {
	p := &Provider{
		nationalities: make(map[string]*Nationality),
		scenarios:     make(map[string][]WeightedInjury),
		environmental: make(map[string][]WeightedInjury),
		injuryPriors:  make(map[string]TriagePrior),
		bodyRegions:   make(map[types.BodyRegion]float64),
		preRole1:      make(map[types.Triage]PreRole1),
		dwell:         make(map[dwellKey]Triangle),
		transit:       make(map[transitKey]Triangle),
		outcomes:      make(map[dwellKey]Outcome),
		chains:        make(map[string][]types.Facility),
	}

	var nats nationalitiesFile
	if err := readYAML(fsys, "data/nationalities.yaml", &nats); err != nil {
		return nil, err
	}
	for i := range nats.Nationalities {
		n := &nats.Nationalities[i]
		if n.Code == "" {
			return nil, fmt.Errorf("nationality entry %d has no code", i)
		}
		p.nationalities[n.Code] = n
	}

	var inj injuriesFile
	if err := readYAML(fsys, "data/injuries.yaml", &inj); err != nil {
		return nil, err
	}
	for name, sc := range inj.Scenarios {
		if len(sc.Injuries) == 0 {
			return nil, fmt.Errorf("scenario %q has an empty injury list", name)
		}
		p.scenarios[name] = sc.Injuries
	}
	p.environmental = inj.Environmental
	p.defaultPrior = inj.TriagePriors.Default
	p.injuryPriors = inj.TriagePriors.PerInjury
	for region, w := range inj.BodyRegions {
		p.bodyRegions[types.BodyRegion(region)] = w
	}

	var evac evacuationFile
	if err := readYAML(fsys, "data/evacuation.yaml", &evac); err != nil {
		return nil, err
	}
	for triage, pr := range evac.PreRole1KIA {
		if err := pr.Timing.Validate(); err != nil {
			return nil, fmt.Errorf("pre_role1_kia %s: %w", triage, err)
		}
		p.preRole1[types.Triage(triage)] = pr
	}
	for _, d := range evac.Dwell {
		tri := Triangle{Min: d.Min, Mode: d.Mode, Max: d.Max}
		if err := tri.Validate(); err != nil {
			return nil, fmt.Errorf("dwell %s/%s: %w", d.Triage, d.Facility, err)
		}
		p.dwell[dwellKey{types.Triage(d.Triage), types.Facility(d.Facility)}] = tri
	}
	for _, t := range evac.Transit {
		tri := Triangle{Min: t.Min, Mode: t.Mode, Max: t.Max}
		if err := tri.Validate(); err != nil {
			return nil, fmt.Errorf("transit %s/%s->%s: %w", t.Triage, t.From, t.To, err)
		}
		p.transit[transitKey{types.Triage(t.Triage), types.Facility(t.From), types.Facility(t.To)}] = tri
	}
	for _, o := range evac.Outcomes {
		if err := o.KIATiming.Validate(); err != nil {
			return nil, fmt.Errorf("outcome %s/%s kia_timing: %w", o.Triage, o.Facility, err)
		}
		if err := o.RTDTiming.Validate(); err != nil {
			return nil, fmt.Errorf("outcome %s/%s rtd_timing: %w", o.Triage, o.Facility, err)
		}
		p.outcomes[dwellKey{types.Triage(o.Triage), types.Facility(o.Facility)}] = Outcome{
			KIA:       o.KIA,
			RTD:       o.RTD,
			KIATiming: o.KIATiming,
			RTDTiming: o.RTDTiming,
		}
	}
	p.decon = evac.DeconDwell
	p.t3Role2 = evac.T3MinorRole2RTD

	var ch chainsFile
	if err := readYAML(fsys, "data/chains.yaml", &ch); err != nil {
		return nil, err
	}
	for name, facilities := range ch.Chains {
		chain := make([]types.Facility, len(facilities))
		for i, f := range facilities {
			chain[i] = types.Facility(f)
		}
		p.chains[name] = chain
	}
	if _, ok := p.chains["default"]; !ok {
		return nil, fmt.Errorf("chains.yaml missing the default chain")
	}

	return p, nil
}

func readYAML(fsys fs.FS, path string, out any) error {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Nationality returns the pools for a nationality code.
func (p *Provider) Nationality(code string) (*Nationality, error) {
	n, ok := p.nationalities[code]
	if !ok {
		return nil, notFound("nationality", code)
	}
	return n, nil
}

// HasNationality reports whether a code is known (used by validation).
func (p *Provider) HasNationality(code string) bool {
	_, ok := p.nationalities[code]
	return ok
}

// Scenario returns the weighted injury catalog for a warfare scenario.
func (p *Provider) Scenario(name string) ([]WeightedInjury, error) {
	sc, ok := p.scenarios[name]
	if !ok {
		return nil, notFound("scenario", name)
	}
	return sc, nil
}

// Environmental returns extra catalog entries for an environmental
// condition flag; unknown flags yield an empty list.
func (p *Provider) Environmental(condition string) []WeightedInjury {
	return p.environmental[condition]
}

// TriagePriorFor returns the triage prior for an injury type, falling
// back to the default marginals.
func (p *Provider) TriagePriorFor(injuryType string) TriagePrior {
	if prior, ok := p.injuryPriors[injuryType]; ok {
		return prior
	}
	return p.defaultPrior
}

// BodyRegionPrior returns the body-region weights.
func (p *Provider) BodyRegionPrior() map[types.BodyRegion]float64 {
	return p.bodyRegions
}

// Dwell returns the dwell triangle for (triage, facility).
func (p *Provider) Dwell(triage types.Triage, facility types.Facility) (Triangle, error) {
	tri, ok := p.dwell[dwellKey{triage, facility}]
	if !ok {
		return Triangle{}, notFound("dwell", fmt.Sprintf("%s/%s", triage, facility))
	}
	return tri, nil
}

// Transit returns the transit triangle for (triage, from, to).
func (p *Provider) Transit(triage types.Triage, from, to types.Facility) (Triangle, error) {
	tri, ok := p.transit[transitKey{triage, from, to}]
	if !ok {
		return Triangle{}, notFound("transit", fmt.Sprintf("%s/%s->%s", triage, from, to))
	}
	return tri, nil
}

// OutcomeFor returns the KIA/RTD parameters for (triage, facility).
func (p *Provider) OutcomeFor(triage types.Triage, facility types.Facility) (Outcome, error) {
	o, ok := p.outcomes[dwellKey{triage, facility}]
	if !ok {
		return Outcome{}, notFound("outcome", fmt.Sprintf("%s/%s", triage, facility))
	}
	return o, nil
}

// PreRole1KIA returns the pre-Role-1 KIA decision parameters for a
// triage category.
func (p *Provider) PreRole1KIA(triage types.Triage) (PreRole1, error) {
	pr, ok := p.preRole1[triage]
	if !ok {
		return PreRole1{}, notFound("pre_role1_kia", string(triage))
	}
	return pr, nil
}

// DeconDwell returns the decontamination dwell inserted for CBRN
// contaminated patients.
func (p *Provider) DeconDwell() Triangle {
	return p.decon
}

// T3MinorRole2RTD returns the elevated Role-2 RTD probability applied to
// T3 patients with minor injuries.
func (p *Provider) T3MinorRole2RTD() float64 {
	return p.t3Role2
}

// Chain returns a named facility chain; empty name means default.
func (p *Provider) Chain(name string) ([]types.Facility, error) {
	if name == "" {
		name = "default"
	}
	chain, ok := p.chains[name]
	if !ok {
		return nil, notFound("chain", name)
	}
	return chain, nil
}

// HasChain reports whether a named chain exists (used by validation).
func (p *Provider) HasChain(name string) bool {
	if name == "" {
		return true
	}
	_, ok := p.chains[name]
	return ok
}

// NationalityCodes lists the known codes (order unspecified).
func (p *Provider) NationalityCodes() []string {
	codes := make([]string, 0, len(p.nationalities))
	for code := range p.nationalities {
		codes = append(codes, code)
	}
	return codes
}
