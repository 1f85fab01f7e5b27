// Package injury assigns injury type, triage category and body region
// from distributions gated by the warfare scenario. Unknown scenarios
// fall back to the conventional-trauma catalog.
package injury

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/bc-dunia/casgen/internal/refdata"
	"github.com/bc-dunia/casgen/internal/types"
)

const fallbackScenario = "conventional"

// Assignment is the sampled injury profile for one patient. CBRN and
// Minor gate flow-simulator behavior (decon dwell, elevated Role-2 RTD).
type Assignment struct {
	Type       string
	Triage     types.Triage
	Expectant  bool
	BodyRegion types.BodyRegion
	CBRN       bool
	Minor      bool
}

type Assigner struct {
	ref *refdata.Provider
}

func NewAssigner(ref *refdata.Provider) *Assigner {
	return &Assigner{ref: ref}
}

// Assign samples an injury profile for the given scenario.
// Environmental condition flags append their catalog entries; injuryMix
// overrides reweight named injury types before the draw.
func (a *Assigner) Assign(rng *rand.Rand, scenario string, environmental []string, injuryMix map[string]float64) (Assignment, error) {
	catalog, err := a.ref.Scenario(scenario)
	if err != nil {
		catalog, err = a.ref.Scenario(fallbackScenario)
		if err != nil {
			return Assignment{}, err
		}
	}

	// Copy before applying per-job overlays; the provider's slice is
	// shared read-only data.
	entries := append([]refdata.WeightedInjury(nil), catalog...)
	for _, condition := range environmental {
		entries = append(entries, a.ref.Environmental(condition)...)
	}
	weights := make([]float64, len(entries))
	for i := range entries {
		weights[i] = float64(entries[i].Weight)
	}
	applyMix(entries, weights, injuryMix)

	picked, err := drawInjury(rng, entries, weights)
	if err != nil {
		return Assignment{}, err
	}

	triage, expectant := sampleTriage(rng, a.ref.TriagePriorFor(picked.Type))
	region := sampleRegion(rng, a.ref.BodyRegionPrior())

	return Assignment{
		Type:       picked.Type,
		Triage:     triage,
		Expectant:  expectant,
		BodyRegion: region,
		CBRN:       picked.CBRN,
		Minor:      picked.Minor,
	}, nil
}

// applyMix replaces the weights of named injury types. An override is a
// relative share against the untouched entries on the catalog's percent
// scale; any positive value, however small, stays in the draw.
func applyMix(entries []refdata.WeightedInjury, weights []float64, mix map[string]float64) {
	if len(mix) == 0 {
		return
	}
	for i := range entries {
		if w, ok := mix[entries[i].Type]; ok {
			weights[i] = w * 100
		}
	}
}

func drawInjury(rng *rand.Rand, entries []refdata.WeightedInjury, weights []float64) (refdata.WeightedInjury, error) {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return refdata.WeightedInjury{}, fmt.Errorf("injury catalog has no positive weights")
	}
	r := rng.Float64() * total
	cumulative := 0.0
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cumulative += w
		last = i
		if r < cumulative {
			return entries[i], nil
		}
	}
	return entries[last], nil
}

// sampleTriage draws T1..T4 from the prior. T4 (expectant) collapses to
// T1 for timeline purposes and is tagged.
func sampleTriage(rng *rand.Rand, prior refdata.TriagePrior) (types.Triage, bool) {
	total := prior.T1 + prior.T2 + prior.T3 + prior.T4
	if total <= 0 {
		return types.TriageT3, false
	}
	r := rng.Float64() * total
	switch {
	case r < prior.T1:
		return types.TriageT1, false
	case r < prior.T1+prior.T2:
		return types.TriageT2, false
	case r < prior.T1+prior.T2+prior.T3:
		return types.TriageT3, false
	default:
		return types.TriageT1, true
	}
}

func sampleRegion(rng *rand.Rand, prior map[types.BodyRegion]float64) types.BodyRegion {
	regions := make([]types.BodyRegion, 0, len(prior))
	for region := range prior {
		regions = append(regions, region)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i] < regions[j] })

	total := 0.0
	for _, region := range regions {
		total += prior[region]
	}
	if total <= 0 {
		return types.RegionExtremity
	}
	r := rng.Float64() * total
	cumulative := 0.0
	for _, region := range regions {
		cumulative += prior[region]
		if r < cumulative {
			return region
		}
	}
	return regions[len(regions)-1]
}
