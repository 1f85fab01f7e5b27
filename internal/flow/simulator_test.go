package flow

import (
	"math"
	"math/rand"
	"testing"
	"testing/fstest"
	"time"

	"github.com/bc-dunia/casgen/internal/injury"
	"github.com/bc-dunia/casgen/internal/refdata"
	"github.com/bc-dunia/casgen/internal/types"
)

func newTestSimulator(t *testing.T) (*Simulator, *refdata.Provider) {
	t.Helper()
	ref, err := refdata.Load()
	if err != nil {
		t.Fatalf("refdata.Load: %v", err)
	}
	return NewSimulator(ref), ref
}

func testPatient(id int, triage types.Triage) *types.Patient {
	return &types.Patient{
		ID:              id,
		Triage:          triage,
		InjuryType:      "gunshot_wound",
		InjuryTimestamp: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func defaultChain(t *testing.T, ref *refdata.Provider) []types.Facility {
	t.Helper()
	chain, err := ref.Chain("default")
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	return chain
}

func TestSimulateTimelineInvariants(t *testing.T) {
	sim, ref := newTestSimulator(t)
	chain := defaultChain(t, ref)
	rng := rand.New(rand.NewSource(71))

	for id := 1; id <= 500; id++ {
		triage := []types.Triage{types.TriageT1, types.TriageT2, types.TriageT3}[id%3]
		p := testPatient(id, triage)
		if err := sim.Simulate(rng, p, chain, injury.Assignment{Triage: triage}); err != nil {
			t.Fatalf("Simulate(%d): %v", id, err)
		}

		if len(p.Timeline) == 0 {
			t.Fatalf("patient %d: empty timeline", id)
		}
		first := p.Timeline[0]
		if first.Type != types.EventArrival || first.Facility != types.FacilityPOI || first.HoursSinceInjury != 0 {
			t.Fatalf("patient %d: first event must be POI arrival at hour 0, got %+v", id, first)
		}

		prev := -1.0
		for j, ev := range p.Timeline {
			if ev.HoursSinceInjury < prev {
				t.Fatalf("patient %d event %d: hours went backwards (%f < %f)", id, j, ev.HoursSinceInjury, prev)
			}
			prev = ev.HoursSinceInjury

			// Hours rounded to one decimal.
			if r := math.Round(ev.HoursSinceInjury*10) / 10; r != ev.HoursSinceInjury {
				t.Fatalf("patient %d event %d: hours %f not rounded", id, j, ev.HoursSinceInjury)
			}
			// Timestamp derives from the rounded hours at second precision.
			wantSecs := int64(math.Round(ev.HoursSinceInjury * 3600))
			want := p.InjuryTimestamp.Add(time.Duration(wantSecs) * time.Second)
			if !ev.Timestamp.Equal(want) {
				t.Fatalf("patient %d event %d: timestamp %s does not match hours %f", id, j, ev.Timestamp, ev.HoursSinceInjury)
			}
		}

		terminal := p.TerminalEvent()
		switch p.FinalStatus {
		case types.StatusKIA:
			if terminal.Type != types.EventKIA {
				t.Fatalf("patient %d: KIA status with terminal event %s", id, terminal.Type)
			}
		case types.StatusRTD:
			if terminal.Type != types.EventRTD {
				t.Fatalf("patient %d: RTD status with terminal event %s", id, terminal.Type)
			}
		case types.StatusRemains:
			if terminal.Type != types.EventRemains {
				t.Fatalf("patient %d: remains status with terminal event %s", id, terminal.Type)
			}
			if p.LastFacility != chain[len(chain)-1] {
				t.Fatalf("patient %d: remains at %s, want %s", id, p.LastFacility, chain[len(chain)-1])
			}
		default:
			t.Fatalf("patient %d: missing final status", id)
		}
		if terminal.Facility != p.LastFacility {
			t.Fatalf("patient %d: terminal facility %s != last facility %s", id, terminal.Facility, p.LastFacility)
		}
	}
}

func TestSimulateRejectsBadChain(t *testing.T) {
	sim, _ := newTestSimulator(t)
	rng := rand.New(rand.NewSource(1))

	p := testPatient(1, types.TriageT2)
	err := sim.Simulate(rng, p, []types.Facility{types.FacilityRole1, types.FacilityRole2}, injury.Assignment{Triage: types.TriageT2})
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error for non-POI chain, got %v", err)
	}

	err = sim.Simulate(rng, p, []types.Facility{types.FacilityPOI}, injury.Assignment{Triage: types.TriageT2})
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error for single-tier chain, got %v", err)
	}
}

// cornerEvacuation builds a reference set where every T1 dies before
// Role 1, isolating the explicit pre-Role-1 decision.
const cornerEvacuation = `
pre_role1_kia:
  T1: {probability: 1.0, timing: {min: 0.1, mode: 0.2, max: 0.5}}
  T2: {probability: 0.0, timing: {min: 0.1, mode: 0.2, max: 0.5}}
  T3: {probability: 0.0, timing: {min: 0.1, mode: 0.2, max: 0.5}}
dwell:
  - {triage: T1, facility: POI, min: 0.1, mode: 0.2, max: 0.5}
  - {triage: T2, facility: POI, min: 0.1, mode: 0.2, max: 0.5}
  - {triage: T3, facility: POI, min: 0.1, mode: 0.2, max: 0.5}
  - {triage: T1, facility: Role1, min: 0.1, mode: 0.2, max: 0.5}
  - {triage: T2, facility: Role1, min: 0.1, mode: 0.2, max: 0.5}
  - {triage: T3, facility: Role1, min: 0.1, mode: 0.2, max: 0.5}
transit:
  - {triage: T1, from: POI, to: Role1, min: 0.1, mode: 0.2, max: 0.5}
  - {triage: T2, from: POI, to: Role1, min: 0.1, mode: 0.2, max: 0.5}
  - {triage: T3, from: POI, to: Role1, min: 0.1, mode: 0.2, max: 0.5}
outcomes:
  - triage: T1
    facility: Role1
    kia: 0.0
    rtd: 1.0
    kia_timing: {min: 0.1, mode: 0.2, max: 0.5}
    rtd_timing: {min: 0.1, mode: 0.2, max: 0.5}
  - triage: T2
    facility: Role1
    kia: 0.0
    rtd: 1.0
    kia_timing: {min: 0.1, mode: 0.2, max: 0.5}
    rtd_timing: {min: 0.1, mode: 0.2, max: 0.5}
  - triage: T3
    facility: Role1
    kia: 0.0
    rtd: 1.0
    kia_timing: {min: 0.1, mode: 0.2, max: 0.5}
    rtd_timing: {min: 0.1, mode: 0.2, max: 0.5}
decon_dwell: {min: 0.3, mode: 0.6, max: 1.2}
t3_minor_role2_rtd: 0.65
`

const cornerNationalities = `
nationalities:
  - code: USA
    gender_ratio: {male: 0.9, female: 0.1}
    given_names:
      male: [{name: John, weight: 1}]
      female: [{name: Jane, weight: 1}]
    family_names: [{name: Smith, weight: 1}]
    ranks: [PVT, SGT]
`

const cornerInjuries = `
scenarios:
  conventional:
    injuries:
      - {type: gunshot_wound, weight: 1}
triage_priors:
  default: {T1: 0.25, T2: 0.25, T3: 0.45, T4: 0.05}
body_regions: {extremity: 0.6, junctional: 0.15, central: 0.25}
`

const cornerChains = `
chains:
  default: [POI, Role1]
`

func cornerProvider(t *testing.T) *refdata.Provider {
	t.Helper()
	fsys := fstest.MapFS{
		"data/nationalities.yaml": {Data: []byte(cornerNationalities)},
		"data/injuries.yaml":      {Data: []byte(cornerInjuries)},
		"data/evacuation.yaml":    {Data: []byte(cornerEvacuation)},
		"data/chains.yaml":        {Data: []byte(cornerChains)},
	}
	ref, err := refdata.LoadFromFS(fsys)
	if err != nil {
		t.Fatalf("LoadFromFS: %v", err)
	}
	return ref
}

func TestPreRole1KIAAlwaysFires(t *testing.T) {
	ref := cornerProvider(t)
	sim := NewSimulator(ref)
	chain := defaultChain(t, ref)
	rng := rand.New(rand.NewSource(81))

	for id := 1; id <= 100; id++ {
		p := testPatient(id, types.TriageT1)
		if err := sim.Simulate(rng, p, chain, injury.Assignment{Triage: types.TriageT1}); err != nil {
			t.Fatalf("Simulate: %v", err)
		}
		if p.FinalStatus != types.StatusKIA || p.LastFacility != types.FacilityPOI {
			t.Fatalf("patient %d: want KIA at POI, got %s at %s", id, p.FinalStatus, p.LastFacility)
		}
		if got := p.TerminalEvent().Type; got != types.EventKIA {
			t.Fatalf("patient %d: terminal event %s", id, got)
		}
	}
}

func TestShortChainRTDAndCBRNDecon(t *testing.T) {
	ref := cornerProvider(t)
	sim := NewSimulator(ref)
	chain := defaultChain(t, ref)

	// T2 never dies pre-Role-1 and always RTDs at Role 1 in the corner set.
	rng := rand.New(rand.NewSource(91))
	plain := testPatient(1, types.TriageT2)
	if err := sim.Simulate(rng, plain, chain, injury.Assignment{Triage: types.TriageT2}); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if plain.FinalStatus != types.StatusRTD {
		t.Fatalf("want RTD, got %s", plain.FinalStatus)
	}

	// A CBRN casualty spends decon time at POI; with decon min 0.3 on top
	// of dwell min 0.1 and transit min 0.1, Role-1 arrival cannot land
	// before hour 0.5.
	rng = rand.New(rand.NewSource(91))
	cbrn := testPatient(2, types.TriageT2)
	if err := sim.Simulate(rng, cbrn, chain, injury.Assignment{Triage: types.TriageT2, CBRN: true}); err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	arrivalHour := func(p *types.Patient) float64 {
		for _, ev := range p.Timeline {
			if ev.Type == types.EventArrival && ev.Facility == types.FacilityRole1 {
				return ev.HoursSinceInjury
			}
		}
		t.Fatalf("patient %d never arrived at Role1", p.ID)
		return 0
	}
	if got := arrivalHour(cbrn); got < 0.5 {
		t.Fatalf("decon dwell should delay arrival past 0.5h, got %f", got)
	}
}
