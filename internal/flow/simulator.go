// Package flow drives each patient through the evacuation network.
// Starting at the injury instant, a patient arrives at POI and either
// dies before reaching Role 1 or moves down the facility chain, with
// triage-specific dwell and transit times and stochastic RTD/KIA
// outcomes at every facility. Probability checks always run in the
// order RTD, then KIA, then continue, so a patient can never count as
// both.
package flow

import (
	"math"
	"math/rand"
	"time"

	"github.com/bc-dunia/casgen/internal/injury"
	"github.com/bc-dunia/casgen/internal/refdata"
	"github.com/bc-dunia/casgen/internal/types"
)

type Simulator struct {
	ref *refdata.Provider
}

func NewSimulator(ref *refdata.Provider) *Simulator {
	return &Simulator{ref: ref}
}

// timeline accumulates events for one patient. Hours are carried as
// float64 internally; serialized hours are rounded to one decimal and
// timestamps derive from the rounded value at second precision, so the
// two stay consistent and drift-free.
type timeline struct {
	base   time.Time
	events []types.TimelineEvent
}

func (t *timeline) emit(ev types.TimelineEvent, h float64) {
	rh := round1(h)
	secs := int64(math.Round(rh * 3600))
	ev.HoursSinceInjury = rh
	ev.Timestamp = t.base.Add(time.Duration(secs) * time.Second)
	t.events = append(t.events, ev)
}

func round1(h float64) float64 {
	return math.Round(h*10) / 10
}

// Simulate fills in the patient's movement timeline, final status and
// last facility. The chain must start at POI and hold at least two
// facilities.
func (s *Simulator) Simulate(rng *rand.Rand, p *types.Patient, chain []types.Facility, inj injury.Assignment) error {
	if len(chain) < 2 || chain[0] != types.FacilityPOI {
		return &ConfigurationError{Err: &refdata.NotFoundError{Kind: "chain", Key: "must start at POI with at least two facilities"}}
	}

	tl := &timeline{base: p.InjuryTimestamp}
	h := 0.0

	tl.emit(types.TimelineEvent{Type: types.EventArrival, Facility: types.FacilityPOI}, h)

	// Explicit pre-Role-1 KIA decision.
	pre, err := s.ref.PreRole1KIA(p.Triage)
	if err != nil {
		return &ConfigurationError{Err: err}
	}
	if rng.Float64() < pre.Probability {
		d, err := s.sample(pre.Timing, rng, p.ID)
		if err != nil {
			return err
		}
		tl.emit(types.TimelineEvent{Type: types.EventKIA, Facility: types.FacilityPOI}, h+d)
		return s.finish(p, tl, types.StatusKIA, types.FacilityPOI)
	}

	if inj.CBRN {
		d, err := s.sample(s.ref.DeconDwell(), rng, p.ID)
		if err != nil {
			return err
		}
		h += d
	}

	h, err = s.evacuate(rng, tl, p, types.FacilityPOI, chain[1], h)
	if err != nil {
		return err
	}

	for i := 1; i < len(chain); i++ {
		facility := chain[i]
		tl.emit(types.TimelineEvent{Type: types.EventArrival, Facility: facility}, h)

		outcome, err := s.ref.OutcomeFor(p.Triage, facility)
		if err != nil {
			return &ConfigurationError{Err: err}
		}
		dwell, err := s.ref.Dwell(p.Triage, facility)
		if err != nil {
			return &ConfigurationError{Err: err}
		}

		rtdProb := outcome.RTD
		if facility == types.FacilityRole2 && p.Triage == types.TriageT3 && inj.Minor {
			rtdProb = s.ref.T3MinorRole2RTD()
		}

		// RTD before KIA so a patient who could do both counts once.
		if rng.Float64() < rtdProb {
			d := outcome.RTDTiming.SampleBounded(rng, dwell.Max)
			if d < 0 {
				return &GenerationError{PatientID: p.ID, Message: "negative rtd timing sample"}
			}
			tl.emit(types.TimelineEvent{Type: types.EventRTD, Facility: facility}, h+d)
			return s.finish(p, tl, types.StatusRTD, facility)
		}
		if rng.Float64() < outcome.KIA {
			d, err := s.sample(outcome.KIATiming, rng, p.ID)
			if err != nil {
				return err
			}
			tl.emit(types.TimelineEvent{Type: types.EventKIA, Facility: facility}, h+d)
			return s.finish(p, tl, types.StatusKIA, facility)
		}

		if i == len(chain)-1 {
			tl.emit(types.TimelineEvent{Type: types.EventRemains, Facility: facility}, h)
			return s.finish(p, tl, types.StatusRemains, facility)
		}

		if inj.CBRN && facility == types.FacilityRole1 {
			d, err := s.sample(s.ref.DeconDwell(), rng, p.ID)
			if err != nil {
				return err
			}
			h += d
		}

		h, err = s.evacuate(rng, tl, p, facility, chain[i+1], h)
		if err != nil {
			return err
		}
	}

	// Unreachable: the loop always terminates at the last chain entry.
	return &GenerationError{PatientID: p.ID, Message: "chain walk fell through without a terminal event"}
}

// evacuate emits the evacuation_start and transit_start pair at the
// given facility and returns the advanced hour cursor.
func (s *Simulator) evacuate(rng *rand.Rand, tl *timeline, p *types.Patient, from, to types.Facility, h float64) (float64, error) {
	dwell, err := s.ref.Dwell(p.Triage, from)
	if err != nil {
		return 0, &ConfigurationError{Err: err}
	}
	d, err := s.sample(dwell, rng, p.ID)
	if err != nil {
		return 0, err
	}
	tl.emit(types.TimelineEvent{
		Type:                types.EventEvacuationStart,
		Facility:            from,
		EvacuationDurationH: round1(d),
	}, h)
	h += d

	transit, err := s.ref.Transit(p.Triage, from, to)
	if err != nil {
		return 0, &ConfigurationError{Err: err}
	}
	tr, err := s.sample(transit, rng, p.ID)
	if err != nil {
		return 0, err
	}
	tl.emit(types.TimelineEvent{
		Type:             types.EventTransitStart,
		FromFacility:     from,
		ToFacility:       to,
		TransitDurationH: round1(tr),
	}, h)
	h += tr
	return h, nil
}

func (s *Simulator) sample(tri refdata.Triangle, rng *rand.Rand, patientID int) (float64, error) {
	v := tri.Sample(rng)
	if v < 0 {
		return 0, &GenerationError{PatientID: patientID, Message: "negative duration sample after clamping"}
	}
	return v, nil
}

func (s *Simulator) finish(p *types.Patient, tl *timeline, status types.FinalStatus, last types.Facility) error {
	p.Timeline = tl.events
	p.FinalStatus = status
	p.LastFacility = last
	return nil
}
