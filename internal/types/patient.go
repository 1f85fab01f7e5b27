package types

import "time"

// Triage is the severity/priority class assigned at intake. T4 (expectant)
// collapses to T1 for timeline purposes; the patient keeps an Expectant tag.
type Triage string

const (
	TriageT1 Triage = "T1"
	TriageT2 Triage = "T2"
	TriageT3 Triage = "T3"
)

// BodyRegion is the coarse anatomical region of the primary injury.
type BodyRegion string

const (
	RegionExtremity  BodyRegion = "extremity"
	RegionJunctional BodyRegion = "junctional"
	RegionCentral    BodyRegion = "central"
)

// Facility is a tier in the medical evacuation network.
type Facility string

const (
	FacilityPOI   Facility = "POI"
	FacilityRole1 Facility = "Role1"
	FacilityRole2 Facility = "Role2"
	FacilityRole3 Facility = "Role3"
	FacilityRole4 Facility = "Role4"
)

// FinalStatus is the terminal outcome of a patient's timeline.
type FinalStatus string

const (
	StatusKIA     FinalStatus = "KIA"
	StatusRTD     FinalStatus = "RTD"
	StatusRemains FinalStatus = "REMAINS_ROLE4"
)

// EventType identifies a movement-timeline event.
type EventType string

const (
	EventArrival         EventType = "arrival"
	EventEvacuationStart EventType = "evacuation_start"
	EventTransitStart    EventType = "transit_start"
	EventKIA             EventType = "kia"
	EventRTD             EventType = "rtd"
	EventRemains         EventType = "remains"
)

// Demographics holds the identity fields generated per nationality.
type Demographics struct {
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Gender     string `json:"gender"`
	Rank       string `json:"rank"`
	NationalID string `json:"national_id"`
}

// TimelineEvent is one step in a patient's movement through the
// evacuation network. HoursSinceInjury is rounded to one decimal and is
// monotonically non-decreasing within a patient; Timestamp equals the
// injury timestamp plus HoursSinceInjury at second precision.
type TimelineEvent struct {
	Type                EventType `json:"event_type"`
	Facility            Facility  `json:"facility,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
	HoursSinceInjury    float64   `json:"hours_since_injury"`
	FromFacility        Facility  `json:"from_facility,omitempty"`
	ToFacility          Facility  `json:"to_facility,omitempty"`
	EvacuationDurationH float64   `json:"evacuation_duration_hours,omitempty"`
	TransitDurationH    float64   `json:"transit_duration_hours,omitempty"`
}

// Patient is one fully generated casualty record.
type Patient struct {
	ID              int             `json:"id"`
	Demographics    Demographics    `json:"demographics"`
	Nationality     string          `json:"nationality"`
	FrontID         string          `json:"front_id"`
	InjuryType      string          `json:"injury_type"`
	Triage          Triage          `json:"triage_category"`
	Expectant       bool            `json:"expectant,omitempty"`
	BodyRegion      BodyRegion      `json:"body_region"`
	InjuryTimestamp time.Time       `json:"injury_timestamp"`
	Scenario        string          `json:"warfare_scenario"`
	MassCasualty    bool            `json:"mass_casualty,omitempty"`
	Timeline        []TimelineEvent `json:"movement_timeline"`
	FinalStatus     FinalStatus     `json:"final_status"`
	LastFacility    Facility        `json:"last_facility"`
}

// TerminalEvent returns the last timeline event, or nil for an empty
// timeline.
func (p *Patient) TerminalEvent() *TimelineEvent {
	if len(p.Timeline) == 0 {
		return nil
	}
	return &p.Timeline[len(p.Timeline)-1]
}
