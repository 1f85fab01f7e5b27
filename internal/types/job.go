// Package types contains the shared domain records for casgen: job
// requests, schedule entries, patients and job state.
package types

import "time"

// Intensity controls casualty clustering and mass-casualty probability.
// It never changes the total patient count.
type Intensity string

const (
	IntensityLow     Intensity = "low"
	IntensityMedium  Intensity = "medium"
	IntensityHigh    Intensity = "high"
	IntensityExtreme Intensity = "extreme"
)

// Tempo shapes the per-day casualty curve over the campaign.
type Tempo string

const (
	TempoSustained Tempo = "sustained"
	TempoSurge     Tempo = "surge"
	TempoDecisive  Tempo = "decisive"
)

// OutputFormat identifies a serialization format for generated patients.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatCSV  OutputFormat = "csv"
	FormatXLSX OutputFormat = "xlsx"
)

// FrontConfig describes one operational sector: its share of the total
// casualty count, the nationality mix drawn for its patients, and an
// optional named facility-chain override.
type FrontConfig struct {
	Name          string             `json:"name" validate:"required"`
	CasualtyShare float64            `json:"casualty_share" validate:"gt=0,lte=1"`
	Nationalities map[string]float64 `json:"nationality_distribution" validate:"required,min=1"`
	Chain         string             `json:"chain,omitempty"`
}

// OutputOptions selects the writers opened for a job.
// EncryptionKey is supplied by the caller and is never persisted.
type OutputOptions struct {
	Formats       []OutputFormat `json:"formats"`
	Compression   bool           `json:"compression"`
	EncryptionKey []byte         `json:"encryption_key,omitempty"`
}

// JobRequest is the closed configuration record for a generation job.
// Recognized options are enumerated here; forward-compatible flags go in
// Extensions and are ignored by the core.
type JobRequest struct {
	TotalPatients  int                `json:"total_patients" validate:"required,gte=1"`
	DaysOfFighting int                `json:"days_of_fighting" validate:"required,gte=1"`
	BaseDate       string             `json:"base_date"`
	WarfareTypes   map[string]float64 `json:"warfare_types"`
	Intensity      Intensity          `json:"intensity"`
	Tempo          Tempo              `json:"tempo"`
	Environmental  []string           `json:"environmental_conditions,omitempty"`
	SpecialEvents  []string           `json:"special_events,omitempty"`
	Fronts         []FrontConfig      `json:"fronts,omitempty"`
	InjuryMix      map[string]float64 `json:"injury_mix,omitempty"`
	Output         OutputOptions      `json:"output"`
	ChunkSize      int                `json:"chunk_size,omitempty"`
	Seed           int64              `json:"seed,omitempty"`
	Extensions     map[string]any     `json:"extensions,omitempty"`
}

// BaseDateTime parses BaseDate, defaulting to today at midnight UTC when
// unset. Validation guarantees the format before a job is admitted.
func (r *JobRequest) BaseDateTime() time.Time {
	if r.BaseDate == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	t, err := time.Parse("2006-01-02", r.BaseDate)
	if err != nil {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t
}

// ScheduleEntry is one scheduled injury instant produced by the temporal
// scheduler and consumed in order by the flow pipeline.
type ScheduleEntry struct {
	Instant      time.Time `json:"instant"`
	FrontID      string    `json:"front_id"`
	Scenario     string    `json:"warfare_scenario"`
	MassCasualty bool      `json:"mass_casualty"`
	ClusterID    int       `json:"cluster_id,omitempty"`
}
