package types

import "time"

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ProgressDetails describes where a running job currently is.
type ProgressDetails struct {
	Phase       string `json:"phase"`
	Processed   int    `json:"processed_count"`
	Total       int    `json:"total_count"`
	Description string `json:"phase_description"`
}

// OutputFile describes one finalized output artifact.
type OutputFile struct {
	Filename   string       `json:"filename"`
	Format     OutputFormat `json:"format"`
	SizeBytes  int64        `json:"size_bytes"`
	Compressed bool         `json:"compressed"`
	Encrypted  bool         `json:"encrypted"`
}

// Summary holds the counters finalized when a job completes.
type Summary struct {
	KIACount             int            `json:"kia_count"`
	RTDCount             int            `json:"rtd_count"`
	RemainsCount         int            `json:"remains_count"`
	NationalityHistogram map[string]int `json:"nationality_histogram,omitempty"`
	InjuryHistogram      map[string]int `json:"injury_histogram,omitempty"`
}

// JobState is the persisted view of a job. OutputFiles and ResultFiles
// alias the same list: writers populate both, readers accept either
// (legacy field kept for store compatibility).
type JobState struct {
	JobID       string          `json:"job_id"`
	Status      JobStatus       `json:"status"`
	Progress    float64         `json:"progress"`
	Details     ProgressDetails `json:"progress_details"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error_message,omitempty"`
	OutputFiles []OutputFile    `json:"output_files,omitempty"`
	ResultFiles []OutputFile    `json:"result_files,omitempty"`
	Summary     Summary         `json:"summary"`
}

// NormalizeFiles reconciles the output/result file alias: whichever side
// is populated wins, and both end up pointing at the same list.
func (s *JobState) NormalizeFiles() {
	if len(s.OutputFiles) == 0 && len(s.ResultFiles) > 0 {
		s.OutputFiles = s.ResultFiles
	}
	s.ResultFiles = s.OutputFiles
}

// Clone returns a deep copy safe to hand to external observers.
func (s *JobState) Clone() *JobState {
	out := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	out.OutputFiles = append([]OutputFile(nil), s.OutputFiles...)
	out.ResultFiles = append([]OutputFile(nil), s.ResultFiles...)
	if s.Summary.NationalityHistogram != nil {
		out.Summary.NationalityHistogram = make(map[string]int, len(s.Summary.NationalityHistogram))
		for k, v := range s.Summary.NationalityHistogram {
			out.Summary.NationalityHistogram[k] = v
		}
	}
	if s.Summary.InjuryHistogram != nil {
		out.Summary.InjuryHistogram = make(map[string]int, len(s.Summary.InjuryHistogram))
		for k, v := range s.Summary.InjuryHistogram {
			out.Summary.InjuryHistogram[k] = v
		}
	}
	return &out
}
