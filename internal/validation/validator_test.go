package validation

import (
	"bytes"
	"testing"

	"github.com/bc-dunia/casgen/internal/output"
	"github.com/bc-dunia/casgen/internal/refdata"
	"github.com/bc-dunia/casgen/internal/types"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	ref, err := refdata.Load()
	if err != nil {
		t.Fatalf("refdata.Load: %v", err)
	}
	return New(ref)
}

func validRequest() *types.JobRequest {
	return &types.JobRequest{
		TotalPatients:  100,
		DaysOfFighting: 3,
		BaseDate:       "2026-03-01",
		Intensity:      types.IntensityMedium,
		Tempo:          types.TempoSustained,
		Output:         types.OutputOptions{Formats: []types.OutputFormat{types.FormatJSON}},
	}
}

func hasCode(report *Report, code string) bool {
	for _, issue := range report.Errors {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func TestValidRequestPasses(t *testing.T) {
	val := newTestValidator(t)
	report := val.ValidateJobRequest(validRequest())
	if !report.OK {
		t.Fatalf("valid request rejected: %+v", report.Errors)
	}
}

func TestNilRequestRejected(t *testing.T) {
	val := newTestValidator(t)
	report := val.ValidateJobRequest(nil)
	if report.OK || !hasCode(report, "REQUEST_NIL") {
		t.Fatalf("nil request accepted: %+v", report)
	}
}

func TestStructuralConstraints(t *testing.T) {
	val := newTestValidator(t)

	req := validRequest()
	req.TotalPatients = 0
	report := val.ValidateJobRequest(req)
	if report.OK || !hasCode(report, "FIELD_INVALID") {
		t.Fatalf("zero total accepted: %+v", report)
	}

	req = validRequest()
	req.DaysOfFighting = -1
	if report := val.ValidateJobRequest(req); report.OK {
		t.Fatal("negative days accepted")
	}
}

func TestBaseDateFormat(t *testing.T) {
	val := newTestValidator(t)

	req := validRequest()
	req.BaseDate = "03/01/2026"
	report := val.ValidateJobRequest(req)
	if !hasCode(report, "BASE_DATE_INVALID") {
		t.Fatalf("bad base_date accepted: %+v", report)
	}

	// An empty base date defaults downstream and is fine.
	req = validRequest()
	req.BaseDate = ""
	if report := val.ValidateJobRequest(req); !report.OK {
		t.Fatalf("empty base_date rejected: %+v", report.Errors)
	}
}

func TestWarfareWeights(t *testing.T) {
	val := newTestValidator(t)

	req := validRequest()
	req.WarfareTypes = map[string]float64{"artillery": -0.5, "drone": 0.5}
	report := val.ValidateJobRequest(req)
	if !hasCode(report, "WEIGHT_NEGATIVE") {
		t.Fatalf("negative weight accepted: %+v", report)
	}

	req = validRequest()
	req.WarfareTypes = map[string]float64{"artillery": 0, "drone": 0}
	report = val.ValidateJobRequest(req)
	if !hasCode(report, "WEIGHTS_NOT_NORMALIZABLE") {
		t.Fatalf("zero-sum weights accepted: %+v", report)
	}
}

func TestFrontChecks(t *testing.T) {
	val := newTestValidator(t)

	req := validRequest()
	req.Fronts = []types.FrontConfig{
		{Name: "north", CasualtyShare: 0.6, Nationalities: map[string]float64{"USA": 1}},
		{Name: "south", CasualtyShare: 0.4, Nationalities: map[string]float64{"ATL": 1}},
	}
	report := val.ValidateJobRequest(req)
	if !hasCode(report, "NATIONALITY_UNKNOWN") {
		t.Fatalf("unknown nationality accepted: %+v", report)
	}

	req = validRequest()
	req.Fronts = []types.FrontConfig{
		{Name: "north", CasualtyShare: 1.0, Nationalities: map[string]float64{"USA": 1}, Chain: "teleport"},
	}
	report = val.ValidateJobRequest(req)
	if !hasCode(report, "CHAIN_UNKNOWN") {
		t.Fatalf("unknown chain accepted: %+v", report)
	}

	req = validRequest()
	req.Fronts = []types.FrontConfig{
		{Name: "north", CasualtyShare: 0.5, Nationalities: map[string]float64{"USA": 1}},
		{Name: "south", CasualtyShare: 0.3, Nationalities: map[string]float64{"GBR": 1}},
	}
	report = val.ValidateJobRequest(req)
	if !hasCode(report, "FRONT_SHARES_INVALID") {
		t.Fatalf("shares summing to 0.8 accepted: %+v", report)
	}

	// Shares within the rounding slack pass.
	req = validRequest()
	req.Fronts = []types.FrontConfig{
		{Name: "north", CasualtyShare: 0.333, Nationalities: map[string]float64{"USA": 1}},
		{Name: "center", CasualtyShare: 0.333, Nationalities: map[string]float64{"GBR": 1}},
		{Name: "south", CasualtyShare: 0.333, Nationalities: map[string]float64{"UKR": 1}},
	}
	if report := val.ValidateJobRequest(req); !report.OK {
		t.Fatalf("near-1.0 shares rejected: %+v", report.Errors)
	}
}

func TestEnumChecks(t *testing.T) {
	val := newTestValidator(t)

	req := validRequest()
	req.Intensity = "apocalyptic"
	if report := val.ValidateJobRequest(req); !hasCode(report, "INTENSITY_UNKNOWN") {
		t.Fatalf("bad intensity accepted: %+v", report)
	}

	req = validRequest()
	req.Tempo = "frantic"
	if report := val.ValidateJobRequest(req); !hasCode(report, "TEMPO_UNKNOWN") {
		t.Fatalf("bad tempo accepted: %+v", report)
	}

	// Empty enums fall back to defaults.
	req = validRequest()
	req.Intensity = ""
	req.Tempo = ""
	if report := val.ValidateJobRequest(req); !report.OK {
		t.Fatalf("empty enums rejected: %+v", report.Errors)
	}
}

func TestOutputChecks(t *testing.T) {
	val := newTestValidator(t)

	req := validRequest()
	req.Output.Formats = []types.OutputFormat{"parquet"}
	if report := val.ValidateJobRequest(req); !hasCode(report, "FORMAT_UNKNOWN") {
		t.Fatalf("bad format accepted: %+v", report)
	}

	req = validRequest()
	req.Output.EncryptionKey = []byte("too-short")
	if report := val.ValidateJobRequest(req); !hasCode(report, "ENCRYPTION_KEY_INVALID") {
		t.Fatalf("short key accepted: %+v", report)
	}

	req = validRequest()
	req.Output.EncryptionKey = bytes.Repeat([]byte{0xAA}, output.KeySize)
	if report := val.ValidateJobRequest(req); !report.OK {
		t.Fatalf("full-size key rejected: %+v", report.Errors)
	}

	req = validRequest()
	req.ChunkSize = -5
	if report := val.ValidateJobRequest(req); !hasCode(report, "CHUNK_SIZE_INVALID") {
		t.Fatalf("negative chunk size accepted: %+v", report)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	report := NewReport()
	report.AddError("BASE_DATE_INVALID", "base_date must be YYYY-MM-DD", "base_date")
	err := &Error{Report: report}
	want := "validation failed: base_date: base_date must be YYYY-MM-DD"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}
