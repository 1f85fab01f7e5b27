package validation

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bc-dunia/casgen/internal/output"
	"github.com/bc-dunia/casgen/internal/refdata"
	"github.com/bc-dunia/casgen/internal/types"
)

const frontShareSlack = 0.01

// Validator validates job requests. Safe for concurrent use.
type Validator struct {
	v   *validator.Validate
	ref *refdata.Provider
}

func New(ref *refdata.Provider) *Validator {
	return &Validator{
		v:   validator.New(validator.WithRequiredStructEnabled()),
		ref: ref,
	}
}

// ValidateJobRequest runs structural and semantic checks and returns a
// report. The request is not mutated.
func (val *Validator) ValidateJobRequest(req *types.JobRequest) *Report {
	report := NewReport()
	if req == nil {
		report.AddError("REQUEST_NIL", "request body is empty", "")
		return report
	}

	if err := val.v.Struct(req); err != nil {
		if invalid, ok := err.(*validator.InvalidValidationError); ok {
			report.AddError("REQUEST_INVALID", invalid.Error(), "")
			return report
		}
		for _, fieldErr := range err.(validator.ValidationErrors) {
			report.AddError("FIELD_INVALID",
				fmt.Sprintf("failed %q constraint", fieldErr.Tag()),
				fieldErr.Namespace())
		}
	}

	val.checkBaseDate(req, report)
	val.checkWarfare(req, report)
	val.checkFronts(req, report)
	val.checkEnums(req, report)
	val.checkOutput(req, report)
	return report
}

func (val *Validator) checkBaseDate(req *types.JobRequest, report *Report) {
	if req.BaseDate == "" {
		return
	}
	if _, err := time.Parse("2006-01-02", req.BaseDate); err != nil {
		report.AddError("BASE_DATE_INVALID", "base_date must be YYYY-MM-DD", "base_date")
	}
}

func (val *Validator) checkWarfare(req *types.JobRequest, report *Report) {
	if len(req.WarfareTypes) == 0 {
		return // defaults to conventional
	}
	total := 0.0
	for name, weight := range req.WarfareTypes {
		if weight < 0 {
			report.AddError("WEIGHT_NEGATIVE",
				fmt.Sprintf("warfare weight for %q is negative", name), "warfare_types")
		}
		total += weight
	}
	if total <= 0 {
		report.AddError("WEIGHTS_NOT_NORMALIZABLE", "warfare weights sum to zero", "warfare_types")
	}
}

func (val *Validator) checkFronts(req *types.JobRequest, report *Report) {
	if len(req.Fronts) == 0 {
		return
	}
	shareTotal := 0.0
	for i, front := range req.Fronts {
		field := fmt.Sprintf("fronts[%d]", i)
		shareTotal += front.CasualtyShare

		natTotal := 0.0
		for code, weight := range front.Nationalities {
			if !val.ref.HasNationality(code) {
				report.AddError("NATIONALITY_UNKNOWN",
					fmt.Sprintf("unknown nationality code %q", code), field)
			}
			if weight < 0 {
				report.AddError("WEIGHT_NEGATIVE",
					fmt.Sprintf("nationality weight for %q is negative", code), field)
			}
			natTotal += weight
		}
		if natTotal <= 0 {
			report.AddError("WEIGHTS_NOT_NORMALIZABLE",
				"nationality distribution sums to zero", field)
		}

		if !val.ref.HasChain(front.Chain) {
			report.AddError("CHAIN_UNKNOWN",
				fmt.Sprintf("unknown facility chain %q", front.Chain), field)
		}
	}
	if shareTotal < 1-frontShareSlack || shareTotal > 1+frontShareSlack {
		report.AddError("FRONT_SHARES_INVALID",
			fmt.Sprintf("front casualty shares sum to %.3f, expected 1.0", shareTotal), "fronts")
	}
}

func (val *Validator) checkEnums(req *types.JobRequest, report *Report) {
	switch req.Intensity {
	case "", types.IntensityLow, types.IntensityMedium, types.IntensityHigh, types.IntensityExtreme:
	default:
		report.AddError("INTENSITY_UNKNOWN",
			fmt.Sprintf("unknown intensity %q", req.Intensity), "intensity")
	}
	switch req.Tempo {
	case "", types.TempoSustained, types.TempoSurge, types.TempoDecisive:
	default:
		report.AddError("TEMPO_UNKNOWN",
			fmt.Sprintf("unknown tempo %q", req.Tempo), "tempo")
	}
}

func (val *Validator) checkOutput(req *types.JobRequest, report *Report) {
	for _, format := range req.Output.Formats {
		switch format {
		case types.FormatJSON, types.FormatCSV, types.FormatXLSX:
		default:
			report.AddError("FORMAT_UNKNOWN",
				fmt.Sprintf("unknown output format %q", format), "output.formats")
		}
	}
	if key := req.Output.EncryptionKey; len(key) > 0 && len(key) != output.KeySize {
		report.AddError("ENCRYPTION_KEY_INVALID",
			fmt.Sprintf("encryption key must be %d bytes", output.KeySize), "output.encryption_key")
	}
	if req.ChunkSize < 0 {
		report.AddError("CHUNK_SIZE_INVALID", "chunk_size must be positive", "chunk_size")
	}
}
