package jobrunner

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/bc-dunia/casgen/internal/events"
	"github.com/bc-dunia/casgen/internal/output"
	"github.com/bc-dunia/casgen/internal/types"
)

const (
	phaseScheduling = "scheduling"
	phaseGenerating = "generating"
	phaseFinalizing = "finalizing"
)

// gcEveryChunks triggers a GC hint periodically on large jobs so RSS
// tracks the bounded working set instead of allocator high-water marks.
const gcEveryChunks = 16

// runner executes one job: schedule once, then chunked generation into
// the opened writers. It is the single writer of the job's state.
type runner struct {
	m     *Manager
	jobID string
	req   *types.JobRequest
	state *types.JobState
	rng   *rand.Rand

	fronts  []types.FrontConfig
	chains  map[string][]types.Facility
	limiter *LimitChecker
}

// frontByID returns the front config matching a schedule entry.
func (r *runner) frontByID(id string) *types.FrontConfig {
	for i := range r.fronts {
		if r.fronts[i].Name == id {
			return &r.fronts[i]
		}
	}
	return &r.fronts[0]
}

func (r *runner) resolveFronts() error {
	r.fronts = r.req.Fronts
	if len(r.fronts) == 0 {
		r.fronts = []types.FrontConfig{{
			Name:          "main",
			CasualtyShare: 1.0,
			Nationalities: map[string]float64{"USA": 1.0},
		}}
	}
	r.chains = make(map[string][]types.Facility, len(r.fronts))
	for _, front := range r.fronts {
		name := front.Chain
		if name == "" {
			name = "default"
		}
		chain, err := r.m.ref.Chain(name)
		if err != nil {
			return err
		}
		r.chains[front.Name] = chain
	}
	return nil
}

func drawNationality(rng *rand.Rand, dist map[string]float64) string {
	codes := make([]string, 0, len(dist))
	total := 0.0
	for code, w := range dist {
		if w > 0 {
			codes = append(codes, code)
			total += w
		}
	}
	sort.Strings(codes)
	if len(codes) == 0 || total <= 0 {
		return "USA"
	}
	x := rng.Float64() * total
	for _, code := range codes {
		x -= dist[code]
		if x < 0 {
			return code
		}
	}
	return codes[len(codes)-1]
}

func (r *runner) updateProgress(ctx context.Context, phase string, processed, total int) {
	progress := 0.0
	if total > 0 {
		progress = float64(processed) / float64(total)
	}
	// Progress 1.0 is reserved for the completed terminal state;
	// finalization can still fail after the last chunk.
	if progress > 0.99 {
		progress = 0.99
	}
	r.state.Progress = progress
	r.state.Details = types.ProgressDetails{
		Phase:       phase,
		Processed:   processed,
		Total:       total,
		Description: phaseDescription(phase),
	}
	// Progress persistence is best effort; the next chunk retries.
	_ = r.m.store.Update(ctx, r.state)
}

func phaseDescription(phase string) string {
	switch phase {
	case phaseScheduling:
		return "building the injury schedule"
	case phaseGenerating:
		return "generating patient records"
	case phaseFinalizing:
		return "finalizing output files"
	default:
		return phase
	}
}

func (r *runner) openWriters(dir string) (*output.Multi, []types.OutputFormat, error) {
	formats := r.req.Output.Formats
	if len(formats) == 0 {
		formats = []types.OutputFormat{types.FormatJSON}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create output dir: %w", err)
	}

	writers := make([]output.Writer, 0, len(formats))
	for _, format := range formats {
		w, err := output.OpenStream(output.Options{
			Format:        format,
			Dir:           dir,
			BaseName:      "patients",
			Compression:   r.req.Output.Compression,
			EncryptionKey: r.req.Output.EncryptionKey,
			FlushEvery:    r.m.cfg.FlushInterval,
		})
		if err != nil {
			for _, opened := range writers {
				opened.Abort()
			}
			return nil, nil, err
		}
		writers = append(writers, w)
	}
	return output.NewMulti(writers...), formats, nil
}

// run drives the whole pipeline. It returns nil on completion; a typed
// error describes cancellation, a limit breach, or a failure.
func (r *runner) run(ctx context.Context) error {
	if err := r.resolveFronts(); err != nil {
		return NewInternalError(r.jobID, err)
	}

	limiter, err := NewLimitChecker(r.m.cfg.Limits)
	if err != nil {
		return NewInternalError(r.jobID, err)
	}
	r.limiter = limiter

	// The scheduler runs exactly once per job; only materialization below
	// is chunked.
	r.updateProgress(ctx, phaseScheduling, 0, r.req.TotalPatients)
	entries, err := r.m.builder.Build(ctx, r.req, r.rng)
	if err != nil {
		return NewInternalError(r.jobID, err)
	}

	dir := filepath.Join(r.m.cfg.OutputDir, r.jobID)
	multi, formats, err := r.openWriters(dir)
	if err != nil {
		return NewInternalError(r.jobID, err)
	}

	if err := r.generate(ctx, entries, multi, formats); err != nil {
		multi.AbortAll()
		return err
	}

	r.updateProgress(ctx, phaseFinalizing, len(entries), len(entries))
	results, err := multi.CloseAll()
	if err != nil {
		return NewInternalError(r.jobID, err)
	}

	files := make([]types.OutputFile, 0, len(results))
	for _, res := range results {
		files = append(files, types.OutputFile{
			Filename:   res.Filename,
			Format:     res.Format,
			SizeBytes:  res.SizeBytes,
			Compressed: res.Compressed,
			Encrypted:  res.Encrypted,
		})
		events.GetGlobalEventLogger().LogOutputFinalized(r.jobID, res.Filename, string(res.Format), res.SizeBytes)
		r.m.prom.RecordOutputBytes(string(res.Format), res.SizeBytes)
		r.m.prom.RecordPatientsWritten(string(res.Format), len(entries))
		r.m.otelM.RecordPatientsWritten(ctx, string(res.Format), int64(len(entries)))
	}
	r.state.OutputFiles = files
	r.state.NormalizeFiles()
	return nil
}

func (r *runner) generate(ctx context.Context, entries []types.ScheduleEntry, multi *output.Multi, formats []types.OutputFormat) error {
	chunkSize := r.req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = r.m.cfg.ChunkSize
	}

	total := len(entries)
	summary := &r.state.Summary
	summary.NationalityHistogram = make(map[string]int)
	summary.InjuryHistogram = make(map[string]int)

	chunkIndex := 0
	for start := 0; start < total; start += chunkSize {
		select {
		case <-ctx.Done():
			return NewCancelledError(r.jobID)
		default:
		}
		if breach := r.limiter.Check(r.jobID); breach != nil {
			events.GetGlobalEventLogger().LogLimitBreach(r.jobID, breach.Limit, breach.Value, breach.Threshold)
			r.m.prom.RecordLimitBreach(breach.Limit)
			r.m.otelM.RecordLimitBreach(ctx, breach.Limit)
			return breach
		}

		end := start + chunkSize
		if end > total {
			end = total
		}
		chunkStart := time.Now()

		for i := start; i < end; i++ {
			patient, err := r.materialize(i, entries[i])
			if err != nil {
				return NewInternalError(r.jobID, err)
			}
			if err := multi.Append(patient); err != nil {
				return NewInternalError(r.jobID, err)
			}

			summary.NationalityHistogram[patient.Nationality]++
			summary.InjuryHistogram[patient.InjuryType]++
			switch patient.FinalStatus {
			case types.StatusKIA:
				summary.KIACount++
			case types.StatusRTD:
				summary.RTDCount++
			case types.StatusRemains:
				summary.RemainsCount++
			}
		}

		chunkIndex++
		elapsed := time.Since(chunkStart)
		r.updateProgress(ctx, phaseGenerating, end, total)
		events.GetGlobalEventLogger().LogChunkCompleted(r.jobID, chunkIndex, end, total, elapsed.Milliseconds())
		r.m.prom.RecordChunk(elapsed.Seconds())
		r.m.otelM.RecordChunkDuration(ctx, r.jobID, float64(elapsed.Milliseconds()))

		if chunkIndex%gcEveryChunks == 0 {
			runtime.GC()
		}
	}
	return nil
}

// materialize turns one schedule entry into a full patient record. Ids
// are 0-based in schedule order.
func (r *runner) materialize(id int, entry types.ScheduleEntry) (*types.Patient, error) {
	front := r.frontByID(entry.FrontID)
	nationality := drawNationality(r.rng, front.Nationalities)

	demo, err := r.m.demo.Generate(r.rng, nationality, entry.Instant.Year())
	if err != nil {
		return nil, err
	}
	assignment, err := r.m.assigner.Assign(r.rng, entry.Scenario, r.req.Environmental, r.req.InjuryMix)
	if err != nil {
		return nil, err
	}

	patient := &types.Patient{
		ID:              id,
		Demographics:    demo,
		Nationality:     nationality,
		FrontID:         front.Name,
		InjuryType:      assignment.Type,
		Triage:          assignment.Triage,
		Expectant:       assignment.Expectant,
		BodyRegion:      assignment.BodyRegion,
		InjuryTimestamp: entry.Instant,
		Scenario:        entry.Scenario,
		MassCasualty:    entry.MassCasualty,
	}

	chain := r.chains[front.Name]
	if err := r.m.sim.Simulate(r.rng, patient, chain, assignment); err != nil {
		return nil, err
	}
	return patient, nil
}
