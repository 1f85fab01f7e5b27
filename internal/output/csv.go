package output

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/bc-dunia/casgen/internal/types"
)

// tabularHeader is the explicit projection of the patient record to
// scalar columns; nested timeline events are reduced to counts and the
// terminal offset.
var tabularHeader = []string{
	"id", "given_name", "family_name", "gender", "rank", "national_id",
	"nationality", "front_id", "injury_type", "triage_category",
	"expectant", "body_region", "injury_timestamp", "warfare_scenario",
	"mass_casualty", "final_status", "last_facility", "timeline_events",
	"hours_to_final",
}

func tabularRow(p *types.Patient) []string {
	hoursToFinal := 0.0
	if ev := p.TerminalEvent(); ev != nil {
		hoursToFinal = ev.HoursSinceInjury
	}
	return []string{
		strconv.Itoa(p.ID),
		p.Demographics.GivenName,
		p.Demographics.FamilyName,
		p.Demographics.Gender,
		p.Demographics.Rank,
		p.Demographics.NationalID,
		p.Nationality,
		p.FrontID,
		p.InjuryType,
		string(p.Triage),
		strconv.FormatBool(p.Expectant),
		string(p.BodyRegion),
		p.InjuryTimestamp.UTC().Format(time.RFC3339),
		p.Scenario,
		strconv.FormatBool(p.MassCasualty),
		string(p.FinalStatus),
		string(p.LastFacility),
		strconv.Itoa(len(p.Timeline)),
		fmt.Sprintf("%.1f", hoursToFinal),
	}
}

type csvWriter struct {
	sink       *sink
	cw         *csv.Writer
	opts       Options
	path       string
	count      int
	flushEvery int
}

func newCSVWriter(path string, opts Options) (*csvWriter, error) {
	s, err := newSink(path, opts.Compression, opts.EncryptionKey)
	if err != nil {
		return nil, err
	}
	w := &csvWriter{sink: s, cw: csv.NewWriter(s), opts: opts, path: path, flushEvery: opts.FlushEvery}
	if err := w.cw.Write(tabularHeader); err != nil {
		s.Abort()
		return nil, serializationErr("write header", err)
	}
	return w, nil
}

func (w *csvWriter) Append(p *types.Patient) error {
	if err := w.cw.Write(tabularRow(p)); err != nil {
		return serializationErr("write row", err)
	}
	w.count++
	if w.count%w.flushEvery == 0 {
		w.cw.Flush()
		if err := w.cw.Error(); err != nil {
			return serializationErr("flush rows", err)
		}
		return w.sink.Flush()
	}
	return nil
}

func (w *csvWriter) Close() (*Result, error) {
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		w.sink.Abort()
		return nil, serializationErr("flush rows", err)
	}
	if err := w.sink.Flush(); err != nil {
		w.sink.Abort()
		return nil, err
	}
	size, err := w.sink.Close()
	if err != nil {
		return nil, err
	}
	return makeResult(w.path, w.opts, size), nil
}

func (w *csvWriter) Abort() {
	w.sink.Abort()
}
