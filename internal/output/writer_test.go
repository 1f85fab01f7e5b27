package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/xuri/excelize/v2"

	"github.com/bc-dunia/casgen/internal/types"
)

func samplePatient(id int) *types.Patient {
	injured := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return &types.Patient{
		ID: id,
		Demographics: types.Demographics{
			GivenName:  "Olena",
			FamilyName: "Shevchenko",
			Gender:     "female",
			Rank:       "SGT",
			NationalID: "UKR-2026-00042",
		},
		Nationality:     "UKR",
		FrontID:         "main",
		InjuryType:      "shrapnel_wound",
		Triage:          types.TriageT2,
		BodyRegion:      types.RegionExtremity,
		InjuryTimestamp: injured,
		Scenario:        "artillery",
		Timeline: []types.TimelineEvent{
			{Type: types.EventArrival, Facility: types.FacilityPOI, Timestamp: injured, HoursSinceInjury: 0},
			{Type: types.EventRTD, Facility: types.FacilityRole1, Timestamp: injured.Add(90 * time.Minute), HoursSinceInjury: 1.5},
		},
		FinalStatus:  types.StatusRTD,
		LastFacility: types.FacilityRole1,
	}
}

func TestJSONWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenStream(Options{Format: types.FormatJSON, Dir: dir})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	for i := 1; i <= 5; i++ {
		if err := w.Append(samplePatient(i)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	res, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.Filename != "patients.json" {
		t.Fatalf("unexpected filename %q", res.Filename)
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if int64(len(data)) != res.SizeBytes {
		t.Fatalf("size %d does not match file length %d", res.SizeBytes, len(data))
	}
	var patients []types.Patient
	if err := json.Unmarshal(data, &patients); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(patients) != 5 {
		t.Fatalf("got %d patients, want 5", len(patients))
	}
	if patients[2].ID != 3 || patients[2].FinalStatus != types.StatusRTD {
		t.Fatalf("record lost fields: %+v", patients[2])
	}
	if len(patients[0].Timeline) != 2 {
		t.Fatalf("timeline lost: %+v", patients[0].Timeline)
	}
}

func TestWriterRenamesOnClose(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenStream(Options{Format: types.FormatJSON, Dir: dir})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := w.Append(samplePatient(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	final := filepath.Join(dir, "patients.json")
	if _, err := os.Stat(final); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("final file visible before Close: %v", err)
	}
	if _, err := os.Stat(final + ".tmp"); err != nil {
		t.Fatalf("temp file missing mid-stream: %v", err)
	}

	if _, err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(final); err != nil {
		t.Fatalf("final file missing after Close: %v", err)
	}
	if _, err := os.Stat(final + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temp file survived Close: %v", err)
	}
}

func TestAbortLeavesNoArtifacts(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenStream(Options{Format: types.FormatCSV, Dir: dir})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := w.Append(samplePatient(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	w.Abort()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("abort left files behind: %v", entries)
	}
}

func TestEncryptedCompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := bytes.Repeat([]byte{0x42}, KeySize)
	w, err := OpenStream(Options{
		Format:        types.FormatJSON,
		Dir:           dir,
		Compression:   true,
		EncryptionKey: key,
		FlushEvery:    2,
	})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	for i := 1; i <= 7; i++ {
		if err := w.Append(samplePatient(i)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	res, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.Filename != "patients.json.gz.enc" {
		t.Fatalf("unexpected filename %q", res.Filename)
	}
	if !res.Compressed || !res.Encrypted {
		t.Fatalf("result flags wrong: %+v", res)
	}

	ciphertext, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	compressed, err := Decrypt(ciphertext, key)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	plaintext, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	var patients []types.Patient
	if err := json.Unmarshal(plaintext, &patients); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(patients) != 7 {
		t.Fatalf("got %d patients, want 7", len(patients))
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	dir := t.TempDir()
	key := bytes.Repeat([]byte{0x01}, KeySize)
	w, err := OpenStream(Options{Format: types.FormatJSON, Dir: dir, EncryptionKey: key})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := w.Append(samplePatient(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	res, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	ciphertext, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	wrong := bytes.Repeat([]byte{0x02}, KeySize)
	if _, err := Decrypt(ciphertext, wrong); err == nil {
		t.Fatal("expected authentication failure with wrong key")
	}
	if _, err := Decrypt(ciphertext[:len(ciphertext)-3], key); err == nil {
		t.Fatal("expected failure on truncated ciphertext")
	}
}

func TestOpenStreamRejectsShortKey(t *testing.T) {
	_, err := OpenStream(Options{
		Format:        types.FormatJSON,
		Dir:           t.TempDir(),
		EncryptionKey: []byte("short"),
	})
	oe := AsOutputError(err)
	if oe == nil || oe.Kind != KindEncryption {
		t.Fatalf("expected encryption error, got %v", err)
	}
}

func TestOpenStreamRejectsUnknownFormat(t *testing.T) {
	_, err := OpenStream(Options{Format: "parquet", Dir: t.TempDir()})
	oe := AsOutputError(err)
	if oe == nil || oe.Kind != KindSerialization {
		t.Fatalf("expected serialization error, got %v", err)
	}
}

func TestCSVWriterHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenStream(Options{Format: types.FormatCSV, Dir: dir})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := w.Append(samplePatient(i)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	res, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.Filename != "patients.csv" {
		t.Fatalf("unexpected filename %q", res.Filename)
	}

	f, err := os.Open(res.Path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header plus 3", len(rows))
	}
	if len(rows[0]) != len(tabularHeader) || rows[0][0] != "id" {
		t.Fatalf("bad header row %v", rows[0])
	}
	if rows[1][0] != "1" || rows[1][15] != string(types.StatusRTD) {
		t.Fatalf("bad data row %v", rows[1])
	}
	if rows[1][18] != "1.5" {
		t.Fatalf("hours_to_final = %q, want 1.5", rows[1][18])
	}
}

func TestXLSXWriterWorkbook(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenStream(Options{Format: types.FormatXLSX, Dir: dir})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	for i := 1; i <= 4; i++ {
		if err := w.Append(samplePatient(i)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	res, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.Filename != "patients.xlsx" {
		t.Fatalf("unexpected filename %q", res.Filename)
	}

	f, err := excelize.OpenFile(res.Path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("got %d rows, want header plus 4", len(rows))
	}
	if rows[0][0] != "id" || rows[2][0] != "2" {
		t.Fatalf("unexpected sheet contents: header=%v row2=%v", rows[0], rows[2])
	}
}

func TestMultiFanout(t *testing.T) {
	dir := t.TempDir()
	jw, err := OpenStream(Options{Format: types.FormatJSON, Dir: dir})
	if err != nil {
		t.Fatalf("OpenStream(json): %v", err)
	}
	cw, err := OpenStream(Options{Format: types.FormatCSV, Dir: dir})
	if err != nil {
		t.Fatalf("OpenStream(csv): %v", err)
	}

	m := NewMulti(jw, cw)
	for i := 1; i <= 3; i++ {
		if err := m.Append(samplePatient(i)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}
	results, err := m.CloseAll()
	if err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, res := range results {
		if _, err := os.Stat(res.Path); err != nil {
			t.Fatalf("artifact %s missing: %v", res.Filename, err)
		}
	}
}

type failingWriter struct{ aborted bool }

func (f *failingWriter) Append(*types.Patient) error { return nil }
func (f *failingWriter) Close() (*Result, error) {
	return nil, ioErr("close", errors.New("disk full"))
}
func (f *failingWriter) Abort() { f.aborted = true }

func TestMultiCloseAllAbortsSiblingsOnFailure(t *testing.T) {
	dir := t.TempDir()
	jw, err := OpenStream(Options{Format: types.FormatJSON, Dir: dir})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	bad := &failingWriter{}

	m := NewMulti(jw, bad)
	if err := m.Append(samplePatient(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := m.CloseAll(); err == nil {
		t.Fatal("expected CloseAll to fail")
	}
	if !bad.aborted {
		t.Fatal("failing writer was not aborted")
	}
	// The sibling closed before the failure; its artifact must be removed.
	if _, err := os.Stat(filepath.Join(dir, "patients.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial artifact survived failed CloseAll: %v", err)
	}
}
