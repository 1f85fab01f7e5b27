package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/bc-dunia/casgen/internal/jobrunner"
	"github.com/bc-dunia/casgen/internal/output"
	"github.com/bc-dunia/casgen/internal/types"
)

// Scenario: an encrypted, compressed artifact decrypts, decompresses and
// parses into the same records as the uncompressed baseline for the same
// seed.
func TestEncryptedCompressedRoundTrip(t *testing.T) {
	s := startStack(t, jobrunner.Config{MaxConcurrentJobs: 1})
	key := bytes.Repeat([]byte{0x5C}, output.KeySize)

	request := func() *types.JobRequest {
		return &types.JobRequest{
			TotalPatients:  100,
			DaysOfFighting: 2,
			BaseDate:       "2026-03-01",
			Intensity:      types.IntensityMedium,
			Tempo:          types.TempoSustained,
			Output:         types.OutputOptions{Formats: []types.OutputFormat{types.FormatJSON}},
			Seed:           314,
		}
	}

	baselineJob, baseline := s.runJob(t, request())
	baselineBytes := s.download(t, baselineJob.JobID, "patients.json")

	encrypted := request()
	encrypted.Output.Compression = true
	encrypted.Output.EncryptionKey = key
	admitted := s.submit(t, encrypted)
	final := s.awaitCompletion(t, admitted.JobID)
	if final.Status != types.StatusCompleted {
		t.Fatalf("encrypted job finished %s: %s", final.Status, final.Error)
	}
	if len(final.OutputFiles) != 1 {
		t.Fatalf("output files %+v", final.OutputFiles)
	}
	artifact := final.OutputFiles[0]
	if artifact.Filename != "patients.json.gz.enc" || !artifact.Compressed || !artifact.Encrypted {
		t.Fatalf("unexpected artifact descriptor %+v", artifact)
	}

	ciphertext := s.download(t, final.JobID, artifact.Filename)
	compressed, err := output.Decrypt(ciphertext, key)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	plaintext, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}

	if !bytes.Equal(plaintext, baselineBytes) {
		t.Fatal("decrypted stream differs from uncompressed baseline")
	}
	var patients []types.Patient
	if err := json.Unmarshal(plaintext, &patients); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(patients) != 100 {
		t.Fatalf("got %d patients, want 100", len(patients))
	}
	for i, p := range patients {
		if p.ID != baseline[i].ID || p.FinalStatus != baseline[i].FinalStatus {
			t.Fatalf("record %d diverges from baseline", i)
		}
	}
}
