// Package output serializes generated patients to streaming writers:
// a JSON record array, CSV rows, or an XLSX workbook, optionally wrapped
// in a streaming gzip compressor and authenticated frame encryption.
// Writers buffer and flush every FlushEvery appended records, write to a
// temp file, and rename on a clean Close, so a finalized artifact is
// never truncated. Steady-state memory is bounded by the buffer sizes,
// independent of the total patient count.
package output

import (
	"fmt"
	"path/filepath"

	"github.com/bc-dunia/casgen/internal/types"
)

// DefaultFlushEvery is the record interval between flushes.
const DefaultFlushEvery = 100

// Options configures one opened stream.
type Options struct {
	Format        types.OutputFormat
	Dir           string
	BaseName      string
	Compression   bool
	EncryptionKey []byte
	FlushEvery    int
}

// Result describes a finalized artifact.
type Result struct {
	Filename   string
	Path       string
	Format     types.OutputFormat
	SizeBytes  int64
	Compressed bool
	Encrypted  bool
}

// Writer is a streaming patient serializer. Append and Close must be
// called from a single goroutine. After a failed Append or Close the
// writer is unusable and Abort must be called.
type Writer interface {
	Append(p *types.Patient) error
	Close() (*Result, error)
	// Abort discards the output, removing the partial file.
	Abort()
}

// OpenStream opens a writer for the requested format.
func OpenStream(opts Options) (Writer, error) {
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = DefaultFlushEvery
	}
	if opts.BaseName == "" {
		opts.BaseName = "patients"
	}

	name := opts.BaseName + extension(opts.Format)
	if opts.Compression {
		name += ".gz"
	}
	if len(opts.EncryptionKey) > 0 {
		name += ".enc"
	}
	path := filepath.Join(opts.Dir, name)

	switch opts.Format {
	case types.FormatJSON:
		return newJSONWriter(path, opts)
	case types.FormatCSV:
		return newCSVWriter(path, opts)
	case types.FormatXLSX:
		return newXLSXWriter(path, opts)
	default:
		return nil, serializationErr("open", fmt.Errorf("unknown output format %q", opts.Format))
	}
}

func extension(format types.OutputFormat) string {
	switch format {
	case types.FormatCSV:
		return ".csv"
	case types.FormatXLSX:
		return ".xlsx"
	default:
		return ".json"
	}
}

func makeResult(path string, opts Options, size int64) *Result {
	return &Result{
		Filename:   filepath.Base(path),
		Path:       path,
		Format:     opts.Format,
		SizeBytes:  size,
		Compressed: opts.Compression,
		Encrypted:  len(opts.EncryptionKey) > 0,
	}
}

// Multi fans one pipeline into several writers so the same patient
// stream can feed multiple formats.
type Multi struct {
	writers []Writer
}

func NewMulti(writers ...Writer) *Multi {
	return &Multi{writers: writers}
}

func (m *Multi) Append(p *types.Patient) error {
	for _, w := range m.writers {
		if err := w.Append(p); err != nil {
			return err
		}
	}
	return nil
}

// CloseAll finalizes every writer; the first error aborts the rest.
func (m *Multi) CloseAll() ([]*Result, error) {
	results := make([]*Result, 0, len(m.writers))
	for i, w := range m.writers {
		res, err := w.Close()
		if err != nil {
			for _, rest := range m.writers[i:] {
				rest.Abort()
			}
			// Finalized artifacts from earlier writers are partial
			// output of a failed job; remove them too.
			for _, done := range m.writers[:i] {
				done.Abort()
			}
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// AbortAll discards all writers.
func (m *Multi) AbortAll() {
	for _, w := range m.writers {
		w.Abort()
	}
}
