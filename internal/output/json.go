package output

import (
	"encoding/json"

	"github.com/bc-dunia/casgen/internal/types"
)

// jsonWriter frames patients as one top-level record array: opening
// bracket, comma-delimited elements, closing bracket, newline. The
// uncompressed byte stream is deterministic for a fixed patient stream.
type jsonWriter struct {
	sink       *sink
	opts       Options
	path       string
	count      int
	flushEvery int
}

func newJSONWriter(path string, opts Options) (*jsonWriter, error) {
	s, err := newSink(path, opts.Compression, opts.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if _, err := s.Write([]byte("[")); err != nil {
		s.Abort()
		return nil, err
	}
	return &jsonWriter{sink: s, opts: opts, path: path, flushEvery: opts.FlushEvery}, nil
}

func (w *jsonWriter) Append(p *types.Patient) error {
	data, err := json.Marshal(p)
	if err != nil {
		return serializationErr("marshal patient", err)
	}
	if w.count > 0 {
		if _, err := w.sink.Write([]byte(",")); err != nil {
			return err
		}
	}
	if _, err := w.sink.Write(data); err != nil {
		return err
	}
	w.count++
	if w.count%w.flushEvery == 0 {
		return w.sink.Flush()
	}
	return nil
}

func (w *jsonWriter) Close() (*Result, error) {
	if _, err := w.sink.Write([]byte("]\n")); err != nil {
		w.sink.Abort()
		return nil, err
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

func (w *jsonWriter) Abort() {
	w.sink.Abort()
}
