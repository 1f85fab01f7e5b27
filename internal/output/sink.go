package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// countingWriter tracks bytes hitting the file so the finalized size can
// be verified against the sum of writes.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// sink owns the byte chain below a format writer:
// plaintext -> gzip (optional) -> encryption (optional) -> temp file.
// The temp file is renamed to its final name only on a clean Close; any
// failure removes it.
type sink struct {
	finalPath string
	tmpPath   string
	file      *os.File
	count     *countingWriter
	enc       *encryptedWriter
	gz        *gzip.Writer
	w         io.Writer
	closed    bool
}

func newSink(finalPath string, compression bool, encryptionKey []byte) (*sink, error) {
	tmpPath := finalPath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, ioErr("mkdir", err)
	}
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, ioErr("create", err)
	}

	s := &sink{finalPath: finalPath, tmpPath: tmpPath, file: file}
	s.count = &countingWriter{w: file}

	var next io.Writer = s.count
	if len(encryptionKey) > 0 {
		if len(encryptionKey) != KeySize {
			file.Close()
			os.Remove(tmpPath)
			return nil, encryptionErr("init", fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(encryptionKey)))
		}
		enc, err := newEncryptedWriter(next, encryptionKey)
		if err != nil {
			file.Close()
			os.Remove(tmpPath)
			return nil, err
		}
		s.enc = enc
		next = enc
	}
	if compression {
		s.gz = gzip.NewWriter(next)
		next = s.gz
	}
	s.w = next
	return s, nil
}

func (s *sink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		return n, ioErr("write", err)
	}
	return n, nil
}

// Flush pushes buffered bytes down the chain. Compressor frames and
// encryption frames are both cut here, keeping their boundaries aligned.
func (s *sink) Flush() error {
	if s.gz != nil {
		if err := s.gz.Flush(); err != nil {
			return compressionErr("flush", err)
		}
	}
	if s.enc != nil {
		if err := s.enc.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Close finalizes the chain and renames the temp file into place,
// returning the final byte count.
func (s *sink) Close() (int64, error) {
	if s.closed {
		return s.count.n, nil
	}
	s.closed = true

	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			s.discard()
			return 0, compressionErr("close", err)
		}
	}
	if s.enc != nil {
		if err := s.enc.Close(); err != nil {
			s.discard()
			return 0, err
		}
	}
	if err := s.file.Close(); err != nil {
		os.Remove(s.tmpPath)
		return 0, ioErr("close", err)
	}
	if err := os.Rename(s.tmpPath, s.finalPath); err != nil {
		os.Remove(s.tmpPath)
		return 0, ioErr("rename", err)
	}
	return s.count.n, nil
}

// Abort drops the temp file without finalizing.
func (s *sink) Abort() {
	if s.closed {
		// Already finalized; remove the artifact instead.
		os.Remove(s.finalPath)
		return
	}
	s.closed = true
	s.discard()
}

func (s *sink) discard() {
	s.file.Close()
	os.Remove(s.tmpPath)
}
