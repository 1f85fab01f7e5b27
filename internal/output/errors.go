package output

import (
	"errors"
	"fmt"
)

// Kind subdivides OutputError for error reporting.
type Kind int

const (
	KindSerialization Kind = iota
	KindIO
	KindCompression
	KindEncryption
)

func (k Kind) String() string {
	switch k {
	case KindSerialization:
		return "serialization"
	case KindIO:
		return "io"
	case KindCompression:
		return "compression"
	case KindEncryption:
		return "encryption"
	default:
		return "unknown"
	}
}

// OutputError indicates a writer could not advance. It is fatal to the
// job and the partial artifact is removed.
type OutputError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("output %s error in %s: %v", e.Kind, e.Op, e.Err)
}

func (e *OutputError) Unwrap() error {
	return e.Err
}

// AsOutputError converts err to *OutputError when possible.
func AsOutputError(err error) *OutputError {
	var oe *OutputError
	if errors.As(err, &oe) {
		return oe
	}
	return nil
}

func serializationErr(op string, err error) error {
	return &OutputError{Kind: KindSerialization, Op: op, Err: err}
}

func ioErr(op string, err error) error {
	return &OutputError{Kind: KindIO, Op: op, Err: err}
}

func compressionErr(op string, err error) error {
	return &OutputError{Kind: KindCompression, Op: op, Err: err}
}

func encryptionErr(op string, err error) error {
	return &OutputError{Kind: KindEncryption, Op: op, Err: err}
}
