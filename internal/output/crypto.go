package output

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required encryption key length in bytes.
const KeySize = chacha20poly1305.KeySize

// encryptedWriter wraps a byte stream in authenticated frame-based
// encryption. A random base nonce is written first; each Flush seals the
// buffered bytes as one frame, length-prefixed, with the frame counter
// XORed into the nonce tail. Frame boundaries therefore align with the
// writer's flush points.
type encryptedWriter struct {
	dst     io.Writer
	aead    interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
	}
	base    []byte
	counter uint32
	buf     bytes.Buffer
	started bool
}

func newEncryptedWriter(dst io.Writer, key []byte) (*encryptedWriter, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, encryptionErr("init", err)
	}
	base := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(base); err != nil {
		return nil, encryptionErr("nonce", err)
	}
	return &encryptedWriter{dst: dst, aead: aead, base: base}, nil
}

func (ew *encryptedWriter) Write(p []byte) (int, error) {
	return ew.buf.Write(p)
}

// Flush seals the buffered bytes as a frame. Empty buffers are skipped.
func (ew *encryptedWriter) Flush() error {
	if !ew.started {
		if _, err := ew.dst.Write(ew.base); err != nil {
			return encryptionErr("write nonce", err)
		}
		ew.started = true
	}
	if ew.buf.Len() == 0 {
		return nil
	}
	nonce := frameNonce(ew.base, ew.counter)
	ew.counter++
	ciphertext := ew.aead.Seal(nil, nonce, ew.buf.Bytes(), nil)
	ew.buf.Reset()

	var frameLen [4]byte
	binary.BigEndian.PutUint32(frameLen[:], uint32(len(ciphertext)))
	if _, err := ew.dst.Write(frameLen[:]); err != nil {
		return encryptionErr("write frame", err)
	}
	if _, err := ew.dst.Write(ciphertext); err != nil {
		return encryptionErr("write frame", err)
	}
	return nil
}

func (ew *encryptedWriter) Close() error {
	return ew.Flush()
}

func frameNonce(base []byte, counter uint32) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	n := len(nonce)
	binary.BigEndian.PutUint32(nonce[n-4:], binary.BigEndian.Uint32(nonce[n-4:])^counter)
	return nonce
}

// Decrypt reverses the frame encryption of a finalized artifact. Used by
// download tooling and tests; the core never stores the key.
func Decrypt(data, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, encryptionErr("init", err)
	}
	if len(data) < chacha20poly1305.NonceSize {
		return nil, encryptionErr("decrypt", fmt.Errorf("ciphertext shorter than nonce"))
	}
	base := data[:chacha20poly1305.NonceSize]
	rest := data[chacha20poly1305.NonceSize:]

	var out bytes.Buffer
	var counter uint32
	for len(rest) > 0 {
		if len(rest) < 4 {
			return nil, encryptionErr("decrypt", fmt.Errorf("truncated frame header"))
		}
		frameLen := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < frameLen {
			return nil, encryptionErr("decrypt", fmt.Errorf("truncated frame"))
		}
		nonce := frameNonce(base, counter)
		counter++
		plaintext, err := aead.Open(nil, nonce, rest[:frameLen], nil)
		if err != nil {
			return nil, encryptionErr("decrypt", err)
		}
		out.Write(plaintext)
		rest = rest[frameLen:]
	}
	return out.Bytes(), nil
}
