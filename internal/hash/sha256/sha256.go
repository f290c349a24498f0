// Package sha256 digests export payloads as they are written, so each object
// can be verified against the run that produced it.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Writer forwards writes to an underlying writer and keeps a running digest
// of every byte that reached it.
type Writer struct {
	dst io.Writer
	sum hash.Hash
	n   int64
}

// NewWriter wraps dst. A nil dst only digests.
func NewWriter(dst io.Writer) *Writer {
	if dst == nil {
		dst = io.Discard
	}
	return &Writer{dst: dst, sum: sha256.New()}
}

// Write implements io.Writer. Only the bytes accepted by dst are digested.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.sum.Write(p[:n])
	w.n += int64(n)
	return n, err
}

// Sum returns the hex digest of everything written so far.
func (w *Writer) Sum() string {
	return hex.EncodeToString(w.sum.Sum(nil))
}

// Len reports the number of bytes written.
func (w *Writer) Len() int64 { return w.n }

// Sum returns the hex digest of data.
func Sum(data []byte) string {
	d := sha256.Sum256(data)
	return hex.EncodeToString(d[:])
}
