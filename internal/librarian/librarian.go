// Package librarian is the content-addressed store for uploaded files.
// Files are keyed by their BLAKE3 hash and kept zstd-compressed on disk.
package librarian

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// ErrNotFound is returned for content the librarian does not hold.
var ErrNotFound = errors.New("content not found")

// Hash is a BLAKE3-256 digest of uncompressed file content.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// ParseHash parses the hex form of a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("invalid content hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

// Sum hashes data.
func Sum(data []byte) Hash {
	return blake3.Sum256(data)
}

// Librarian stores blobs under dir. EncodeAll and DecodeAll are safe for
// concurrent use, so a Librarian may be shared.
type Librarian struct {
	dir string
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New opens a librarian rooted at dir, creating it if needed.
func New(dir string) (*Librarian, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating librarian directory: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &Librarian{dir: dir, enc: enc, dec: dec}, nil
}

// Close releases the codec resources.
func (l *Librarian) Close() error {
	l.dec.Close()
	return l.enc.Close()
}

func (l *Librarian) path(h Hash) string {
	s := h.String()
	return filepath.Join(l.dir, s[:2], s[2:]+".zst")
}

// Put stores the content of r and returns its hash and uncompressed size.
// Storing content that is already present is a no-op.
func (l *Librarian) Put(r io.Reader) (Hash, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Hash{}, 0, fmt.Errorf("reading content: %w", err)
	}
	h := Sum(data)
	if l.Has(h) {
		return h, int64(len(data)), nil
	}

	dest := l.path(h)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return h, 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".put-*")
	if err != nil {
		return h, 0, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(l.enc.EncodeAll(data, nil)); err != nil {
		tmp.Close()
		return h, 0, fmt.Errorf("writing %s: %w", h, err)
	}
	if err := tmp.Close(); err != nil {
		return h, 0, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return h, 0, fmt.Errorf("storing %s: %w", h, err)
	}
	return h, int64(len(data)), nil
}

// Has reports whether content h is stored.
func (l *Librarian) Has(h Hash) bool {
	_, err := os.Stat(l.path(h))
	return err == nil
}

// Get returns the uncompressed content h.
func (l *Librarian) Get(h Hash) (io.ReadCloser, error) {
	compressed, err := os.ReadFile(l.path(h))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", h, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	data, err := l.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", h, err)
	}
	if Sum(data) != h {
		return nil, fmt.Errorf("content %s is corrupt", h)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
