// Package credentials issues the build-scoped secrets embedded in private
// archive URLs.
package credentials

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/frederic-klein/soyuz/internal/archive"
)

// TokenSize is the size in bytes of an issued token before hex encoding.
const TokenSize = 20

var infoPrefix = []byte("soyuz.buildd.archive-token.v1")

// ErrWeakSecret is returned for root secrets shorter than 16 bytes.
var ErrWeakSecret = errors.New("root secret must be at least 16 bytes")

// Issuer derives per-build archive tokens from a root secret, so tokens
// never need to be stored: the archive front end derives the same value
// to check them.
type Issuer struct {
	root []byte
}

// NewIssuer creates an issuer for root.
func NewIssuer(root []byte) (*Issuer, error) {
	if len(root) < 16 {
		return nil, ErrWeakSecret
	}
	r := make([]byte, len(root))
	copy(r, root)
	return &Issuer{root: r}, nil
}

// Secret returns the token build uses to read from archive a.
func (i *Issuer) Secret(ctx context.Context, build archive.Build, a archive.Archive) (string, error) {
	if build.ID == "" {
		return "", fmt.Errorf("issuing token for %s: build has no id", a)
	}
	info := make([]byte, 0, len(infoPrefix)+len(build.ID)+32)
	info = append(info, infoPrefix...)
	info = append(info, 0)
	info = append(info, build.ID...)
	info = append(info, 0)
	info = fmt.Appendf(info, "%d", a.ID)

	token := make([]byte, TokenSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, i.root, nil, info), token); err != nil {
		return "", fmt.Errorf("deriving token: %w", err)
	}
	return hex.EncodeToString(token), nil
}

// Check reports whether token is the one issued to build for a.
func (i *Issuer) Check(ctx context.Context, build archive.Build, a archive.Archive, token string) bool {
	want, err := i.Secret(ctx, build, a)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}
