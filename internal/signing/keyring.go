// Package signing verifies OpenPGP clearsigned uploads against a keyring
// of registered uploader keys.
package signing

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/clearsign"
	pgperrors "golang.org/x/crypto/openpgp/errors"

	"github.com/frederic-klein/soyuz/internal/upload"
)

var (
	ErrNoSignature   = errors.New("no clearsigned OpenPGP message found")
	ErrUnknownSigner = errors.New("signed by a key that is not in the keyring")
	ErrKeyExpired    = errors.New("signing key has expired")
)

// KeyringVerifier checks clearsigned data against a fixed keyring. It is
// safe for concurrent use.
type KeyringVerifier struct {
	keyring openpgp.EntityList
	now     func() time.Time
}

// NewKeyringVerifier reads an armored public keyring.
func NewKeyringVerifier(r io.Reader) (*KeyringVerifier, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(r)
	if err != nil {
		return nil, fmt.Errorf("reading keyring: %w", err)
	}
	return NewVerifier(keyring), nil
}

// LoadKeyring reads an armored public keyring file.
func LoadKeyring(path string) (*KeyringVerifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewKeyringVerifier(f)
}

// NewVerifier wraps an already loaded keyring.
func NewVerifier(keyring openpgp.EntityList) *KeyringVerifier {
	return &KeyringVerifier{keyring: keyring, now: time.Now}
}

// Len returns the number of keys in the keyring.
func (v *KeyringVerifier) Len() int { return len(v.keyring) }

// Verify checks the clearsign signature over data and identifies the
// signer.
func (v *KeyringVerifier) Verify(data []byte) (*upload.Signer, error) {
	block, _ := clearsign.Decode(data)
	if block == nil {
		return nil, ErrNoSignature
	}

	entity, err := openpgp.CheckDetachedSignature(v.keyring, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body)
	if err != nil {
		if errors.Is(err, pgperrors.ErrUnknownIssuer) {
			return nil, ErrUnknownSigner
		}
		return nil, fmt.Errorf("checking signature: %w", err)
	}

	signer := &upload.Signer{
		Fingerprint: strings.ToUpper(hex.EncodeToString(entity.PrimaryKey.Fingerprint[:])),
	}
	names := make([]string, 0, len(entity.Identities))
	for name := range entity.Identities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sig := entity.Identities[name].SelfSignature
		primary := sig != nil && sig.IsPrimaryId != nil && *sig.IsPrimaryId
		if signer.Identity == "" || primary {
			signer.Identity = name
		}
		if sig != nil && sig.KeyLifetimeSecs != nil && *sig.KeyLifetimeSecs > 0 {
			signer.ValidUntil = entity.PrimaryKey.CreationTime.Add(time.Duration(*sig.KeyLifetimeSecs) * time.Second)
		}
	}
	if !signer.ValidUntil.IsZero() && v.now().After(signer.ValidUntil) {
		return nil, fmt.Errorf("%s: %w", signer.Fingerprint, ErrKeyExpired)
	}
	return signer, nil
}
