package sandbox

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"golang.org/x/crypto/blake2b"
)

// DigestSize is the size of bundle digests in bytes.
const DigestSize = blake2b.Size256

// ErrBadSignature is returned when a detached signature does not verify.
var ErrBadSignature = errors.New("signature verification failed")

// Crypto is the fixed crypto library available under CapCrypto.
type Crypto interface {
	// VerifyDetached checks a detached signature over message.
	VerifyDetached(publicKey, message, signature []byte) error
	// Digest returns the 32-byte content digest of data.
	Digest(data []byte) []byte
	// DigestReader streams r into the content digest.
	DigestReader(r io.Reader) ([]byte, error)
}

type defaultCrypto struct{}

// DefaultCrypto returns the production crypto library: Ed25519 for raw
// 32-byte public keys, OpenPGP for serialized OpenPGP keys, BLAKE2b-256 for
// digests.
func DefaultCrypto() Crypto {
	return defaultCrypto{}
}

func (defaultCrypto) VerifyDetached(publicKey, message, signature []byte) error {
	if len(publicKey) == ed25519.PublicKeySize {
		if len(signature) != ed25519.SignatureSize {
			return fmt.Errorf("%w: ed25519 signature must be %d bytes, got %d",
				ErrBadSignature, ed25519.SignatureSize, len(signature))
		}
		if !ed25519.Verify(ed25519.PublicKey(publicKey), message, signature) {
			return ErrBadSignature
		}
		return nil
	}

	keyring, err := openpgp.ReadKeyRing(bytes.NewReader(publicKey))
	if err != nil {
		keyring, err = openpgp.ReadArmoredKeyRing(bytes.NewReader(publicKey))
		if err != nil {
			return fmt.Errorf("unsupported public key (%d bytes): %w", len(publicKey), err)
		}
	}
	if len(keyring) == 0 {
		return fmt.Errorf("public key contains no entities")
	}

	_, err = openpgp.CheckDetachedSignature(keyring, bytes.NewReader(message), bytes.NewReader(signature), nil)
	if err != nil {
		_, armoredErr := openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(message), bytes.NewReader(signature), nil)
		if armoredErr != nil {
			return fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
	}
	return nil
}

func (defaultCrypto) Digest(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

func (defaultCrypto) DigestReader(r io.Reader) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
