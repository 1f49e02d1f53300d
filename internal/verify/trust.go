package verify

import (
	"encoding/hex"

	"github.com/ZebulonRouseFrantzich/keel/internal/updateerr"
)

// TrustStore is the ordered set of lowercase hex public keys allowed to sign
// manifests for one environment.
type TrustStore []string

// Contains reports whether keyHex is in the store. Matching is exact.
func (s TrustStore) Contains(keyHex string) bool {
	for _, k := range s {
		if k == keyHex {
			return true
		}
	}
	return false
}

// EnsurePublicKeyIsTrusted fails unless publicKey is in store.
func EnsurePublicKeyIsTrusted(publicKey []byte, store TrustStore, env string) error {
	if len(publicKey) == 0 {
		return updateerr.Integrity("Public key is missing (environment %s)", env)
	}
	if store == nil {
		return updateerr.Integrity("Trust store for environment %s is not set", env)
	}
	if len(store) == 0 {
		return updateerr.Integrity("Trust store for environment %s is empty", env)
	}

	keyHex := hex.EncodeToString(publicKey)
	if !store.Contains(keyHex) {
		return updateerr.Integrity("Public key %s is not trusted in environment %s", keyHex, env)
	}
	return nil
}
