package integrity

import (
	"crypto/rand"
	"fmt"
	"os"
)

// KeySize is the required signing key length: 256 bits.
const KeySize = 32

// LoadOrCreateKey returns the signing key at path, generating and
// persisting a fresh random key when none exists. A stored key of the
// wrong length is treated as corrupt and regenerated. The file is written
// with owner-only permissions.
func LoadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil && len(key) == KeySize {
		return key, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key = make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	return key, nil
}
