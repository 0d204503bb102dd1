package capability

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// SeedSize is the length of an authority root seed.
const SeedSize = 32

// Keyring derives per-subject MAC keys from one root seed using HKDF-SHA256.
type Keyring struct {
	seed     []byte
	systemID string
}

// NewKeyring wraps an existing seed.
func NewKeyring(seed []byte) (*Keyring, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("capability seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	s := make([]byte, SeedSize)
	copy(s, seed)

	id, err := derive(s, "system", "id")
	if err != nil {
		return nil, err
	}
	return &Keyring{seed: s, systemID: "sys-" + hex.EncodeToString(id[:8])}, nil
}

// GenerateKeyring creates a keyring from a fresh random seed.
func GenerateKeyring() (*Keyring, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate capability seed: %w", err)
	}
	return NewKeyring(seed)
}

// LoadOrCreateKeyring reads a hex seed from path, creating it (0600) on first use.
func LoadOrCreateKeyring(path string) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		seed, decErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil {
			return nil, fmt.Errorf("decode capability seed %s: %w", path, decErr)
		}
		return NewKeyring(seed)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read capability seed: %w", err)
	}

	k, err := GenerateKeyring()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create seed dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(k.seed)), 0o600); err != nil {
		return nil, fmt.Errorf("write capability seed: %w", err)
	}
	return k, nil
}

// SystemID is the stable identifier derived from the seed.
func (k *Keyring) SystemID() string {
	return k.systemID
}

// MAC authenticates subject under the key derived for kind.
func (k *Keyring) MAC(kind Kind, subject string) ([]byte, error) {
	key, err := derive(k.seed, string(kind), subject)
	if err != nil {
		return nil, err
	}
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(k.systemID))
	_, _ = m.Write([]byte{0})
	_, _ = m.Write([]byte(subject))
	return m.Sum(nil), nil
}

func derive(seed []byte, kind, subject string) ([]byte, error) {
	r := hkdf.New(sha256.New, seed, []byte("buildmarket-capability-kdf"), []byte(kind+":"+subject))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return out, nil
}
