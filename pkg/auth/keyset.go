package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// maxKeys bounds how many retired keys stay valid for verification.
const maxKeys = 4

// KeySet signs caller tokens with the active key and verifies tokens
// signed by any retained key.
type KeySet struct {
	mu         sync.RWMutex
	currentKID string
	order      []string
	keys       map[string]ed25519.PrivateKey
}

// NewKeySet creates a key set whose active key is derived from seed.
func NewKeySet(seed []byte) (*KeySet, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keyset seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	ks := &KeySet{keys: make(map[string]ed25519.PrivateKey)}
	ks.add(ed25519.NewKeyFromSeed(seed))
	return ks, nil
}

// GenerateKeySet creates a key set with a random active key.
func GenerateKeySet() (*KeySet, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewKeySet(seed)
}

// LoadOrCreateKeySet reads a hex seed from path, creating the file on first use.
func LoadOrCreateKeySet(path string) (*KeySet, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode signing seed %s: %w", path, err)
		}
		return NewKeySet(seed)
	case errors.Is(err, os.ErrNotExist):
		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0o600); err != nil {
			return nil, fmt.Errorf("write signing seed %s: %w", path, err)
		}
		return NewKeySet(seed)
	default:
		return nil, err
	}
}

func keyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "key-" + hex.EncodeToString(sum[:8])
}

// add installs k as the active key. Caller holds mu or owns ks exclusively.
func (ks *KeySet) add(k ed25519.PrivateKey) {
	kid := keyID(k.Public().(ed25519.PublicKey))
	if _, ok := ks.keys[kid]; !ok {
		ks.order = append(ks.order, kid)
	}
	ks.keys[kid] = k
	ks.currentKID = kid
	for len(ks.order) > maxKeys {
		delete(ks.keys, ks.order[0])
		ks.order = ks.order[1:]
	}
}

// Rotate switches signing to a fresh random key. Tokens signed by the
// previous few keys still verify.
func (ks *KeySet) Rotate() error {
	_, k, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.add(k)
	return nil
}

// CurrentKID returns the ID of the signing key.
func (ks *KeySet) CurrentKID() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.currentKID
}

func (ks *KeySet) Sign(_ context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	key := ks.keys[ks.currentKID]
	kid := ks.currentKID
	ks.mu.RUnlock()

	if key == nil {
		return "", fmt.Errorf("no active key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (ks *KeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in header")
		}

		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("key not found: %s", kid)
		}
		return key.Public(), nil
	}
}
