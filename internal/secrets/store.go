// Package secrets persists platform session credentials (Telegram session
// blob, Discord token) with at-rest encryption. Each platform's credential
// is keyed separately so both clients can write without interfering.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrNotFound is returned when no credential is stored for a platform.
var ErrNotFound = errors.New("secrets: no stored credential")

const keyFile = "secret.key"

// Store is a file-backed credential store. Secrets are sealed with
// XChaCha20-Poly1305 using a locally generated key.
type Store struct {
	dir string
	key []byte
	mu  sync.Mutex
}

// Open creates or opens a credential store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("secrets: create dir: %w", err)
	}

	keyPath := filepath.Join(dir, keyFile)
	key, err := os.ReadFile(keyPath)
	if errors.Is(err, os.ErrNotExist) {
		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("secrets: generate key: %w", err)
		}
		if err := os.WriteFile(keyPath, key, 0o600); err != nil {
			return nil, fmt.Errorf("secrets: write key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("secrets: read key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secrets: key file %s has wrong size", keyPath)
	}

	return &Store{dir: dir, key: key}, nil
}

func (s *Store) credPath(platform string) string {
	return filepath.Join(s.dir, platform+".cred")
}

// StoreToken seals and persists a platform credential, overwriting any
// previous one. At most one credential per platform is kept.
func (s *Store) StoreToken(platform, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return fmt.Errorf("secrets: init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("secrets: nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(secret), nil)
	if err := os.WriteFile(s.credPath(platform), sealed, 0o600); err != nil {
		return fmt.Errorf("secrets: write credential: %w", err)
	}
	return nil
}

// Token retrieves and opens a platform credential. Returns ErrNotFound when
// none is stored.
func (s *Store) Token(platform string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(s.credPath(platform))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("secrets: read credential: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("secrets: init cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("secrets: credential for %s is truncated", platform)
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: open credential: %w", err)
	}
	return string(plain), nil
}

// DeleteToken removes a platform credential. Deleting a missing credential
// is not an error.
func (s *Store) DeleteToken(platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.credPath(platform))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("secrets: delete credential: %w", err)
	}
	return nil
}

// ValidateDiscordToken checks a Discord user token's shape before any
// network call: three dot-separated segments, the first of which is a
// base64-encoded numeric user id. Fail fast on anything else.
func ValidateDiscordToken(token string) bool {
	token = strings.TrimSpace(token)
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return false
	}

	id, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		if id, err = base64.RawURLEncoding.DecodeString(parts[0]); err != nil {
			return false
		}
	}
	if len(id) == 0 {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
