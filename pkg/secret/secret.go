// Package secret seals configuration values such as the gateway password with
// AES-256-GCM so they can sit in .env files. Sealed values look like
// ENC[v1]:base64(nonce+ciphertext); the version selects the key.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	KeySize   = 32
	nonceSize = 12
	prefix    = "ENC[v"

	// KeyEnv holds key version 1; later versions use KeyEnv_V2, KeyEnv_V3...
	KeyEnv      = "TERMINAL_SECRET_KEY"
	maxVersions = 10
)

var (
	ErrInvalidKey     = errors.New("secret: key must be 32 bytes")
	ErrNotSealed      = errors.New("secret: value is not sealed")
	ErrOpenFailed     = errors.New("secret: decryption failed")
	ErrNoKey          = errors.New("secret: no key configured")
	ErrUnknownVersion = errors.New("secret: key version not loaded")
)

// Keyring holds every loaded key version and seals with the newest.
type Keyring struct {
	keys    map[int][]byte
	current int
}

// NewKeyring builds a keyring from raw keys indexed by version.
func NewKeyring(keys map[int][]byte) (*Keyring, error) {
	kr := &Keyring{keys: make(map[int][]byte, len(keys))}
	for v, k := range keys {
		if len(k) != KeySize {
			return nil, fmt.Errorf("key v%d: %w", v, ErrInvalidKey)
		}
		kr.keys[v] = k
		kr.current = max(kr.current, v)
	}
	if kr.current == 0 {
		return nil, ErrNoKey
	}
	return kr, nil
}

// KeyringFromEnv loads base64 keys from KeyEnv and its _Vn variants.
func KeyringFromEnv() (*Keyring, error) {
	keys := make(map[int][]byte)
	for v := 1; v <= maxVersions; v++ {
		name := KeyEnv
		if v > 1 {
			name = fmt.Sprintf("%s_V%d", KeyEnv, v)
		}
		raw := os.Getenv(name)
		if raw == "" {
			continue
		}
		k, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		keys[v] = k
	}
	return NewKeyring(keys)
}

func (kr *Keyring) CurrentVersion() int { return kr.current }

// Seal encrypts plaintext with the newest key.
func (kr *Keyring) Seal(plaintext string) (string, error) {
	gcm, err := newGCM(kr.keys[kr.current])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("%s%d]:%s", prefix, kr.current, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Open decrypts a value produced by Seal with any loaded key version.
func (kr *Keyring) Open(value string) (string, error) {
	version, data, err := split(value)
	if err != nil {
		return "", err
	}
	key, ok := kr.keys[version]
	if !ok {
		return "", fmt.Errorf("%w: v%d", ErrUnknownVersion, version)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}

// Reseal opens value and seals it again with the newest key.
func (kr *Keyring) Reseal(value string) (string, error) {
	plain, err := kr.Open(value)
	if err != nil {
		return "", err
	}
	return kr.Seal(plain)
}

// IsSealed reports whether value carries the ENC[vN]: prefix.
func IsSealed(value string) bool {
	_, _, err := split(value)
	return !errors.Is(err, ErrNotSealed)
}

// Reveal returns value unchanged unless it is sealed, in which case the
// keyring is loaded from the environment and the plaintext is returned.
func Reveal(value string) (string, error) {
	if !strings.HasPrefix(value, prefix) {
		return value, nil
	}
	kr, err := KeyringFromEnv()
	if err != nil {
		return "", err
	}
	return kr.Open(value)
}

// GenerateKey returns a fresh base64 key for KeyEnv.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func split(value string) (int, []byte, error) {
	if !strings.HasPrefix(value, prefix) {
		return 0, nil, ErrNotSealed
	}
	end := strings.Index(value, "]:")
	if end == -1 {
		return 0, nil, ErrNotSealed
	}
	var version int
	if _, err := fmt.Sscanf(value[len(prefix):end], "%d", &version); err != nil || version <= 0 {
		return 0, nil, ErrNotSealed
	}
	data, err := base64.StdEncoding.DecodeString(value[end+2:])
	if err != nil {
		return 0, nil, fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < nonceSize {
		return 0, nil, ErrOpenFailed
	}
	return version, data, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
