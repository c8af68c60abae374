package secret

import (
	"errors"
	"strings"
	"testing"
)

func testKey(seed byte) []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = seed + byte(i)
	}
	return k
}

func TestSealOpen(t *testing.T) {
	kr, err := NewKeyring(map[int][]byte{1: testKey(0)})
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	for _, plain := range []string{"", "hunter2", "a much longer gateway password with spaces"} {
		sealed, err := kr.Seal(plain)
		if err != nil {
			t.Fatalf("Seal(%q): %v", plain, err)
		}
		if !strings.HasPrefix(sealed, "ENC[v1]:") || !IsSealed(sealed) {
			t.Fatalf("unexpected sealed form %q", sealed)
		}
		got, err := kr.Open(sealed)
		if err != nil || got != plain {
			t.Fatalf("Open = %q, %v; want %q", got, err, plain)
		}
	}
}

func TestRotation(t *testing.T) {
	old, _ := NewKeyring(map[int][]byte{1: testKey(0)})
	sealed, err := old.Seal("secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	kr, err := NewKeyring(map[int][]byte{1: testKey(0), 2: testKey(100)})
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	if kr.CurrentVersion() != 2 {
		t.Fatalf("current version = %d", kr.CurrentVersion())
	}
	resealed, err := kr.Reseal(sealed)
	if err != nil {
		t.Fatalf("Reseal: %v", err)
	}
	if !strings.HasPrefix(resealed, "ENC[v2]:") {
		t.Fatalf("resealed with wrong version: %q", resealed)
	}
	if _, err := old.Open(resealed); !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("old keyring should not know v2, got %v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	kr, _ := NewKeyring(map[int][]byte{1: testKey(0)})
	other, _ := NewKeyring(map[int][]byte{1: testKey(50)})
	sealed, _ := other.Seal("x")

	tests := []struct {
		name  string
		value string
		want  error
	}{
		{"plain", "hunter2", ErrNotSealed},
		{"no separator", "ENC[v1]abc", ErrNotSealed},
		{"short payload", "ENC[v1]:AAAA", ErrOpenFailed},
		{"wrong key", sealed, ErrOpenFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := kr.Open(tt.value); !errors.Is(err, tt.want) {
				t.Fatalf("Open(%q) err = %v, want %v", tt.value, err, tt.want)
			}
		})
	}
}

func TestNewKeyringRejectsBadKeys(t *testing.T) {
	if _, err := NewKeyring(nil); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
	if _, err := NewKeyring(map[int][]byte{1: []byte("short")}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestRevealPassesPlainValues(t *testing.T) {
	t.Setenv(KeyEnv, "")
	got, err := Reveal("plain-password")
	if err != nil || got != "plain-password" {
		t.Fatalf("Reveal = %q, %v", got, err)
	}
}
