package secrets

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTokenRoundtrip(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := store.StoreToken("discord", "super-secret-token"); err != nil {
		t.Fatalf("StoreToken: %v", err)
	}

	got, err := store.Token("discord")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != "super-secret-token" {
		t.Errorf("Token = %q", got)
	}
}

func TestTokenNotFound(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := store.Token("telegram"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Token on empty store: %v, want ErrNotFound", err)
	}
}

func TestPlatformIsolation(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := store.StoreToken("discord", "d-token"); err != nil {
		t.Fatal(err)
	}
	if err := store.StoreToken("telegram", "t-session"); err != nil {
		t.Fatal(err)
	}

	if got, _ := store.Token("discord"); got != "d-token" {
		t.Errorf("discord token = %q", got)
	}
	if got, _ := store.Token("telegram"); got != "t-session" {
		t.Errorf("telegram token = %q", got)
	}

	if err := store.DeleteToken("discord"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Token("discord"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted token still readable: %v", err)
	}
	if _, err := store.Token("telegram"); err != nil {
		t.Errorf("telegram token lost on discord delete: %v", err)
	}
}

func TestDeleteTokenIdempotent(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.DeleteToken("discord"); err != nil {
		t.Errorf("DeleteToken on missing credential: %v", err)
	}
}

func TestCredentialEncryptedAtRest(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.StoreToken("discord", "plaintext-secret"); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "discord.cred"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "plaintext-secret") {
		t.Error("credential stored in plaintext")
	}
}

func TestStoreReopensWithSameKey(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.StoreToken("telegram", "session-blob"); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Token("telegram")
	if err != nil {
		t.Fatalf("Token after reopen: %v", err)
	}
	if got != "session-blob" {
		t.Errorf("Token = %q", got)
	}
}

func TestValidateDiscordToken(t *testing.T) {
	valid := base64.RawStdEncoding.EncodeToString([]byte("123456789012345678")) + ".x0YzK1.abcdefghij"

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"valid", valid, true},
		{"valid with whitespace", "  " + valid + "\n", true},
		{"empty", "", false},
		{"two segments", "abc.def", false},
		{"four segments", "a.b.c.d", false},
		{"first segment not base64", "!!!.def.ghi", false},
		{"first segment not numeric", base64.RawStdEncoding.EncodeToString([]byte("not-an-id")) + ".b.c", false},
		{"empty segment", "..c", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateDiscordToken(tt.token); got != tt.want {
				t.Errorf("ValidateDiscordToken(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}
