package clientauth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clients.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateKnownClient(t *testing.T) {
	path := writeCSV(t, "client_email,client_id\nalice@example.com,C-100\nbob@example.com,C-200\n")
	s := NewStore(path)

	if err := s.Validate("alice@example.com", "C-100", ""); err != nil {
		t.Errorf("expected valid client, got %v", err)
	}
	// Email matching is case-insensitive.
	if err := s.Validate("Alice@Example.COM", "C-100", ""); err != nil {
		t.Errorf("expected case-insensitive email match, got %v", err)
	}
	if s.Count() != 2 {
		t.Errorf("expected 2 clients loaded, got %d", s.Count())
	}
}

func TestValidateRejections(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	path := writeCSV(t, "client_email,client_id,client_password\n"+
		"alice@example.com,C-100,"+string(hash)+"\n"+
		"bob@example.com,C-200,legacy-plain\n"+
		"carol@example.com,C-300,\n")
	s := NewStore(path)

	cases := []struct {
		name                      string
		email, clientID, password string
		wantErr                   bool
	}{
		{"unknown email", "mallory@example.com", "C-100", "", true},
		{"wrong client id", "alice@example.com", "C-999", "secret", true},
		{"wrong bcrypt password", "alice@example.com", "C-100", "nope", true},
		{"correct bcrypt password", "alice@example.com", "C-100", "secret", false},
		{"legacy plaintext password", "bob@example.com", "C-200", "legacy-plain", false},
		{"no password required", "carol@example.com", "C-300", "", false},
		{"missing email", "", "C-100", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Validate(tc.email, tc.clientID, tc.password)
			if tc.wantErr {
				if !errors.Is(err, ErrNotAuthorized) {
					t.Errorf("expected ErrNotAuthorized, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestReloadPicksUpNewEntries(t *testing.T) {
	path := writeCSV(t, "client_email,client_id\nalice@example.com,C-100\n")
	s := NewStore(path)

	if err := s.Validate("dave@example.com", "C-400", ""); err == nil {
		t.Fatal("dave must not validate before being whitelisted")
	}

	// Rewrite with a bumped mtime so the store reloads.
	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte("client_email,client_id\nalice@example.com,C-100\ndave@example.com,C-400\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatal(err)
	}

	if err := s.Validate("dave@example.com", "C-400", ""); err != nil {
		t.Errorf("expected reload to pick up dave, got %v", err)
	}
}

func TestMissingFileFailsValidation(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent.csv"))
	if err := s.Validate("alice@example.com", "C-100", ""); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
}
