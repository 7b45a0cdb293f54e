// Package clientauth validates API clients against a CSV whitelist. The file
// is reloaded when its modification time changes, so entries can be edited
// without restarting the service.
package clientauth

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrNotAuthorized is returned for any failed credential check.
var ErrNotAuthorized = errors.New("client not authorized")

// Client is one whitelist row, keyed by lower-cased email.
type Client struct {
	Email    string
	ClientID string
	// Password is either a bcrypt hash or a legacy plaintext value. Empty
	// means no password check for this client.
	Password string
}

// Store holds the loaded whitelist and reloads it on demand.
type Store struct {
	path string

	mu      sync.Mutex
	clients map[string]Client
	modTime time.Time
}

// NewStore creates a whitelist store for the given CSV path. A missing file
// is not an error at construction time; validation then fails until the file
// appears.
func NewStore(path string) *Store {
	s := &Store{path: path, clients: map[string]Client{}}
	if err := s.reload(); err != nil {
		log.Printf("[clientauth] initial load failed: %v", err)
	}
	return s
}

// Validate checks email, client id and (when the whitelist carries one)
// password. The returned error names the failing check.
func (s *Store) Validate(email, clientID, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	clientID = strings.TrimSpace(clientID)
	if email == "" || clientID == "" {
		return fmt.Errorf("%w: client id and email are required", ErrNotAuthorized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadIfChangedLocked(); err != nil {
		log.Printf("[clientauth] reload failed, using cached whitelist: %v", err)
	}
	if len(s.clients) == 0 {
		return fmt.Errorf("%w: no clients loaded from whitelist", ErrNotAuthorized)
	}

	client, ok := s.clients[email]
	if !ok {
		return fmt.Errorf("%w: unknown client email", ErrNotAuthorized)
	}
	if client.ClientID != clientID {
		return fmt.Errorf("%w: client id mismatch", ErrNotAuthorized)
	}
	if client.Password != "" {
		if !checkPassword(client.Password, password) {
			return fmt.Errorf("%w: invalid password", ErrNotAuthorized)
		}
	}
	return nil
}

// Count reports the number of loaded whitelist entries.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// checkPassword accepts bcrypt hashes and, for legacy rows, plaintext.
func checkPassword(stored, given string) bool {
	if strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return stored == strings.TrimSpace(given)
}

func (s *Store) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

func (s *Store) reloadIfChangedLocked() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	if info.ModTime().Equal(s.modTime) {
		return nil
	}
	return s.reloadLocked()
}

func (s *Store) reloadLocked() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	emailIdx, idIdx, pwIdx := headerIndexes(header)
	if emailIdx < 0 || idIdx < 0 {
		return fmt.Errorf("csv is missing email/client id columns: %v", header)
	}

	clients := map[string]Client{}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read csv row: %w", err)
		}
		email := strings.ToLower(strings.TrimSpace(field(row, emailIdx)))
		clientID := strings.TrimSpace(field(row, idIdx))
		if email == "" || clientID == "" {
			continue
		}
		clients[email] = Client{
			Email:    email,
			ClientID: clientID,
			Password: strings.TrimSpace(field(row, pwIdx)),
		}
	}

	s.clients = clients
	s.modTime = info.ModTime()
	log.Printf("[clientauth] loaded %d clients from %s", len(clients), s.path)
	return nil
}

// headerIndexes resolves column positions; several historical header
// spellings are accepted.
func headerIndexes(header []string) (emailIdx, idIdx, pwIdx int) {
	emailIdx, idIdx, pwIdx = -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "client_email", "client_emailid", "email":
			emailIdx = i
		case "client_id", "clientid":
			idIdx = i
		case "client_password", "password":
			pwIdx = i
		}
	}
	return emailIdx, idIdx, pwIdx
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
