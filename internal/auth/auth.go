// Package auth implements the storefront's demo account flow: signup and
// login against a file-backed user store, issuing opaque bearer tokens. It is
// fully independent of the checkout core's state and carries no claims the
// core relies on.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUserExists means the email is already registered.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidCredentials means the email/password pair did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is one stored account. The password is kept as a salted SHA-256
// digest; the plaintext never touches disk.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Salt      string    `json:"salt"`
	Password  string    `json:"password"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps users in memory and mirrors every mutation to a JSON file,
// the same ownership model as the snapshot store backend.
type Store struct {
	mu    sync.Mutex
	path  string
	users []User
	now   func() time.Time
}

// Open loads the user file at path, or starts empty when it does not exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: read %q: %w", path, err)
	}
	if err := json.Unmarshal(raw, &s.users); err != nil {
		return nil, fmt.Errorf("auth: decode %q: %w", path, err)
	}
	return s, nil
}

// Signup registers a new account and returns a bearer token for it.
func (s *Store) Signup(name, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", fmt.Errorf("auth: email and password are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return "", fmt.Errorf("%w: %s", ErrUserExists, email)
		}
	}

	salt, err := newSalt()
	if err != nil {
		return "", err
	}
	user := User{
		ID:        "u-" + uuid.NewString(),
		Name:      name,
		Email:     email,
		Salt:      salt,
		Password:  hashPassword(password, salt),
		CreatedAt: s.now().UTC(),
	}
	s.users = append(s.users, user)
	if err := s.persist(); err != nil {
		return "", err
	}
	return s.token(user), nil
}

// Login validates credentials and returns a fresh bearer token.
func (s *Store) Login(email, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email != email {
			continue
		}
		candidate := hashPassword(password, u.Salt)
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(u.Password)) == 1 {
			return s.token(u), nil
		}
		break
	}
	return "", ErrInvalidCredentials
}

// token issues the original demo token shape: an opaque base64 blob binding
// user id, email, and issue time. Not a session scheme, and nothing in the
// checkout core trusts it for authorization.
func (s *Store) token(u User) string {
	raw := fmt.Sprintf("%s:%s:%d", u.ID, u.Email, s.now().UnixMilli())
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// persist writes the user file. Callers must hold s.mu.
func (s *Store) persist() error {
	raw, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encode users: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("auth: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("auth: rename %q: %w", tmp, err)
	}
	return nil
}

func newSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashPassword(password, salt string) string {
	sum := sha256.Sum256([]byte(salt + ":" + password))
	return hex.EncodeToString(sum[:])
}
