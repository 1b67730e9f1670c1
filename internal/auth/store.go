package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/parley-chat/parley/pkg/protocol"
)

// MinPasswordLen is the minimum accepted password length.
const MinPasswordLen = 8

var (
	// ErrUserExists is returned when registering an already-taken username.
	ErrUserExists = errors.New("auth: username already registered")

	// ErrInvalidCredentials is returned for a bad username/password pair.
	// Callers get the same error for unknown names and wrong passwords.
	ErrInvalidCredentials = errors.New("auth: invalid username or password")

	// ErrWeakPassword is returned when a password is too short.
	ErrWeakPassword = errors.New("auth: password too short")

	// ErrInvalidUsername is returned when a username fails the display
	// name rule.
	ErrInvalidUsername = errors.New("auth: invalid username")
)

// User is a registered account. Only the bcrypt hash is retained.
type User struct {
	Name         string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Store keeps registered users in memory. Accounts do not survive a
// restart; the process holds no persistent state.
type Store struct {
	mu     sync.RWMutex
	users  map[string]*User
	cost   int
	dummy  []byte
	logger *slog.Logger
}

// NewStore creates an account store hashing with bcrypt.DefaultCost.
func NewStore(logger *slog.Logger) *Store {
	return NewStoreWithCost(bcrypt.DefaultCost, logger)
}

// NewStoreWithCost creates an account store with an explicit bcrypt
// cost. Tests use bcrypt.MinCost to keep hashing fast.
func NewStoreWithCost(cost int, logger *slog.Logger) *Store {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}

	// A throwaway hash compared against when the username is unknown,
	// so lookups for missing and existing names cost the same.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("parley-no-such-user"), cost)

	return &Store{
		users:  make(map[string]*User),
		cost:   cost,
		dummy:  dummy,
		logger: logger.With("component", "auth"),
	}
}

// Register creates an account. The username follows the display name
// rule; the password is hashed with bcrypt before it is stored.
func (s *Store) Register(username, password string) error {
	if !protocol.ValidName(username) {
		return ErrInvalidUsername
	}
	if len(password) < MinPasswordLen {
		return ErrWeakPassword
	}

	// Hash outside the lock; bcrypt is deliberately slow.
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return ErrUserExists
	}
	s.users[username] = &User{
		Name:         username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	s.logger.Info("user registered", "username", username, "total_users", len(s.users))
	return nil
}

// Authenticate checks a username/password pair. It returns
// ErrInvalidCredentials for unknown names and wrong passwords alike.
func (s *Store) Authenticate(username, password string) error {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		// Burn a comparison so unknown names take as long as wrong
		// passwords.
		bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Exists reports whether a username is registered.
func (s *Store) Exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok
}

// Count returns the number of registered accounts.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
