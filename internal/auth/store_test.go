package auth_test

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/parley-chat/parley/internal/auth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// MinCost keeps the hashing fast; the tests exercise behavior, not
// bcrypt hardness.
func newTestStore() *auth.Store {
	return auth.NewStoreWithCost(bcrypt.MinCost, testLogger())
}

func TestStoreRegisterAndAuthenticate(t *testing.T) {
	store := newTestStore()

	if err := store.Register("alice", "correct-horse"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if !store.Exists("alice") {
		t.Error("Exists should report the registered user")
	}
	if store.Count() != 1 {
		t.Errorf("Count() = %d, want 1", store.Count())
	}

	if err := store.Authenticate("alice", "correct-horse"); err != nil {
		t.Errorf("Authenticate() error: %v", err)
	}
}

func TestStoreRegister_Duplicate(t *testing.T) {
	store := newTestStore()

	if err := store.Register("alice", "correct-horse"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := store.Register("alice", "another-pass"); !errors.Is(err, auth.ErrUserExists) {
		t.Fatalf("Register() error = %v, want ErrUserExists", err)
	}

	// The original credentials still win.
	if err := store.Authenticate("alice", "correct-horse"); err != nil {
		t.Errorf("Authenticate() error: %v", err)
	}
}

func TestStoreRegister_InvalidUsername(t *testing.T) {
	store := newTestStore()

	for _, name := range []string{"", "x", "has space", "bad!char", strings.Repeat("a", 33)} {
		if err := store.Register(name, "long-enough-pass"); !errors.Is(err, auth.ErrInvalidUsername) {
			t.Errorf("Register(%q) error = %v, want ErrInvalidUsername", name, err)
		}
	}
}

func TestStoreRegister_WeakPassword(t *testing.T) {
	store := newTestStore()

	if err := store.Register("alice", "short"); !errors.Is(err, auth.ErrWeakPassword) {
		t.Fatalf("Register() error = %v, want ErrWeakPassword", err)
	}
	if store.Exists("alice") {
		t.Error("rejected registration must not create the account")
	}
}

func TestStoreAuthenticate_WrongPassword(t *testing.T) {
	store := newTestStore()
	if err := store.Register("alice", "correct-horse"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if err := store.Authenticate("alice", "wrong-horse"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("Authenticate() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestStoreAuthenticate_UnknownUser(t *testing.T) {
	store := newTestStore()

	// Unknown names and wrong passwords are indistinguishable.
	if err := store.Authenticate("nobody", "whatever-pass"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("Authenticate() error = %v, want ErrInvalidCredentials", err)
	}
}
