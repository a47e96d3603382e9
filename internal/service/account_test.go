package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/config"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository"
	"github.com/sakif/account-service/internal/repository/sqlite"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeStore is an in-memory repository.Store. It counts sessions so tests
// can check that every acquired connection is released.
type fakeStore struct {
	users map[string]*model.User // keyed by username

	acquired int
	released int

	acquireErr error
	createErr  error
	getErr     error
	closeErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]*model.User)}
}

func (f *fakeStore) Acquire(ctx context.Context) (repository.Session, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquired++
	return &fakeSession{store: f}, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

type fakeSession struct {
	store *fakeStore
}

func (s *fakeSession) CreateUser(ctx context.Context, user *model.User) error {
	if s.store.createErr != nil {
		return s.store.createErr
	}
	if _, ok := s.store.users[user.Username]; ok {
		return apperror.Conflict("username")
	}
	for _, u := range s.store.users {
		if u.Email == user.Email {
			return apperror.Conflict("email")
		}
	}
	user.ID = "user-" + user.Username
	copied := *user
	s.store.users[user.Username] = &copied
	return nil
}

func (s *fakeSession) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	if s.store.getErr != nil {
		return nil, s.store.getErr
	}
	u, ok := s.store.users[username]
	if !ok {
		return nil, apperror.NotFound("user", username)
	}
	copied := *u
	return &copied, nil
}

func (s *fakeSession) Close() error {
	s.store.released++
	return s.store.closeErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Cost 4 is bcrypt minimum — makes tests fast
func newTestAccountService(store repository.Store) *AccountService {
	return NewAccountService(store, auth.NewPasswordServiceForTest(bcrypt.MinCost), testLogger())
}

func assertBalanced(t *testing.T, f *fakeStore) {
	t.Helper()
	if f.acquired != f.released {
		t.Errorf("acquired %d sessions, released %d", f.acquired, f.released)
	}
}

// =========================================================================
// Register TESTS
// =========================================================================

func TestRegister_Success(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccountService(store)

	user, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "a@x.com", Password: "secret1",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if user.ID == "" {
		t.Error("Register() returned a user without an ID")
	}
	stored := store.users["alice"]
	if stored == nil {
		t.Fatal("Register() did not insert a row")
	}
	if stored.PasswordHash == "secret1" {
		t.Error("Register() stored the plaintext password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret1")); err != nil {
		t.Errorf("stored hash does not verify against the plaintext: %v", err)
	}
	assertBalanced(t, store)
}

func TestRegister_MissingFields(t *testing.T) {
	tests := []struct {
		name      string
		in        RegisterInput
		wantField string
	}{
		{"missing username", RegisterInput{Email: "a@x.com", Password: "p"}, "username"},
		{"missing email", RegisterInput{Username: "alice", Password: "p"}, "email"},
		{"missing password", RegisterInput{Username: "alice", Email: "a@x.com"}, "password"},
		{"all missing", RegisterInput{}, "username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			svc := newTestAccountService(store)

			_, err := svc.Register(context.Background(), tt.in)

			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("Register() error = %v, want ErrValidation", err)
			}
			var appErr *apperror.AppError
			errors.As(err, &appErr)
			if appErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", appErr.Field, tt.wantField)
			}
			if appErr.Message != msgRegisterFieldsRequired {
				t.Errorf("Message = %q, want %q", appErr.Message, msgRegisterFieldsRequired)
			}
			if store.acquired != 0 {
				t.Errorf("Register() acquired %d sessions on invalid input, want 0", store.acquired)
			}
			if len(store.users) != 0 {
				t.Error("Register() inserted a row on invalid input")
			}
		})
	}
}

func TestRegister_PasswordTooLong(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccountService(store)

	long := make([]byte, auth.MaxPasswordBytes+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "a@x.com", Password: string(long),
	})

	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("Register() error = %v, want ErrValidation", err)
	}
	if store.acquired != 0 {
		t.Error("Register() acquired a session for a password it could not hash")
	}
}

func TestRegister_Conflicts(t *testing.T) {
	tests := []struct {
		name      string
		second    RegisterInput
		wantField string
	}{
		{"same username", RegisterInput{Username: "alice", Email: "b@x.com", Password: "other"}, "username"},
		{"same email", RegisterInput{Username: "bob", Email: "a@x.com", Password: "other"}, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			svc := newTestAccountService(store)

			if _, err := svc.Register(context.Background(), RegisterInput{
				Username: "alice", Email: "a@x.com", Password: "secret1",
			}); err != nil {
				t.Fatalf("first Register() error = %v", err)
			}

			_, err := svc.Register(context.Background(), tt.second)

			var appErr *apperror.AppError
			if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrConflict) {
				t.Fatalf("Register() error = %v, want ErrConflict", err)
			}
			if appErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", appErr.Field, tt.wantField)
			}
			assertBalanced(t, store)
		})
	}
}

func TestRegister_StoreErrors(t *testing.T) {
	t.Run("acquire fails", func(t *testing.T) {
		store := newFakeStore()
		store.acquireErr = errors.New("connection refused")
		svc := newTestAccountService(store)

		_, err := svc.Register(context.Background(), RegisterInput{Username: "a", Email: "e", Password: "p"})
		if err == nil {
			t.Fatal("Register() should fail when no connection can be acquired")
		}
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			t.Errorf("Register() returned AppError %v for an infrastructure failure", appErr)
		}
	})

	t.Run("insert fails", func(t *testing.T) {
		store := newFakeStore()
		store.createErr = errors.New("disk full")
		svc := newTestAccountService(store)

		_, err := svc.Register(context.Background(), RegisterInput{Username: "a", Email: "e", Password: "p"})
		if err == nil {
			t.Fatal("Register() should propagate insert errors")
		}
		assertBalanced(t, store)
	})

	t.Run("close fails after success", func(t *testing.T) {
		store := newFakeStore()
		store.closeErr = errors.New("close failed")
		svc := newTestAccountService(store)

		if _, err := svc.Register(context.Background(), RegisterInput{Username: "a", Email: "e", Password: "p"}); err != nil {
			t.Fatalf("Register() error = %v, a close failure must not change the result", err)
		}
		assertBalanced(t, store)
	})
}

// =========================================================================
// Login TESTS
// =========================================================================

func registerAlice(t *testing.T, svc *AccountService) {
	t.Helper()
	if _, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "a@x.com", Password: "secret1",
	}); err != nil {
		t.Fatalf("setup Register() error = %v", err)
	}
}

func TestLogin_Success(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccountService(store)
	registerAlice(t, svc)

	user, err := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "secret1"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("Username = %q, want %q", user.Username, "alice")
	}
	assertBalanced(t, store)
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name        string
		in          LoginInput
		wantErr     error
		wantMessage string
	}{
		{"missing username", LoginInput{Password: "secret1"}, apperror.ErrValidation, msgLoginFieldsRequired},
		{"missing password", LoginInput{Username: "alice"}, apperror.ErrValidation, msgLoginFieldsRequired},
		{"unknown user", LoginInput{Username: "bob", Password: "secret1"}, apperror.ErrUnauthorized, msgUserNotFound},
		{"wrong password", LoginInput{Username: "alice", Password: "wrong"}, apperror.ErrUnauthorized, msgIncorrectPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			svc := newTestAccountService(store)
			registerAlice(t, svc)

			_, err := svc.Login(context.Background(), tt.in)

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Login() error = %v, want %v", err, tt.wantErr)
			}
			if err.Error() != tt.wantMessage {
				t.Errorf("message = %q, want %q", err.Error(), tt.wantMessage)
			}
			assertBalanced(t, store)
		})
	}
}

func TestLogin_MissingFieldsSkipStore(t *testing.T) {
	store := newFakeStore()
	svc := newTestAccountService(store)

	_, _ = svc.Login(context.Background(), LoginInput{})

	if store.acquired != 0 {
		t.Errorf("Login() acquired %d sessions on invalid input, want 0", store.acquired)
	}
}

func TestLogin_StoreError(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("connection reset")
	svc := newTestAccountService(store)

	_, err := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "p"})

	if err == nil || errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("Login() error = %v, want an infrastructure error", err)
	}
	assertBalanced(t, store)
}

func TestLogin_CorruptStoredHash(t *testing.T) {
	store := newFakeStore()
	store.users["alice"] = &model.User{Username: "alice", PasswordHash: "not-bcrypt"}
	svc := newTestAccountService(store)

	_, err := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "p"})

	if err == nil || errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("Login() error = %v, want an infrastructure error", err)
	}
}

// =========================================================================
// END-TO-END AGAINST SQLITE
// =========================================================================

func newSQLiteAccountService(t *testing.T) *AccountService {
	t.Helper()
	db, err := sqlite.New(config.Database{Driver: config.DriverSQLite, Path: ":memory:"}, testLogger())
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return newTestAccountService(db)
}

func TestRoundTrip_SQLite(t *testing.T) {
	svc := newSQLiteAccountService(t)
	ctx := context.Background()
	const password = "secret1"

	if _, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@x.com", Password: password}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := svc.Login(ctx, LoginInput{Username: "alice", Password: password}); err != nil {
		t.Fatalf("Login() with the registered password error = %v", err)
	}

	for i := range password {
		b := []byte(password)
		b[i] ^= 0x01
		_, err := svc.Login(ctx, LoginInput{Username: "alice", Password: string(b)})
		if !errors.Is(err, apperror.ErrUnauthorized) {
			t.Errorf("Login(%q) error = %v, want ErrUnauthorized", string(b), err)
		}
	}
}

func TestScenario_SQLite(t *testing.T) {
	svc := newSQLiteAccountService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@x.com", Password: "secret1"}); err != nil {
		t.Fatalf("register alice: %v", err)
	}

	_, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "b@x.com", Password: "other"})
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrConflict) || appErr.Field != "username" {
		t.Fatalf("second register error = %v, want username conflict", err)
	}

	user, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "secret1"})
	if err != nil {
		t.Fatalf("login alice: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("Username = %q, want alice", user.Username)
	}

	if _, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong"}); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("login with wrong password error = %v, want ErrUnauthorized", err)
	}
}
