package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return DefaultConfig([]byte("test-secret-0123456789"))
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *MemoryStore, *fakeClock) {
	t.Helper()
	store := NewMemoryStore()
	clock := newFakeClock()
	store.now = clock.Now
	base := []ServiceOption{
		WithClock(clock.Now),
		WithHasher(NewBcryptHasher(bcrypt.MinCost)),
		WithLogger(discardLogger()),
	}
	svc, err := NewService(store, testConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, clock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustRegister(t *testing.T, svc *Service, email, password string) AccountView {
	t.Helper()
	view, err := svc.Register(context.Background(), RegisterInput{
		Username: "user",
		Email:    email,
		Password: password,
		ClientIP: "127.0.0.1",
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return view
}

func mustLogin(t *testing.T, svc *Service, email, password string) TokenPair {
	t.Helper()
	pair, err := svc.Login(context.Background(), LoginInput{Email: email, Password: password})
	if err != nil {
		t.Fatalf("Login(%s): %v", email, err)
	}
	return pair
}

func loadAccount(t *testing.T, store *MemoryStore, id int64) *Account {
	t.Helper()
	acct, err := store.Accounts(context.Background()).Find(context.Background(), id)
	if err != nil {
		t.Fatalf("Find(%d): %v", id, err)
	}
	return acct
}

// failingAudit wraps a store and rejects every audit append.
type failingAudit struct {
	*MemoryStore
}

func (f failingAudit) Audit(context.Context) AuditStore { return brokenAudit{} }

type brokenAudit struct{}

func (brokenAudit) Append(context.Context, *AuditEntry) error {
	return errors.New("audit table unavailable")
}

func (brokenAudit) ListByAccount(context.Context, int64, int) ([]*AuditEntry, error) {
	return nil, errors.New("audit table unavailable")
}
