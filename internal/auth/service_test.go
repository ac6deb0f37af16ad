package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"campusbot.org/identity/internal/obs"
)

func TestRegisterCreatesUnlockedAccount(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	for _, email := range []string{"a@x.com", "b@x.com", "A@x.com"} {
		view := mustRegister(t, svc, email, "pw1")
		if view.Role != RoleStudent {
			t.Fatalf("default role = %q", view.Role)
		}
		acct := loadAccount(t, store, view.ID)
		if acct.FailedAttempts != 0 || acct.LockExpiry != nil || !acct.Active {
			t.Fatalf("unexpected new account state: %+v", acct)
		}
		if acct.PasswordHash == "pw1" || acct.PasswordHash == "" {
			t.Fatalf("password stored in clear")
		}
	}
	if n, _ := store.Accounts(ctx).Count(ctx); n != 3 {
		t.Fatalf("account count = %d, want 3", n)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	mustRegister(t, svc, "a@x.com", "pw1")

	_, err := svc.Register(ctx, RegisterInput{Username: "other", Email: " a@x.com ", Password: "pw2"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if n, _ := store.Accounts(ctx).Count(ctx); n != 1 {
		t.Fatalf("account count = %d, want 1", n)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "u", Email: "a@x.com"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing password: %v", err)
	}
	org := int64(404)
	_, err := svc.Register(ctx, RegisterInput{Username: "u", Email: "a@x.com", Password: "pw", OrgID: &org})
	if !errors.Is(err, ErrUnknownOrganization) {
		t.Fatalf("expected ErrUnknownOrganization, got %v", err)
	}
	view, err := svc.Register(ctx, RegisterInput{Username: "u", Email: "f@x.com", Password: "pw", Role: " Faculty "})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if view.Role != RoleFaculty {
		t.Fatalf("role = %q", view.Role)
	}
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	view := mustRegister(t, svc, "a@x.com", "pw1")

	for i := 0; i < 2; i++ {
		if _, err := svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("wrong password: %v", err)
		}
	}
	if got := loadAccount(t, store, view.ID).FailedAttempts; got != 2 {
		t.Fatalf("failed attempts = %d", got)
	}

	pair := mustLogin(t, svc, "a@x.com", "pw1")
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != TokenTypeBearer {
		t.Fatalf("incomplete pair: %+v", pair)
	}
	if got := loadAccount(t, store, view.ID).FailedAttempts; got != 0 {
		t.Fatalf("failed attempts after success = %d", got)
	}
	principal, err := svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	claims := principal.Claims
	if claims.AccountID != view.ID || claims.Email() != "a@x.com" || principal.Account.ID != view.ID {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestLoginUnknownEmailLooksLikeWrongPassword(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustRegister(t, svc, "a@x.com", "pw1")

	_, errUnknown := svc.Login(ctx, LoginInput{Email: "ghost@x.com", Password: "pw1"})
	_, errWrong := svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "pw2"})
	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("unknown=%v wrong=%v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("messages differ: %q vs %q", errUnknown, errWrong)
	}
	if _, err := svc.Login(ctx, LoginInput{Email: "A@X.COM", Password: "pw1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("email lookup must be case-sensitive, got %v", err)
	}
}

func TestLockoutScenario(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	view := mustRegister(t, svc, "a@x.com", "pw1")
	threshold := svc.Policy().Threshold

	for i := 1; i <= threshold; i++ {
		_, err := svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "wrong"})
		if i < threshold && !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if i == threshold && !errors.Is(err, ErrAccountLocked) {
			t.Fatalf("attempt %d should lock, got %v", i, err)
		}
	}
	acct := loadAccount(t, store, view.ID)
	if acct.LockExpiry == nil || !acct.LockExpiry.After(clock.Now()) {
		t.Fatalf("lock expiry not in the future: %+v", acct.LockExpiry)
	}

	_, err := svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "pw1"})
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("correct password while locked: %v", err)
	}
	if !locked.Until.Equal(*acct.LockExpiry) {
		t.Fatalf("until = %v, want %v", locked.Until, acct.LockExpiry)
	}
	if got := loadAccount(t, store, view.ID).FailedAttempts; got != threshold {
		t.Fatalf("counter moved while locked: %d", got)
	}

	clock.Advance(svc.Policy().Duration)
	mustLogin(t, svc, "a@x.com", "pw1")
	acct = loadAccount(t, store, view.ID)
	if acct.FailedAttempts != 0 || acct.LockExpiry != nil {
		t.Fatalf("lock not cleared: %+v", acct)
	}
}

func TestConcurrentFailuresAreNotUndercounted(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	view := mustRegister(t, svc, "a@x.com", "pw1")
	attempts := svc.Policy().Threshold - 1

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "wrong"})
		}()
	}
	wg.Wait()
	if got := loadAccount(t, store, view.ID).FailedAttempts; got != attempts {
		t.Fatalf("failed attempts = %d, want %d", got, attempts)
	}
}

func TestRefreshRotationScenario(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	mustRegister(t, svc, "a@x.com", "pw1")
	first := mustLogin(t, svc, "a@x.com", "pw1")

	second, err := svc.Refresh(ctx, first.RefreshToken, "")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken || second.AccessToken == "" {
		t.Fatalf("refresh did not rotate: %+v", second)
	}
	rec, err := store.RefreshTokens(ctx).FindByHash(ctx, HashRefreshToken(first.RefreshToken))
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if !rec.Revoked {
		t.Fatalf("predecessor not revoked")
	}
	if _, err := svc.Refresh(ctx, first.RefreshToken, ""); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("reuse should fail, got %v", err)
	}
	if _, err := svc.Refresh(ctx, second.RefreshToken, ""); err != nil {
		t.Fatalf("successor refresh: %v", err)
	}
}

func TestRefreshRejectsUnknownAndExpired(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	mustRegister(t, svc, "a@x.com", "pw1")
	pair := mustLogin(t, svc, "a@x.com", "pw1")

	for _, raw := range []string{"", "not-a-token"} {
		if _, err := svc.Refresh(ctx, raw, ""); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("Refresh(%q): %v", raw, err)
		}
	}
	clock.Advance(DefaultRefreshTTL)
	_, err := svc.Refresh(ctx, pair.RefreshToken, "")
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expired token: %v", err)
	}
	if err.Error() != ErrInvalidRefreshToken.Error() {
		t.Fatalf("error leaks reason: %q", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustRegister(t, svc, "a@x.com", "pw1")
	pair := mustLogin(t, svc, "a@x.com", "pw1")

	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		rejects atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, pair.RefreshToken, "")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrInvalidRefreshToken):
				rejects.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || rejects.Load() != 7 {
		t.Fatalf("wins=%d rejects=%d", wins.Load(), rejects.Load())
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustRegister(t, svc, "a@x.com", "pw1")
	pair := mustLogin(t, svc, "a@x.com", "pw1")

	for i := 0; i < 2; i++ {
		if err := svc.Logout(ctx, pair.RefreshToken, ""); err != nil {
			t.Fatalf("Logout #%d: %v", i+1, err)
		}
	}
	if err := svc.Logout(ctx, "never-issued", ""); err != nil {
		t.Fatalf("Logout unknown: %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken, ""); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("refresh after logout: %v", err)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	view := mustRegister(t, svc, "a@x.com", "pw1")
	a := mustLogin(t, svc, "a@x.com", "pw1")
	b := mustLogin(t, svc, "a@x.com", "pw1")

	n, err := svc.LogoutAll(ctx, view.ID, "")
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked = %d, want 2", n)
	}
	for _, raw := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := svc.Refresh(ctx, raw, ""); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("refresh after logout-all: %v", err)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	view := mustRegister(t, svc, "a@x.com", "pw1")
	pair := mustLogin(t, svc, "a@x.com", "pw1")

	principal, err := svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.Account.ID != view.ID || principal.Role() != RoleStudent {
		t.Fatalf("unexpected principal: %+v", principal.Account)
	}

	_, err = store.Accounts(ctx).UpdateWithLock(ctx, view.ID, func(a *Account) error {
		a.Active = false
		return nil
	})
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("inactive account: %v", err)
	}
	if _, err := svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "pw1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive login: %v", err)
	}

	clock.Advance(time.Hour)
	if _, err := svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expired token: %v", err)
	}
}

func TestAuditTrail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	view := mustRegister(t, svc, "a@x.com", "pw1")
	_, _ = svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "bad", ClientIP: "10.0.0.1"})
	pair := mustLogin(t, svc, "a@x.com", "pw1")
	if err := svc.Logout(ctx, pair.RefreshToken, ""); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	entries, err := svc.ListAudit(ctx, view.ID, 0)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	want := []string{ActionLogout, ActionLogin, ActionFailedLogin, ActionRegister}
	if len(entries) != len(want) {
		t.Fatalf("entries = %d, want %d", len(entries), len(want))
	}
	for i, action := range want {
		if entries[i].Action != action {
			t.Fatalf("entry %d action = %q, want %q", i, entries[i].Action, action)
		}
	}
	if entries[2].ClientIP != "10.0.0.1" {
		t.Fatalf("client ip not recorded: %+v", entries[2])
	}
}

func TestAuditFailureDoesNotBlockLogin(t *testing.T) {
	store := failingAudit{NewMemoryStore()}
	svc, err := NewService(store, testConfig(), WithHasher(NewBcryptHasher(4)), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterInput{Username: "u", Email: "a@x.com", Password: "pw1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "pw1"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func TestLoginOutcomeMetrics(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustRegister(t, svc, "a@x.com", "pw1")

	before := obs.AuthOutcomeCount(OpLogin, "failure", string(ReasonBadPassword))
	_, _ = svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "bad"})
	if got := obs.AuthOutcomeCount(OpLogin, "failure", string(ReasonBadPassword)); got != before+1 {
		t.Fatalf("bad_password counter = %v, want %v", got, before+1)
	}
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService(NewMemoryStore(), Config{}); err == nil {
		t.Fatalf("expected missing secret error")
	}
}

func TestCreateOrganization(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	org, err := svc.CreateOrganization(ctx, "Campus North", "north.edu", nil, "")
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	if _, err := svc.CreateOrganization(ctx, "Campus North", "", nil, ""); !errors.Is(err, ErrOrganizationExists) {
		t.Fatalf("duplicate org: %v", err)
	}
	view, err := svc.Register(ctx, RegisterInput{Username: "u", Email: "n@north.edu", Password: "pw", OrgID: &org.ID})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if view.OrgID == nil || *view.OrgID != org.ID {
		t.Fatalf("org not linked: %+v", view)
	}
}
