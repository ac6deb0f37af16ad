package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"campusbot.org/identity/internal/obs"
)

// Operation names used for metrics and logs.
const (
	OpRegister     = "register"
	OpLogin        = "login"
	OpRefresh      = "refresh"
	OpLogout       = "logout"
	OpLogoutAll    = "logout_all"
	OpAuthenticate = "authenticate"
)

const dummyPassword = "campusbot-timing-equaliser"

// Auditor records security-relevant actions. Failures are the auditor's
// concern; callers never see them.
type Auditor interface {
	Record(ctx context.Context, entry *AuditEntry)
}

// Service orchestrates registration, login, refresh and logout. It keeps no
// mutable state between calls; everything lives in the Store.
type Service struct {
	store   Store
	cfg     Config
	codec   *TokenCodec
	hasher  PasswordHasher
	tokens  TokenGenerator
	policy  LockoutPolicy
	auditor Auditor
	logger  *slog.Logger
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithHasher replaces the default bcrypt hasher.
func WithHasher(h PasswordHasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return errors.New("auth: nil hasher")
		}
		s.hasher = h
		return nil
	}
}

// WithTokenGenerator replaces the crypto/rand refresh token source.
func WithTokenGenerator(g TokenGenerator) ServiceOption {
	return func(s *Service) error {
		if g == nil {
			return errors.New("auth: nil token generator")
		}
		s.tokens = g
		return nil
	}
}

// WithAuditor routes audit entries somewhere other than the store.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		if a != nil {
			s.auditor = a
		}
		return nil
	}
}

// WithLogger pins the structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) error {
		s.logger = l
		return nil
	}
}

// NewService constructs Service. cfg is copied; later changes to the
// caller's value have no effect.
func NewService(store Store, cfg Config, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	svc := &Service{
		store:  store,
		cfg:    cfg,
		hasher: NewBcryptHasher(0),
		tokens: NewRandomGenerator(nil),
		policy: LockoutPolicy{Threshold: cfg.LockThreshold, Duration: cfg.LockDuration},
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.auditor == nil {
		svc.auditor = &storeAuditor{store: store, log: svc.log}
	}
	codec, err := NewTokenCodec(cfg, svc.now)
	if err != nil {
		return nil, err
	}
	svc.codec = codec
	return svc, nil
}

// Policy returns the configured lockout policy.
func (s *Service) Policy() LockoutPolicy { return s.policy }

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return obs.Logger()
}

// Register creates an account and returns its public projection.
func (s *Service) Register(ctx context.Context, in RegisterInput) (AccountView, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	role := NormalizeRole(in.Role)
	if role == "" {
		role = RoleStudent
	}
	if username == "" || email == "" || in.Password == "" {
		s.fail(OpRegister, "invalid_input")
		return AccountView{}, ErrInvalidInput
	}

	accounts := s.store.Accounts(ctx)
	if _, err := accounts.FindByEmail(ctx, email); err == nil {
		s.fail(OpRegister, ReasonDuplicateEmail)
		return AccountView{}, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return AccountView{}, s.internal(OpRegister, "find account", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		s.fail(OpRegister, "invalid_input")
		return AccountView{}, ErrInvalidInput
	}
	if err != nil {
		return AccountView{}, s.internal(OpRegister, "hash password", err)
	}
	acct := &Account{
		OrgID:        in.OrgID,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	if err := accounts.Create(ctx, acct); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateEmail):
			s.fail(OpRegister, ReasonDuplicateEmail)
			return AccountView{}, ErrDuplicateEmail
		case errors.Is(err, ErrUnknownOrganization):
			s.fail(OpRegister, ReasonUnknownOrg)
			return AccountView{}, ErrUnknownOrganization
		default:
			return AccountView{}, s.internal(OpRegister, "create account", err)
		}
	}

	s.audit(ctx, &acct.ID, ActionRegister, "role="+role, in.ClientIP)
	obs.RecordAuthOutcome(OpRegister, "success", "")
	s.log().Info("account_registered", "account_id", acct.ID, "role", role)
	return acct.View(), nil
}

// Login authenticates a password and issues a token pair.
func (s *Service) Login(ctx context.Context, in LoginInput) (TokenPair, error) {
	email := strings.TrimSpace(in.Email)
	accounts := s.store.Accounts(ctx)

	var (
		acct *Account
		err  error
	)
	if email == "" {
		err = ErrNotFound
	} else {
		acct, err = accounts.FindByEmail(ctx, email)
	}
	if errors.Is(err, ErrNotFound) {
		s.burnVerify(in.Password)
		s.audit(ctx, nil, ActionFailedLogin, "unknown_account", in.ClientIP)
		s.fail(OpLogin, ReasonUnknownAccount)
		return TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, s.internal(OpLogin, "find account", err)
	}

	now := s.now()
	if s.policy.Locked(acct, now) {
		return TokenPair{}, s.rejectLocked(ctx, acct.ID, *acct.LockExpiry, in.ClientIP)
	}

	matched := s.hasher.Verify(in.Password, acct.PasswordHash)

	var (
		locked    *LockedError
		triggered bool
		inactive  bool
	)
	updated, err := accounts.UpdateWithLock(ctx, acct.ID, func(a *Account) error {
		// A concurrent failure may have locked the row since the snapshot.
		if s.policy.Locked(a, now) {
			locked = &LockedError{Until: *a.LockExpiry}
			return locked
		}
		if !matched {
			triggered = s.policy.RegisterFailure(a, now)
			return nil
		}
		if !a.Active {
			inactive = true
			return errAccountInactive
		}
		s.policy.RegisterSuccess(a)
		return nil
	})
	switch {
	case locked != nil:
		return TokenPair{}, s.rejectLocked(ctx, acct.ID, locked.Until, in.ClientIP)
	case inactive:
		s.audit(ctx, &acct.ID, ActionFailedLogin, string(ReasonInactive), in.ClientIP)
		s.fail(OpLogin, ReasonInactive)
		return TokenPair{}, ErrInvalidCredentials
	case errors.Is(err, ErrNotFound):
		s.fail(OpLogin, ReasonUnknownAccount)
		return TokenPair{}, ErrInvalidCredentials
	case err != nil:
		return TokenPair{}, s.internal(OpLogin, "update account", err)
	}

	if !matched {
		meta := fmt.Sprintf("attempt=%d", updated.FailedAttempts)
		s.audit(ctx, &acct.ID, ActionFailedLogin, meta, in.ClientIP)
		if triggered {
			s.fail(OpLogin, ReasonLockTriggered)
			s.log().Warn("account_locked", "account_id", acct.ID, "until", updated.LockExpiry.UTC())
			return TokenPair{}, &LockedError{Until: *updated.LockExpiry}
		}
		s.fail(OpLogin, ReasonBadPassword)
		return TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, updated, now)
	if err != nil {
		return TokenPair{}, s.internal(OpLogin, "issue tokens", err)
	}
	s.audit(ctx, &acct.ID, ActionLogin, "", in.ClientIP)
	obs.RecordAuthOutcome(OpLogin, "success", "")
	return pair, nil
}

var errAccountInactive = errors.New("auth: account inactive")

func (s *Service) rejectLocked(ctx context.Context, accountID int64, until time.Time, ip string) error {
	s.audit(ctx, &accountID, ActionLoginLocked, "until="+until.UTC().Format(time.RFC3339), ip)
	s.fail(OpLogin, ReasonLocked)
	return &LockedError{Until: until}
}

// burnVerify spends one hash comparison so unknown emails cost the same as
// wrong passwords.
func (s *Service) burnVerify(password string) {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(dummyPassword)
		if err == nil {
			s.dummyHash = h
		}
	})
	_ = s.hasher.Verify(password, s.dummyHash)
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked in the same store step that persists its successor.
func (s *Service) Refresh(ctx context.Context, raw string, clientIP string) (TokenPair, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		s.fail(OpRefresh, ReasonTokenMalformed)
		return TokenPair{}, ErrInvalidRefreshToken
	}
	hash := HashRefreshToken(raw)
	tokens := s.store.RefreshTokens(ctx)

	rec, err := tokens.FindByHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		s.fail(OpRefresh, ReasonTokenUnknown)
		return TokenPair{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return TokenPair{}, s.internal(OpRefresh, "find refresh token", err)
	}
	now := s.now()
	if rec.Revoked {
		s.fail(OpRefresh, ReasonTokenRevoked)
		s.log().Warn("refresh_token_reuse", "account_id", rec.AccountID, "token_id", rec.ID)
		return TokenPair{}, ErrInvalidRefreshToken
	}
	if !rec.Active(now) {
		s.fail(OpRefresh, ReasonTokenExpired)
		return TokenPair{}, ErrInvalidRefreshToken
	}

	acct, err := s.store.Accounts(ctx).Find(ctx, rec.AccountID)
	if errors.Is(err, ErrNotFound) {
		s.fail(OpRefresh, ReasonAccountMissing)
		return TokenPair{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return TokenPair{}, s.internal(OpRefresh, "find account", err)
	}
	if !acct.Active {
		s.fail(OpRefresh, ReasonInactive)
		return TokenPair{}, ErrInvalidRefreshToken
	}

	access, claims, err := s.codec.Issue(acct.Email, acct.Role, acct.ID)
	if err != nil {
		return TokenPair{}, s.internal(OpRefresh, "sign access token", err)
	}
	nextRaw, next, err := s.newRefreshRecord(acct.ID, now)
	if err != nil {
		return TokenPair{}, s.internal(OpRefresh, "generate refresh token", err)
	}
	if err := tokens.Rotate(ctx, hash, now, next); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.fail(OpRefresh, ReasonRotationLost)
			return TokenPair{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, s.internal(OpRefresh, "rotate refresh token", err)
	}

	s.audit(ctx, &acct.ID, ActionRefresh, "", clientIP)
	obs.RecordAuthOutcome(OpRefresh, "success", "")
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     nextRaw,
		TokenType:        TokenTypeBearer,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

// Logout revokes the refresh token if it exists. Unknown and already
// revoked tokens are a successful no-op.
func (s *Service) Logout(ctx context.Context, raw string, clientIP string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		obs.RecordAuthOutcome(OpLogout, "success", string(ReasonTokenMalformed))
		return nil
	}
	hash := HashRefreshToken(raw)
	tokens := s.store.RefreshTokens(ctx)

	rec, err := tokens.FindByHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		obs.RecordAuthOutcome(OpLogout, "success", string(ReasonTokenUnknown))
		return nil
	}
	if err != nil {
		return s.internal(OpLogout, "find refresh token", err)
	}
	if rec.Revoked {
		obs.RecordAuthOutcome(OpLogout, "success", string(ReasonTokenRevoked))
		return nil
	}
	if err := tokens.Revoke(ctx, hash); err != nil && !errors.Is(err, ErrNotFound) {
		return s.internal(OpLogout, "revoke refresh token", err)
	}
	s.audit(ctx, &rec.AccountID, ActionLogout, "", clientIP)
	obs.RecordAuthOutcome(OpLogout, "success", "")
	return nil
}

// LogoutAll revokes every refresh token owned by the account and returns
// how many were still active.
func (s *Service) LogoutAll(ctx context.Context, accountID int64, clientIP string) (int64, error) {
	n, err := s.store.RefreshTokens(ctx).RevokeAll(ctx, accountID)
	if err != nil {
		return 0, s.internal(OpLogoutAll, "revoke tokens", err)
	}
	s.audit(ctx, &accountID, ActionLogoutAll, fmt.Sprintf("revoked=%d", n), clientIP)
	obs.RecordAuthOutcome(OpLogoutAll, "success", "")
	return n, nil
}

// Authenticate resolves a bearer access token into a principal. Missing or
// deactivated accounts are rejected like a bad signature.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, reason, err := s.codec.validate(token)
	if err != nil {
		s.fail(OpAuthenticate, reason)
		return Principal{}, ErrInvalidAccessToken
	}
	if !IsAccessType(claims) {
		s.fail(OpAuthenticate, ReasonTokenType)
		return Principal{}, ErrInvalidAccessToken
	}
	acct, err := s.store.Accounts(ctx).Find(ctx, claims.AccountID)
	if errors.Is(err, ErrNotFound) {
		s.fail(OpAuthenticate, ReasonAccountMissing)
		return Principal{}, ErrInvalidAccessToken
	}
	if err != nil {
		return Principal{}, s.internal(OpAuthenticate, "find account", err)
	}
	if !acct.Active {
		s.fail(OpAuthenticate, ReasonInactive)
		return Principal{}, ErrInvalidAccessToken
	}
	return Principal{Account: acct, Claims: claims}, nil
}

// CreateOrganization registers a tenant.
func (s *Service) CreateOrganization(ctx context.Context, name, domain string, actor *int64, clientIP string) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	org := &Organization{Name: name, Domain: strings.TrimSpace(domain), CreatedAt: s.now().UTC()}
	if err := s.store.Organizations(ctx).Create(ctx, org); err != nil {
		if errors.Is(err, ErrOrganizationExists) {
			return nil, ErrOrganizationExists
		}
		return nil, s.internal("organization_create", "create organization", err)
	}
	s.audit(ctx, actor, ActionOrgCreate, "org_id="+accountKey(org.ID), clientIP)
	return org, nil
}

// ListOrganizations returns all tenants ordered by id.
func (s *Service) ListOrganizations(ctx context.Context) ([]*Organization, error) {
	orgs, err := s.store.Organizations(ctx).List(ctx)
	if err != nil {
		return nil, s.internal("organization_list", "list organizations", err)
	}
	return orgs, nil
}

// ListAudit returns the newest entries for an account.
func (s *Service) ListAudit(ctx context.Context, accountID int64, limit int) ([]*AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	entries, err := s.store.Audit(ctx).ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, s.internal("audit_list", "list audit", err)
	}
	return entries, nil
}

func (s *Service) issuePair(ctx context.Context, acct *Account, now time.Time) (TokenPair, error) {
	access, claims, err := s.codec.Issue(acct.Email, acct.Role, acct.ID)
	if err != nil {
		return TokenPair{}, err
	}
	raw, rec, err := s.newRefreshRecord(acct.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		TokenType:        TokenTypeBearer,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) newRefreshRecord(accountID int64, now time.Time) (string, *RefreshToken, error) {
	raw, err := s.tokens.Generate()
	if err != nil {
		return "", nil, err
	}
	issued := now.UTC()
	return raw, &RefreshToken{
		AccountID: accountID,
		TokenHash: HashRefreshToken(raw),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(s.cfg.RefreshTTL),
	}, nil
}

func (s *Service) audit(ctx context.Context, accountID *int64, action, metadata, ip string) {
	s.auditor.Record(ctx, &AuditEntry{
		AccountID: accountID,
		Action:    action,
		Metadata:  metadata,
		ClientIP:  ip,
		CreatedAt: s.now().UTC(),
	})
}

func (s *Service) fail(op string, reason Reason) {
	obs.RecordAuthOutcome(op, "failure", string(reason))
	s.log().Info("auth_rejected", "operation", op, "reason", string(reason))
}

// internal logs the underlying failure and returns the opaque sentinel.
func (s *Service) internal(op, step string, err error) error {
	obs.RecordAuthOutcome(op, "error", string(ReasonStoreFailure))
	s.log().Error("auth_internal_error", "operation", op, "step", step, "error", err.Error())
	return ErrInternal
}

// storeAuditor appends straight to the store and swallows failures after
// logging them.
type storeAuditor struct {
	store Store
	log   func() *slog.Logger
}

func (a *storeAuditor) Record(ctx context.Context, entry *AuditEntry) {
	if err := a.store.Audit(ctx).Append(ctx, entry); err != nil {
		a.log().Error("audit_append_failed", "action", entry.Action, "error", err.Error())
	}
}
