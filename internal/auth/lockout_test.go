package auth

import (
	"testing"
	"time"
)

func TestLockoutPolicyTransitions(t *testing.T) {
	p := LockoutPolicy{Threshold: 3, Duration: 10 * time.Minute}
	now := newFakeClock().Now()
	acct := &Account{}

	for i := 1; i < 3; i++ {
		if p.RegisterFailure(acct, now) {
			t.Fatalf("failure %d should not lock", i)
		}
		if acct.LockExpiry != nil {
			t.Fatalf("lock set early")
		}
	}
	if !p.RegisterFailure(acct, now) {
		t.Fatalf("third failure should lock")
	}
	if acct.FailedAttempts != 3 || !acct.LockExpiry.Equal(now.Add(10*time.Minute)) {
		t.Fatalf("unexpected state: %+v", acct)
	}
	if !p.Locked(acct, now) {
		t.Fatalf("expected locked")
	}
	if p.Locked(acct, *acct.LockExpiry) {
		t.Fatalf("lock must be released at the expiry instant")
	}

	p.RegisterSuccess(acct)
	if acct.FailedAttempts != 0 || acct.LockExpiry != nil {
		t.Fatalf("success did not reset: %+v", acct)
	}
}

func TestAllowed(t *testing.T) {
	cases := []struct {
		subject, required string
		want              bool
	}{
		{RoleStudent, RoleStudent, true},
		{RoleStudent, RoleFaculty, false},
		{RoleAdmin, RoleFaculty, true},
		{" Admin ", RoleStudent, true},
		{"", RoleStudent, false},
		{RoleFaculty, "FACULTY", true},
	}
	for _, tc := range cases {
		if got := Allowed(tc.subject, tc.required); got != tc.want {
			t.Fatalf("Allowed(%q, %q) = %v, want %v", tc.subject, tc.required, got, tc.want)
		}
	}
}
