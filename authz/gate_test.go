package authz_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/approval"
	"github.com/zakops/gatekeep/authz"
)

var testSecret = []byte("test-secret-0123456789abcdef")

func newGate() *authz.Gate {
	return authz.NewGate(testSecret, "zakops-auth", "zakops-agent")
}

func TestAuthorize_ValidToken(t *testing.T) {
	g := newGate()
	token, err := g.Mint("user-1", authz.RoleApprover, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	actor, err := g.Authorize(token, authz.RoleApprover)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if actor.ID != "user-1" {
		t.Errorf("actor.ID = %q, want %q", actor.ID, "user-1")
	}
	if actor.Role != authz.RoleApprover {
		t.Errorf("actor.Role = %q, want APPROVER", actor.Role)
	}
}

func TestAuthorize_RoleHierarchy(t *testing.T) {
	g := newGate()

	tests := []struct {
		role     authz.Role
		required authz.Role
		wantErr  error
	}{
		{authz.RoleAdmin, authz.RoleApprover, nil},
		{authz.RoleApprover, authz.RoleApprover, nil},
		{authz.RoleOperator, authz.RoleApprover, gatekeep.ErrForbidden},
		{authz.RoleViewer, authz.RoleApprover, gatekeep.ErrForbidden},
		{authz.RoleViewer, authz.RoleViewer, nil},
		{authz.RoleOperator, authz.RoleOperator, nil},
	}
	for _, tt := range tests {
		token, err := g.Mint("u", tt.role, time.Hour)
		if err != nil {
			t.Fatalf("Mint(%s): %v", tt.role, err)
		}
		_, err = g.Authorize(token, tt.required)
		if tt.wantErr == nil && err != nil {
			t.Errorf("role %s vs required %s: unexpected error %v", tt.role, tt.required, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("role %s vs required %s: err = %v, want %v", tt.role, tt.required, err, tt.wantErr)
		}
	}
}

func TestAuthorize_MissingToken(t *testing.T) {
	g := newGate()
	if _, err := g.Authorize("", authz.RoleViewer); !errors.Is(err, gatekeep.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthorize_ExpiredToken(t *testing.T) {
	g := newGate()
	token, err := g.Mint("u", authz.RoleAdmin, -time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := g.Authorize(token, authz.RoleViewer); !errors.Is(err, gatekeep.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthorize_WrongIssuer(t *testing.T) {
	other := authz.NewGate(testSecret, "someone-else", "zakops-agent")
	token, err := other.Mint("u", authz.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := newGate().Authorize(token, authz.RoleViewer); !errors.Is(err, gatekeep.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthorize_WrongAudience(t *testing.T) {
	other := authz.NewGate(testSecret, "zakops-auth", "other-audience")
	token, err := other.Mint("u", authz.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := newGate().Authorize(token, authz.RoleViewer); !errors.Is(err, gatekeep.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthorize_WrongSecret(t *testing.T) {
	other := authz.NewGate([]byte("a-different-secret"), "zakops-auth", "zakops-agent")
	token, err := other.Mint("u", authz.RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := newGate().Authorize(token, authz.RoleViewer); !errors.Is(err, gatekeep.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthorize_MissingRoleClaimIs401(t *testing.T) {
	g := newGate()
	now := time.Now().UTC()
	token, err := g.MintWithClaims(jwt.RegisteredClaims{
		Subject:   "u",
		Issuer:    "zakops-auth",
		Audience:  jwt.ClaimStrings{"zakops-agent"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("MintWithClaims: %v", err)
	}

	// Missing role is an invalid token (401), never a 403.
	_, err = g.Authorize(token, authz.RoleViewer)
	if !errors.Is(err, gatekeep.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if errors.Is(err, gatekeep.ErrForbidden) {
		t.Error("missing role claim mapped to ErrForbidden")
	}
}

func TestAuthorize_UnknownRole(t *testing.T) {
	g := newGate()
	token, err := g.Mint("u", authz.Role("SUPERUSER"), time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := g.Authorize(token, authz.RoleViewer); !errors.Is(err, gatekeep.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := authz.DefaultPolicy()

	if got := p.RoleForTier(approval.TierCritical); got != authz.RoleApprover {
		t.Errorf("critical tier requires %s, want APPROVER", got)
	}
	if got := p.RoleForTier(approval.TierWrite); got != authz.RoleOperator {
		t.Errorf("write tier requires %s, want OPERATOR", got)
	}
	if got := p.RoleForTier(approval.TierRead); got != authz.RoleViewer {
		t.Errorf("read tier requires %s, want VIEWER", got)
	}
	if got := p.RoleForTier(approval.Tier("bogus")); got != authz.RoleApprover {
		t.Errorf("unknown tier requires %s, want APPROVER fallback", got)
	}
}
