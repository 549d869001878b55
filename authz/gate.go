package authz

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zakops/gatekeep"
	"github.com/zakops/gatekeep/approval"
)

// Actor is the authenticated principal extracted from a valid token.
type Actor struct {
	ID        string
	Role      Role
	ExpiresAt time.Time
}

// TierPolicy maps an approval's permission tier to the minimum role
// required to decide it. The policy is supplied by the caller; the gate
// itself hard-codes nothing.
type TierPolicy map[approval.Tier]Role

// DefaultPolicy requires APPROVER for critical actions, OPERATOR for
// writes, and VIEWER for reads.
func DefaultPolicy() TierPolicy {
	return TierPolicy{
		approval.TierRead:     RoleViewer,
		approval.TierWrite:    RoleOperator,
		approval.TierCritical: RoleApprover,
	}
}

// RoleForTier returns the minimum role the policy requires for tier.
// Unknown tiers fall back to APPROVER rather than open access.
func (p TierPolicy) RoleForTier(tier approval.Tier) Role {
	if r, ok := p[tier]; ok {
		return r
	}
	return RoleApprover
}

// claims are the registered plus private claims the gate validates.
type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Gate validates caller tokens and enforces the role hierarchy.
type Gate struct {
	secret   []byte
	issuer   string
	audience string
}

// NewGate creates a Gate validating HS256 tokens against the given
// secret, issuer, and audience.
func NewGate(secret []byte, issuer, audience string) *Gate {
	return &Gate{secret: secret, issuer: issuer, audience: audience}
}

// Authorize validates the raw bearer token and checks its role against
// required.
//
// Signature, expiry, issuer, and audience failures, as well as missing
// subject or role claims, return ErrUnauthorized. A structurally valid
// token whose role is below required returns ErrForbidden — a distinct
// failure class, so callers can map them to 401 and 403 respectively.
func (g *Gate) Authorize(rawToken string, required Role) (*Actor, error) {
	if rawToken == "" {
		return nil, fmt.Errorf("%w: missing token", gatekeep.ErrUnauthorized)
	}

	var c claims
	_, err := jwt.ParseWithClaims(rawToken, &c, g.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(g.issuer),
		jwt.WithAudience(g.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gatekeep.ErrUnauthorized, err)
	}

	if c.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", gatekeep.ErrUnauthorized)
	}
	role := Role(c.Role)
	if c.Role == "" {
		// Missing required claim means the token is invalid, not that
		// the caller lacks permission.
		return nil, fmt.Errorf("%w: missing role claim", gatekeep.ErrUnauthorized)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", gatekeep.ErrUnauthorized, c.Role)
	}

	if !role.AtLeast(required) {
		return nil, fmt.Errorf("%w: role %s below required %s", gatekeep.ErrForbidden, role, required)
	}

	return &Actor{
		ID:        c.Subject,
		Role:      role,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

func (g *Gate) keyFunc(_ *jwt.Token) (any, error) {
	return g.secret, nil
}

// Mint creates a signed token for the given subject and role. Used by
// tests and operational tooling; the production issuer lives elsewhere.
func (g *Gate) Mint(subject string, role Role, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	c := claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    g.issuer,
			Audience:  jwt.ClaimStrings{g.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("gatekeep/authz: sign token: %w", err)
	}
	return signed, nil
}

// MintWithClaims is like Mint but lets tests control every claim,
// including omitting the role entirely.
func (g *Gate) MintWithClaims(c jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("gatekeep/authz: sign token: %w", err)
	}
	return signed, nil
}
