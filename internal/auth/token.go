// Package auth issues and verifies session tokens and carries the caller's
// identity through gin requests.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

var ErrInvalidToken = errors.New("invalid session token")

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleClient
}

// Identity is the authenticated session user. For clients the subject is
// the client row id.
type Identity struct {
	Subject string
	Role    Role
}

func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// Key identifies the identity for caching; it changes when the role does.
func (id Identity) Key() string {
	return string(id.Role) + ":" + id.Subject
}

type roleClaims struct {
	Role Role `json:"role"`
}

type Issuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	signer jose.Signer
	now    func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty signing secret")
	}
	// HS256 wants a 256-bit key regardless of how long the secret is.
	sum := sha256.Sum256([]byte(secret))
	key := sum[:]

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("new signer: %w", err)
	}
	return &Issuer{key: key, issuer: issuer, ttl: ttl, signer: signer, now: time.Now}, nil
}

// Issue signs a token for subject. A zero ttl uses the issuer default.
func (i *Issuer) Issue(subject string, role Role, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("empty subject")
	}
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if ttl <= 0 {
		ttl = i.ttl
	}

	now := i.now()
	std := jwt.Claims{
		Issuer:   i.issuer,
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.Signed(i.signer).Claims(std).Claims(roleClaims{Role: role}).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (i *Issuer) Verify(raw string) (Identity, error) {
	tok, err := jwt.ParseSigned(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(tok.Headers) != 1 || tok.Headers[0].Algorithm != string(jose.HS256) {
		return Identity{}, fmt.Errorf("%w: unexpected signing algorithm", ErrInvalidToken)
	}

	var std jwt.Claims
	var custom roleClaims
	if err := tok.Claims(i.key, &std, &custom); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := std.Validate(jwt.Expected{Issuer: i.issuer, Time: i.now()}); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if std.Subject == "" || !custom.Role.Valid() {
		return Identity{}, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}
	return Identity{Subject: std.Subject, Role: custom.Role}, nil
}
