package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/google/uuid"
)

// MinKeySize is the minimum HMAC key length in bytes.
const MinKeySize = 32

var (
	// ErrTokenExpired is returned for tokens whose exp claim has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for malformed, unsigned or tampered tokens.
	ErrTokenInvalid = errors.New("token invalid")
)

// Issuer signs and verifies HS256 bearer tokens.
type Issuer struct {
	key    []byte
	ttl    time.Duration
	signer jose.Signer
	now    func() time.Time
}

// NewIssuer creates an Issuer. The key must be at least MinKeySize bytes.
func NewIssuer(key []byte, ttl time.Duration) (*Issuer, error) {
	if len(key) < MinKeySize {
		return nil, fmt.Errorf("token key must be at least %d bytes, got %d", MinKeySize, len(key))
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	return &Issuer{key: key, ttl: ttl, signer: signer, now: time.Now}, nil
}

// WithClock replaces the time source. Used by tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// TTL returns how long issued tokens stay valid.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue returns a signed token for userID and the instant it expires.
func (i *Issuer) Issue(userID int64) (string, time.Time, error) {
	now := i.now().Truncate(time.Second)
	expiresAt := now.Add(i.ttl)
	claims := jwt.Claims{
		Subject:  strconv.FormatInt(userID, 10),
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(expiresAt),
		ID:       uuid.NewString(),
	}
	raw, err := jwt.Signed(i.signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return raw, expiresAt, nil
}

// Verify checks the signature and expiry of raw and returns the user ID it was issued for.
// A token without an exp claim is rejected.
func (i *Issuer) Verify(raw string) (int64, error) {
	tok, err := jwt.ParseSigned(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if len(tok.Headers) != 1 || tok.Headers[0].Algorithm != string(jose.HS256) {
		return 0, fmt.Errorf("%w: unexpected algorithm", ErrTokenInvalid)
	}

	var claims jwt.Claims
	if err := tok.Claims(i.key, &claims); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Expiry == nil {
		return 0, fmt.Errorf("%w: missing exp", ErrTokenInvalid)
	}
	if i.now().After(claims.Expiry.Time()) {
		return 0, ErrTokenExpired
	}
	if err := claims.ValidateWithLeeway(jwt.Expected{Time: i.now()}, 0); err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return 0, ErrTokenExpired
		}
		return 0, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: bad subject", ErrTokenInvalid)
	}
	return userID, nil
}

// TokenExpiry reads the exp claim of raw without verifying the signature.
// Clients use it to discard tokens they can no longer present.
func TokenExpiry(raw string) (time.Time, error) {
	tok, err := jwt.ParseSigned(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	var claims jwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Expiry == nil {
		return time.Time{}, fmt.Errorf("%w: missing exp", ErrTokenInvalid)
	}
	return claims.Expiry.Time(), nil
}

// IsExpired reports whether raw must be treated as expired at now.
// Unreadable tokens and tokens without exp count as expired.
func IsExpired(raw string, now time.Time) bool {
	exp, err := TokenExpiry(raw)
	if err != nil {
		return true
	}
	return now.After(exp)
}

// NewRequestID returns a random identifier for correlating log lines.
func NewRequestID() string {
	return uuid.NewString()
}
