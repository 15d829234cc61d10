// Package token issues and verifies admissibility tokens: expiring,
// tamper-evident attestations that a slice was built under a specific
// registered policy version.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/rcliao/slicegate/internal/model"
)

// Verification failure reasons.
var (
	// ErrMalformed reports a token whose structure cannot be parsed.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureMismatch reports an altered binding or a wrong key.
	ErrSignatureMismatch = errors.New("token signature mismatch")
	// ErrExpired reports a structurally valid, correctly signed token
	// past its expiry.
	ErrExpired = errors.New("token expired")
)

// Claims bind a slice digest to the policy that produced it. Signed
// HS256; the HMAC comparison inside the JWT library is constant-time.
type Claims struct {
	SliceDigest   string `json:"dig"`
	PolicyID      string `json:"pid"`
	PolicyVersion int    `json:"pv"`
	jwt.RegisteredClaims
}

// Service signs and verifies admissibility tokens. The current secret
// signs new tokens; retired secrets only verify, so tokens issued
// before a rotation stay valid until they expire. Secrets never leave
// this package.
type Service struct {
	current []byte
	retired [][]byte
	ttl     time.Duration
	now     func() time.Time
}

// NewService creates a token service. current must be non-empty.
func NewService(current string, retired []string, ttl time.Duration) (*Service, error) {
	if current == "" {
		return nil, errors.New("no signing secret configured")
	}
	s := &Service{
		current: []byte(current),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, r := range retired {
		if r != "" {
			s.retired = append(s.retired, []byte(r))
		}
	}
	return s, nil
}

// Issue signs an admissibility token for a built slice.
func (s *Service) Issue(sl *model.Slice) (string, error) {
	now := s.now().UTC()
	claims := &Claims{
		SliceDigest:   sl.Digest,
		PolicyID:      sl.PolicyID,
		PolicyVersion: sl.PolicyVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.current)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a presented token against the current and retired
// secrets. Expiry is checked after the signature, independently of it,
// so an expired-but-authentic token reports ErrExpired rather than a
// signature failure.
func (s *Service) Verify(tokenStr string) (*Claims, error) {
	// Claims validation is deferred so expiry can be distinguished
	// from tampering below.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	keys := make([][]byte, 0, 1+len(s.retired))
	keys = append(keys, s.current)
	keys = append(keys, s.retired...)

	for _, key := range keys {
		claims := &Claims{}
		_, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return key, nil
		})
		switch {
		case err == nil:
			if claims.ExpiresAt == nil {
				return nil, fmt.Errorf("%w: missing expiry", ErrMalformed)
			}
			if !s.now().Before(claims.ExpiresAt.Time) {
				return nil, ErrExpired
			}
			return claims, nil
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			continue // try the next key
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return nil, ErrSignatureMismatch
}
