package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/slicegate/internal/model"
)

func testSlice() *model.Slice {
	return &model.Slice{
		AnchorID:      "r1",
		PolicyID:      "recent",
		PolicyVersion: 3,
		RecordIDs:     []string{"r0", "r1", "r2"},
		Boundary:      []string{model.BoundaryExhausted},
		Digest:        "deadbeef",
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService("test-secret", nil, 10*time.Minute)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService("", nil, time.Minute); err == nil {
		t.Error("expected error without signing secret")
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	s := newTestService(t)

	tok, err := s.Issue(testSlice())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.SliceDigest != "deadbeef" {
		t.Errorf("digest = %q", claims.SliceDigest)
	}
	if claims.PolicyID != "recent" || claims.PolicyVersion != 3 {
		t.Errorf("policy binding = %s v%d", claims.PolicyID, claims.PolicyVersion)
	}
	if claims.ID == "" {
		t.Error("expected a token id")
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	s := newTestService(t)
	tok, err := s.Issue(testSlice())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Flip every byte of the decoded signature in turn; each altered
	// token must fail as a signature mismatch.
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("expected compact JWS, got %d segments", len(parts))
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	for i := range sig {
		altered := make([]byte, len(sig))
		copy(altered, sig)
		altered[i] ^= 0x01
		tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(altered)
		if _, err := s.Verify(tampered); !errors.Is(err, ErrSignatureMismatch) {
			t.Fatalf("byte %d: expected ErrSignatureMismatch, got %v", i, err)
		}
	}
}

func TestVerifyTamperedClaims(t *testing.T) {
	s := newTestService(t)
	tok, _ := s.Issue(testSlice())

	parts := strings.Split(tok, ".")
	// Re-point the token at a different policy without re-signing.
	other := testSlice()
	other.PolicyID = "elevated"
	forged, _ := s.Issue(other)
	forgedParts := strings.Split(forged, ".")

	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]
	if _, err := s.Verify(spliced); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("expected ErrSignatureMismatch for spliced claims, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	s := newTestService(t)
	issued := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	tok, err := s.Issue(testSlice())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Just inside the window.
	s.now = func() time.Time { return issued.Add(9 * time.Minute) }
	if _, err := s.Verify(tok); err != nil {
		t.Fatalf("verify before expiry: %v", err)
	}

	// Strictly after expiry: signature still authentic, so the reason
	// must be expiry, not a signature failure.
	s.now = func() time.Time { return issued.Add(11 * time.Minute) }
	if _, err := s.Verify(tok); !errors.Is(err, ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	s := newTestService(t)

	for _, tok := range []string{"", "garbage", "a.b", "a.b.c.d", "!!!.???.###"} {
		if _, err := s.Verify(tok); !errors.Is(err, ErrMalformed) {
			t.Errorf("%q: expected ErrMalformed, got %v", tok, err)
		}
	}
}

func TestSecretRotation(t *testing.T) {
	old := newTestService(t)
	tok, err := old.Issue(testSlice())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// After rotation the retired secret still verifies old tokens.
	rotated, err := NewService("new-secret", []string{"test-secret"}, 10*time.Minute)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	claims, err := rotated.Verify(tok)
	if err != nil {
		t.Fatalf("verify with retired secret: %v", err)
	}
	if claims.PolicyID != "recent" {
		t.Errorf("claims lost across rotation: %+v", claims)
	}

	// New issuance uses only the current secret.
	tok2, _ := rotated.Issue(testSlice())
	if _, err := old.Verify(tok2); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("old service must not verify tokens signed with the new secret, got %v", err)
	}

	// Dropping the retired secret invalidates pre-rotation tokens.
	final, _ := NewService("new-secret", nil, 10*time.Minute)
	if _, err := final.Verify(tok); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("expected ErrSignatureMismatch without retired secret, got %v", err)
	}
}
