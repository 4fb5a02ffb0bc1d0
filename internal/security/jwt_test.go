package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTManagerRoundTripIdentity(t *testing.T) {
	m := NewJWTManager("iss", "aud", "0123456789abcdef0123456789abcdef")
	raw, err := m.SignAccessToken(Identity{SubjectID: "student-1", TenantID: "tenant-a", Permissions: []string{"attendance:issue"}}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := m.ParseAccessToken(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	id := claims.Identity()
	if id.SubjectID != "student-1" || id.TenantID != "tenant-a" || !id.HasPermission("attendance:issue") {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.HasPermission("attendance:invalidate") {
		t.Fatal("unexpected permission")
	}
}

func TestJWTManagerRejectsForeignAudienceAndSecret(t *testing.T) {
	signer := NewJWTManager("iss", "aud", "secret-one-secret-one-secret-one")
	raw, err := signer.SignAccessToken(Identity{SubjectID: "s", TenantID: "t"}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewJWTManager("iss", "other", "secret-one-secret-one-secret-one").ParseAccessToken(raw); err == nil {
		t.Fatal("expected audience mismatch")
	}
	if _, err := NewJWTManager("iss", "aud", "secret-two-secret-two-secret-two").ParseAccessToken(raw); err == nil {
		t.Fatal("expected signature mismatch")
	}
}

func TestJWTManagerRejectsExpiredAndWrongType(t *testing.T) {
	m := NewJWTManager("iss", "aud", "0123456789abcdef0123456789abcdef")
	raw, err := m.SignAccessToken(Identity{SubjectID: "s", TenantID: "t"}, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.ParseAccessToken(raw); err == nil {
		t.Fatal("expected expired token rejection")
	}

	claims := Claims{
		TokenType: "refresh",
		TenantID:  "t",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "iss",
			Subject:   "s",
			Audience:  []string{"aud"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	raw, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("sign refresh: %v", err)
	}
	if _, err := m.ParseAccessToken(raw); err == nil {
		t.Fatal("expected token type rejection")
	}
}

func TestSignRequiresTenant(t *testing.T) {
	m := NewJWTManager("iss", "aud", "0123456789abcdef0123456789abcdef")
	if _, err := m.SignAccessToken(Identity{SubjectID: "s"}, time.Minute); err == nil {
		t.Fatal("expected error without tenant")
	}
}
