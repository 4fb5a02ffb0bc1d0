package security

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the verified caller. Subject and tenant come only from a validated
// token, never from request bodies.
type Identity struct {
	SubjectID   string
	TenantID    string
	Permissions []string
}

func (i Identity) HasPermission(required string) bool {
	return slices.Contains(i.Permissions, required)
}

type Claims struct {
	TokenType   string   `json:"token_type"`
	TenantID    string   `json:"tenant_id"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() Identity {
	return Identity{
		SubjectID:   c.Subject,
		TenantID:    c.TenantID,
		Permissions: append([]string(nil), c.Permissions...),
	}
}

type JWTManager struct {
	issuer       string
	audience     string
	accessSecret []byte
}

func NewJWTManager(issuer, audience, accessSecret string) *JWTManager {
	return &JWTManager{
		issuer:       issuer,
		audience:     audience,
		accessSecret: []byte(accessSecret),
	}
}

func (m *JWTManager) SignAccessToken(id Identity, ttl time.Duration) (string, error) {
	return m.SignAccessTokenWithJTI(id, ttl, uuid.NewString())
}

func (m *JWTManager) SignAccessTokenWithJTI(id Identity, ttl time.Duration, jti string) (string, error) {
	if strings.TrimSpace(id.SubjectID) == "" || strings.TrimSpace(id.TenantID) == "" {
		return "", errors.New("subject and tenant are required")
	}
	if jti == "" {
		jti = uuid.NewString()
	}
	now := time.Now()
	claims := Claims{
		TokenType:   "access",
		TenantID:    id.TenantID,
		Permissions: id.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.SubjectID,
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.accessSecret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != "access" {
		return nil, fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return nil, errors.New("token missing subject or tenant")
	}
	return claims, nil
}
