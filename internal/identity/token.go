package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/toolgate/toolgate/internal/model"
)

// TokenClaims is the payload of a short-lived agent token.
type TokenClaims struct {
	AgentID string     `json:"agent_id,omitempty"`
	Name    string     `json:"name"`
	Role    model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HMAC-SHA256 signed agent tokens.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer. The secret must be non-empty.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, model.NewValidationError("secret", "signing secret must not be empty")
	}
	return &Signer{secret: secret}, nil
}

// IssueToken encodes the identity into a signed token valid for ttl.
func (s *Signer) IssueToken(id *AgentIdentity, ttl time.Duration) (string, error) {
	if id == nil {
		return "", model.NewValidationError("identity", "cannot issue token for nil identity")
	}
	if ttl <= 0 {
		return "", model.NewValidationError("ttl", "token ttl must be positive, got %s", ttl)
	}

	now := time.Now().UTC()
	claims := TokenClaims{
		AgentID: id.AgentID,
		Name:    id.Name,
		Role:    id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   id.Name,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and verifies a token. Bad signatures, malformed
// structure, wrong signing method, and expiry all reject.
func (s *Signer) VerifyToken(tokenStr string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("identity: invalid token: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok {
		return nil, fmt.Errorf("identity: invalid token claims")
	}
	return claims, nil
}
