package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var ErrNotConfigured = errors.New("JWT secret not configured")

// TokenParser validates HMAC-signed access tokens.
type TokenParser struct {
	secret []byte
}

func NewTokenParser(secret string) *TokenParser {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &TokenParser{}
	}
	return &TokenParser{secret: []byte(secret)}
}

func (p *TokenParser) Enabled() bool {
	return p != nil && len(p.secret) > 0
}

// ParseUserID validates tokenStr and returns its subject. The subject is
// read from "user_id" first and falls back to the registered "sub" claim.
func (p *TokenParser) ParseUserID(tokenStr string) (string, error) {
	if !p.Enabled() {
		return "", ErrNotConfigured
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return "", fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	if typ, ok := claims["typ"].(string); ok && typ != "access" {
		return "", fmt.Errorf("invalid token type")
	}
	if id, ok := claims["user_id"].(string); ok && id != "" {
		return id, nil
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("token has no subject")
}
