// internal/common/utils/jwt.go
// JWT token generation and validation

package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// JWTClaims are the claims issued by the auth service. UserID is the same
// string identity the chat service keys everything by.
type JWTClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Type   string `json:"type"` // "access" or "refresh"
	// Standard JWT claims
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	NotBefore int64  `json:"nbf"`
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
}

// NewAccessClaims builds access-token claims valid for ttl from now
func NewAccessClaims(userID, email, role string, ttl time.Duration) *JWTClaims {
	now := time.Now()
	return &JWTClaims{
		UserID:    userID,
		Email:     email,
		Role:      role,
		Type:      "access",
		ExpiresAt: now.Add(ttl).Unix(),
		IssuedAt:  now.Unix(),
		NotBefore: now.Unix(),
		Subject:   userID,
	}
}

// GenerateJWT creates a new JWT token
func GenerateJWT(claims *JWTClaims, secret string) (string, error) {
	// Create token with claims
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": claims.UserID,
		"email":   claims.Email,
		"role":    claims.Role,
		"type":    claims.Type,
		"exp":     claims.ExpiresAt,
		"iat":     claims.IssuedAt,
		"nbf":     claims.NotBefore,
		"iss":     claims.Issuer,
		"sub":     claims.Subject,
	})

	// Sign token with secret
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a JWT token and returns claims
func ValidateJWT(tokenString string, secret string) (*JWTClaims, error) {
	// Parse token
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	// Extract claims
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		userID := getStringClaim(claims, "user_id")
		if userID == "" {
			// numeric ids from older tokens
			if n, ok := claims["user_id"].(float64); ok {
				userID = fmt.Sprintf("%d", int64(n))
			}
		}
		if userID == "" {
			return nil, errors.New("invalid user_id in token")
		}

		return &JWTClaims{
			UserID:    userID,
			Email:     getStringClaim(claims, "email"),
			Role:      getStringClaim(claims, "role"),
			Type:      getStringClaim(claims, "type"),
			ExpiresAt: getInt64Claim(claims, "exp"),
			IssuedAt:  getInt64Claim(claims, "iat"),
			NotBefore: getInt64Claim(claims, "nbf"),
			Issuer:    getStringClaim(claims, "iss"),
			Subject:   getStringClaim(claims, "sub"),
		}, nil
	}

	return nil, errors.New("invalid token")
}

// Helper functions to safely extract claims
func getStringClaim(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}

func getInt64Claim(claims jwt.MapClaims, key string) int64 {
	if val, ok := claims[key].(float64); ok {
		return int64(val)
	}
	return 0
}
