package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the caller identity carried by an access token.
type Claims struct {
	Subject string
	Role    string
}

type escrowJWTClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// HMACVerifier validates HS256 access tokens issued by the platform's auth
// service. Sign exists for local tooling and tests.
type HMACVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

func NewHMACVerifier(secret, issuer string) (*HMACVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &HMACVerifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}, nil
}

func (v *HMACVerifier) Sign(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, escrowJWTClaims{
		Role: claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}

func (v *HMACVerifier) Verify(raw string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, &escrowJWTClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*escrowJWTClaims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token claims")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, errors.New("token subject is required")
	}
	return Claims{Subject: claims.Subject, Role: claims.Role}, nil
}
