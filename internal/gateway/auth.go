package gateway

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerifyStatus is the tri-state result of checking a bearer token. The
// gateway never inspects the token's algorithm or claims directly, only
// this result.
type VerifyStatus int

const (
	StatusInvalid VerifyStatus = iota
	StatusExpired
	StatusValid
)

// IdentityVerifier is satisfied by anything that can turn a bearer token
// into an account identity. Implementations are free to choose any MAC
// or signature scheme; the gateway's contract with them is this single
// method.
type IdentityVerifier interface {
	Verify(token string) (accountID int64, status VerifyStatus)
}

// jwtClaims is the payload carried by tokens the core accepts: at
// minimum an account login and expiry.
type jwtClaims struct {
	Login int64 `json:"login"`
	jwt.RegisteredClaims
}

// JWTVerifier is the default IdentityVerifier: an HS256 bearer token
// whose payload carries the account login.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Verify(token string) (int64, VerifyStatus) {
	claims := &jwtClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, StatusExpired
		}
		return 0, StatusInvalid
	}
	if !parsed.Valid {
		return 0, StatusInvalid
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return 0, StatusExpired
	}
	return claims.Login, StatusValid
}
