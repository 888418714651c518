package gateway

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret []byte, login int64, expiresAt time.Time) string {
	t.Helper()
	claims := jwtClaims{
		Login: login,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWTVerifierAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	v := NewJWTVerifier(secret)
	token := signToken(t, secret, 12345, time.Now().Add(time.Hour))

	accountID, status := v.Verify(token)
	if status != StatusValid {
		t.Fatalf("status = %v, want valid", status)
	}
	if accountID != 12345 {
		t.Errorf("accountID = %d, want 12345", accountID)
	}
}

func TestJWTVerifierRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	v := NewJWTVerifier(secret)
	token := signToken(t, secret, 1, time.Now().Add(-time.Hour))

	_, status := v.Verify(token)
	if status != StatusExpired {
		t.Errorf("status = %v, want expired", status)
	}
}

func TestJWTVerifierRejectsWrongSecret(t *testing.T) {
	token := signToken(t, []byte("right-secret"), 1, time.Now().Add(time.Hour))
	v := NewJWTVerifier([]byte("wrong-secret"))

	_, status := v.Verify(token)
	if status != StatusInvalid {
		t.Errorf("status = %v, want invalid", status)
	}
}

func TestJWTVerifierRejectsMalformedToken(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))
	_, status := v.Verify("not-a-jwt")
	if status != StatusInvalid {
		t.Errorf("status = %v, want invalid", status)
	}
}
