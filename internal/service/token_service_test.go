package service

import (
	"testing"
	"time"

	"lead-ledger/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-key-for-unit-tests"

func TestJWTTokenService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, 24*time.Hour, "test-issuer")

	for _, role := range []domain.Role{domain.RoleRequester, domain.RoleAdmin} {
		t.Run(string(role), func(t *testing.T) {
			actor := domain.Actor{ID: uuid.New(), Role: role}

			tokenStr, expiresAt, err := svc.Generate(actor)
			require.NoError(t, err)
			assert.NotEmpty(t, tokenStr)
			assert.True(t, expiresAt.After(time.Now()))

			got, err := svc.Validate(tokenStr)
			require.NoError(t, err)
			assert.Equal(t, actor, *got)
		})
	}
}

func TestJWTTokenService_GenerateUnknownRole(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "issuer")

	_, _, err := svc.Generate(domain.Actor{ID: uuid.New(), Role: "root"})
	assert.Error(t, err)

	_, _, err = svc.Generate(domain.SystemActor())
	assert.Error(t, err, "system actor has no bearer token")
}

func TestJWTTokenService_ExpiredToken(t *testing.T) {
	// Token with -1 hour expiry = already expired
	svc := NewJWTTokenService(testJWTSecret, -1*time.Hour, "test-issuer")

	tokenStr, _, err := svc.Generate(domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin})
	require.NoError(t, err)

	_, err = svc.Validate(tokenStr)
	assert.Error(t, err, "expired token should fail validation")
}

func TestJWTTokenService_InvalidSignature(t *testing.T) {
	svc1 := NewJWTTokenService("secret-1", 24*time.Hour, "issuer")
	svc2 := NewJWTTokenService("secret-2", 24*time.Hour, "issuer")

	tokenStr, _, err := svc1.Generate(domain.Actor{ID: uuid.New(), Role: domain.RoleRequester})
	require.NoError(t, err)

	_, err = svc2.Validate(tokenStr)
	assert.Error(t, err, "token signed with different secret should fail")
}

func TestJWTTokenService_WrongIssuer(t *testing.T) {
	svc1 := NewJWTTokenService(testJWTSecret, time.Hour, "other")
	svc2 := NewJWTTokenService(testJWTSecret, time.Hour, "lead-ledger")

	tokenStr, _, err := svc1.Generate(domain.Actor{ID: uuid.New(), Role: domain.RoleRequester})
	require.NoError(t, err)

	_, err = svc2.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_BadClaims(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "issuer")
	sign := func(claims jwt.MapClaims) string {
		claims["iss"] = "issuer"
		claims["exp"] = time.Now().Add(time.Hour).Unix()
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"missing sub", jwt.MapClaims{"role": "admin"}},
		{"non-uuid sub", jwt.MapClaims{"sub": "buyer-1", "role": "admin"}},
		{"missing role", jwt.MapClaims{"sub": uuid.NewString()}},
		{"unknown role", jwt.MapClaims{"sub": uuid.NewString(), "role": "superuser"}},
		{"system role", jwt.MapClaims{"sub": uuid.NewString(), "role": "system"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(sign(tt.claims))
			assert.Error(t, err)
		})
	}
}

func TestJWTTokenService_InvalidTokenString(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, 24*time.Hour, "issuer")

	_, err := svc.Validate("not.a.valid.jwt")
	assert.Error(t, err)

	_, err = svc.Validate("")
	assert.Error(t, err)
}
