package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateValidate(t *testing.T) {
	svc := NewJWTService("s3cret", 1)
	token, err := svc.Generate("ops@example.com", RoleEditor)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Operator())
	assert.Equal(t, RoleEditor, claims.Role)
	assert.Equal(t, issuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	svc := NewJWTService("s3cret", 1)
	_, err := svc.Generate("ops", "viewer")
	assert.ErrorIs(t, err, ErrInvalidRole)
	_, err = svc.Generate("  ", RoleAdmin)
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("s3cret", 1)
	good, err := svc.Generate("ops", RoleAdmin)
	require.NoError(t, err)

	other := NewJWTService("different", 1)
	_, err = other.Validate(good)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	expired := NewJWTService("s3cret", 1)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Generate("ops", RoleAdmin)
	require.NoError(t, err)
	_, err = svc.Validate(old)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else", Subject: "ops"},
	})
	signed, err := foreign.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = svc.Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	_, err = svc.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
