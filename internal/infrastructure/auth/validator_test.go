package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmatch/castmatch-server/internal/domain/identity"
)

const testSecret = "unit-test-secret"

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func newHSValidator(t *testing.T, s Settings) *Validator {
	t.Helper()
	s.Secret = testSecret
	v, err := NewValidator(context.Background(), s, zerolog.Nop())
	require.NoError(t, err)
	return v
}

func TestValidateHS256(t *testing.T) {
	v := newHSValidator(t, Settings{Issuer: "castmatch", Audience: "castmatch-api"})

	principal, err := v.Validate(context.Background(), sign(t, jwt.MapClaims{
		"sub":   "user-1",
		"iss":   "castmatch",
		"aud":   "castmatch-api",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"role":  "casting-director",
		"email": "cd@example.com",
	}))
	require.NoError(t, err)
	assert.Equal(t, "user-1", principal.ID)
	assert.Equal(t, identity.RoleCastingDirector, principal.Role)
	assert.Equal(t, "cd@example.com", principal.Email)
	assert.True(t, v.Ready())
}

func TestValidateRejects(t *testing.T) {
	v := newHSValidator(t, Settings{Issuer: "castmatch"})
	valid := jwt.MapClaims{"sub": "u", "iss": "castmatch", "exp": time.Now().Add(time.Hour).Unix()}

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"expired":      sign(t, jwt.MapClaims{"sub": "u", "iss": "castmatch", "exp": time.Now().Add(-time.Hour).Unix()}),
		"wrong issuer": sign(t, jwt.MapClaims{"sub": "u", "iss": "other", "exp": time.Now().Add(time.Hour).Unix()}),
		"no subject":   sign(t, jwt.MapClaims{"iss": "castmatch", "exp": time.Now().Add(time.Hour).Unix()}),
		"no expiry":    sign(t, jwt.MapClaims{"sub": "u", "iss": "castmatch"}),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), token)
			assert.Error(t, err)
		})
	}

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, valid).SignedString([]byte("another-secret"))
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), other)
	assert.Error(t, err)
}

func TestRoleFallbacks(t *testing.T) {
	v := newHSValidator(t, Settings{})
	exp := time.Now().Add(time.Hour).Unix()

	p, err := v.Validate(context.Background(), sign(t, jwt.MapClaims{"sub": "u", "exp": exp}))
	require.NoError(t, err)
	assert.Equal(t, identity.RoleActor, p.Role)

	p, err = v.Validate(context.Background(), sign(t, jwt.MapClaims{
		"sub":          "u",
		"exp":          exp,
		"realm_access": map[string]any{"roles": []any{"offline_access", "producer", "actor"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, identity.RoleProducer, p.Role)

	p, err = v.Validate(context.Background(), sign(t, jwt.MapClaims{"sub": "u", "exp": exp, "role": []any{"actor", "admin"}}))
	require.NoError(t, err)
	assert.Equal(t, identity.RoleAdmin, p.Role)
}

func TestNewValidatorRequiresKeyMaterial(t *testing.T) {
	_, err := NewValidator(context.Background(), Settings{}, zerolog.Nop())
	assert.Error(t, err)
}
