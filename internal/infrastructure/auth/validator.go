package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/castmatch/castmatch-server/internal/domain/identity"
)

// Settings configures token validation. At least one of Secret or JWKSURL
// must be set.
type Settings struct {
	Secret       string
	JWKSURL      string
	Issuer       string
	Audience     string
	RoleClaim    string
	RefreshEvery time.Duration
	ClockSkew    time.Duration
}

// Validator verifies bearer tokens signed with a shared HS256 secret or with
// keys published at a JWKS endpoint.
type Validator struct {
	settings Settings
	logger   zerolog.Logger
	jwks     atomic.Pointer[keyfunc.JWKS]
	lastErr  atomic.Value // stores lastErrWrap
}

// lastErrWrap is a sentinel wrapper to avoid storing bare nil in atomic.Value.
type lastErrWrap struct{ Err error }

const (
	jwksInitialRetryInterval   = time.Second
	jwksInitialRetryMaxBackoff = 10 * time.Second
	jwksInitialRetryTimeout    = 2 * time.Minute
)

func NewValidator(ctx context.Context, settings Settings, logger zerolog.Logger) (*Validator, error) {
	if settings.Secret == "" && settings.JWKSURL == "" {
		return nil, errors.New("a jwt secret or jwks url is required")
	}
	if settings.RoleClaim == "" {
		settings.RoleClaim = "role"
	}
	if settings.ClockSkew == 0 {
		settings.ClockSkew = 30 * time.Second
	}

	v := &Validator{settings: settings, logger: logger.With().Str("component", "auth").Logger()}
	v.lastErr.Store(lastErrWrap{Err: nil})

	if settings.JWKSURL != "" {
		if err := v.initJWKS(ctx); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (v *Validator) initJWKS(ctx context.Context) error {
	options := keyfunc.Options{
		Ctx: ctx,
		RefreshErrorHandler: func(err error) {
			v.lastErr.Store(lastErrWrap{Err: err})
			if err != nil {
				v.logger.Error().Err(err).Msg("jwks refresh failed")
			}
		},
		RefreshInterval:   v.settings.RefreshEvery,
		RefreshUnknownKID: true,
	}

	backoff := jwksInitialRetryInterval
	deadline := time.Now().Add(jwksInitialRetryTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	for attempt := 1; ; attempt++ {
		jwks, err := keyfunc.Get(v.settings.JWKSURL, options)
		if err == nil {
			v.lastErr.Store(lastErrWrap{Err: nil})
			v.jwks.Store(jwks)
			return nil
		}

		v.logger.Warn().
			Err(err).
			Str("jwks_url", v.settings.JWKSURL).
			Int("attempt", attempt).
			Msg("initial jwks fetch failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("fetch jwks: %w", ctx.Err())
		case <-time.After(backoff):
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("fetch jwks: %w", err)
		}
		backoff = min(backoff*2, jwksInitialRetryMaxBackoff)
	}
}

func (v *Validator) keyfunc(token *jwt.Token) (any, error) {
	switch token.Method.Alg() {
	case jwt.SigningMethodHS256.Alg():
		if v.settings.Secret == "" {
			return nil, errors.New("hs256 tokens are not accepted")
		}
		return []byte(v.settings.Secret), nil
	default:
		jwks := v.jwks.Load()
		if jwks == nil {
			return nil, fmt.Errorf("%s tokens are not accepted", token.Method.Alg())
		}
		return jwks.Keyfunc(token)
	}
}

// Validate parses rawToken and returns the caller's principal.
func (v *Validator) Validate(_ context.Context, rawToken string) (identity.Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return identity.Principal{}, errors.New("token missing")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "RS256", "ES256"}),
		jwt.WithLeeway(v.settings.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if v.settings.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.settings.Issuer))
	}
	if v.settings.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.settings.Audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.NewParser(opts...).ParseWithClaims(rawToken, claims, v.keyfunc)
	if err != nil {
		return identity.Principal{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return identity.Principal{}, errors.New("invalid token")
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		sub = claimString(claims["userId"])
	}
	if sub == "" {
		return identity.Principal{}, errors.New("sub claim missing")
	}

	return identity.Principal{
		ID:    sub,
		Role:  identity.ParseRole(v.roleFrom(claims)),
		Email: claimString(claims["email"]),
		Name:  claimString(claims["name"]),
	}, nil
}

// roleFrom reads the configured claim, then falls back to realm roles.
func (v *Validator) roleFrom(claims jwt.MapClaims) string {
	switch val := claims[v.settings.RoleClaim].(type) {
	case string:
		return val
	case []any:
		return highestRole(val)
	}
	if realmAccess, ok := claims["realm_access"].(map[string]any); ok {
		if rawRoles, ok := realmAccess["roles"].([]any); ok {
			return highestRole(rawRoles)
		}
	}
	return ""
}

var rolePrecedence = map[identity.Role]int{
	identity.RoleActor:           1,
	identity.RoleProducer:        2,
	identity.RoleCastingDirector: 3,
	identity.RoleAdmin:           4,
}

func highestRole(raw []any) string {
	best := ""
	bestRank := 0
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		role := identity.ParseRole(s)
		if rank := rolePrecedence[role]; rank > bestRank && string(role) == strings.ReplaceAll(strings.ToLower(s), "-", "_") {
			best, bestRank = string(role), rank
		}
	}
	return best
}

// Ready indicates whether the JWKS keys, when used, are loaded and fresh.
func (v *Validator) Ready() bool {
	if v.settings.JWKSURL == "" {
		return true
	}
	if v.jwks.Load() == nil {
		return false
	}
	if wrap, ok := v.lastErr.Load().(lastErrWrap); ok && wrap.Err != nil {
		return false
	}
	return true
}

// Close stops background JWKS refreshes.
func (v *Validator) Close() {
	if jwks := v.jwks.Load(); jwks != nil {
		jwks.EndBackground()
	}
}

func claimString(value any) string {
	if str, ok := value.(string); ok {
		return str
	}
	return ""
}
