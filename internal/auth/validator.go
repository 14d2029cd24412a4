package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	gwconfig "github.com/repitbot/gateway/internal/config"
	"github.com/repitbot/gateway/internal/observability"
)

// defaultClockSkew tolerates small clock drift between the gateway and
// the token issuer.
const defaultClockSkew = 30 * time.Second

// Validator verifies HS256 bearer tokens.
type Validator struct {
	secret    []byte
	issuer    string
	audience  string
	clockSkew time.Duration
	logger    observability.Logger
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithValidatorLogger sets the logger.
func WithValidatorLogger(logger observability.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithClockSkew sets the acceptable clock skew.
func WithClockSkew(skew time.Duration) ValidatorOption {
	return func(v *Validator) {
		v.clockSkew = skew
	}
}

// NewValidator creates a token validator from gateway auth config.
func NewValidator(config gwconfig.Auth, opts ...ValidatorOption) (*Validator, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}

	v := &Validator{
		secret:    []byte(config.Secret),
		issuer:    config.Issuer,
		audience:  config.Audience,
		clockSkew: defaultClockSkew,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

// Validate verifies the token signature and claims and returns the
// caller identity.
func (v *Validator) Validate(ctx context.Context, raw string) (*Identity, error) {
	options := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.clockSkew),
		jwt.WithContext(ctx),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(raw), options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, ErrTokenExpired
		}
		v.logger.Debug("token validation failed", observability.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if token.Subject() == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	identity := &Identity{
		Subject:   token.Subject(),
		ExpiresAt: token.Expiration(),
		Claims:    token.PrivateClaims(),
	}

	if role, ok := token.Get("role"); ok {
		if s, ok := role.(string); ok {
			identity.Role = s
		}
	}
	if email, ok := token.Get("email"); ok {
		if s, ok := email.(string); ok {
			identity.Email = s
		}
	}

	return identity, nil
}

// Authenticate extracts and validates the bearer token from an HTTP
// request context carrying the raw Authorization header value.
func (v *Validator) Authenticate(ctx context.Context, rawToken string) (*Identity, error) {
	identity, err := v.Validate(ctx, rawToken)
	if err != nil {
		recordAuthResult("failure")
		return nil, err
	}

	recordAuthResult("success")
	return identity, nil
}
