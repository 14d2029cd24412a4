package auth

import (
	"fmt"

	"github.com/repitbot/gateway/internal/util"
)

// Authentication failures. All wrap util.ErrUnauthorized so callers
// can map them to a 401 with a single errors.Is check.
var (
	// ErrNoCredentials indicates no bearer token was presented.
	ErrNoCredentials = fmt.Errorf("no credentials provided: %w", util.ErrUnauthorized)

	// ErrInvalidToken indicates the token failed signature or claim
	// validation.
	ErrInvalidToken = fmt.Errorf("invalid token: %w", util.ErrUnauthorized)

	// ErrTokenExpired indicates the token is past its expiration.
	ErrTokenExpired = fmt.Errorf("token expired: %w", util.ErrUnauthorized)
)
