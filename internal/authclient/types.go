package authclient

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// Credentials is the login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp,omitempty"`
}

// refreshRequest is the refresh request body. The backend expects camelCase
// here, unlike the snake_case token response.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenResponse is the token shape returned by POST /login and POST /refresh.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	TokenType        string `json:"token_type"`
}

// ExpiresAt resolves the access token expiry. expires_in is authoritative
// when present; otherwise the exp claim of the (unverified) JWT is used.
// The client holds no signing key, so claims are decoded without signature
// verification - they only feed local expiry scheduling, never trust
// decisions.
func (t TokenResponse) ExpiresAt(now time.Time) time.Time {
	if t.ExpiresIn > 0 {
		return now.Add(time.Duration(t.ExpiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.AccessToken, claims); err != nil {
		log.Debug().Err(err).Msg("access token is not a parseable JWT, expiry unknown")
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// RefreshExpiresAt resolves the refresh token expiry from
// refresh_expires_in; zero when the backend did not report one.
func (t TokenResponse) RefreshExpiresAt(now time.Time) time.Time {
	if t.RefreshExpiresIn > 0 {
		return now.Add(time.Duration(t.RefreshExpiresIn) * time.Second)
	}
	return time.Time{}
}
