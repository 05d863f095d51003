package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"attendance-portal/internal/directory"
)

// IntentCoordinator is the login intent of a faculty member signing in to
// the coordinator tools.
const IntentCoordinator = "coordinator"

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Intent  string `json:"intent,omitempty"`
	jwt.RegisteredClaims
}

// Session is the authenticated caller as the handlers see it.
type Session struct {
	UserID string
	Name   string
	Role   directory.Role
	Intent string
}

// User converts the session into the actor the services expect.
func (s Session) User() directory.User {
	return directory.User{ID: s.UserID, Name: s.Name, Role: s.Role}
}

// CoordinatorMode reports whether a faculty member signed in as coordinator.
func (s Session) CoordinatorMode() bool {
	return s.Role == directory.RoleFaculty && s.Intent == IntentCoordinator
}

// Home names the landing area the client should route the session to.
func (s Session) Home() string {
	if s.CoordinatorMode() {
		return IntentCoordinator
	}
	return string(s.Role)
}

// Issue issues signed access and refresh tokens for a session. The identity
// provider mints production tokens; this is used by tooling and tests.
func Issue(s Session, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	now := time.Now()
	accessExp := now.Add(accessTTL)
	refreshExp := now.Add(refreshTTL)

	sign := func(exp time.Time) (string, error) {
		claims := Claims{
			Subject: s.UserID,
			Role:    string(s.Role),
			Name:    s.Name,
			Intent:  s.Intent,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				Subject:   s.UserID,
				ExpiresAt: jwt.NewNumericDate(exp),
				IssuedAt:  jwt.NewNumericDate(now),
			},
		}
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	}

	accessToken, err := sign(accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := sign(refreshExp)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// Parse validates a token and returns the session it carries.
func Parse(tokenStr, key, issuer string) (Session, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Session{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Session{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Session{}, errors.New("issuer mismatch")
	}
	role := directory.Role(claims.Role)
	if claims.Subject == "" || !role.Valid() {
		return Session{}, errors.New("token lacks subject or role")
	}
	return Session{UserID: claims.Subject, Name: claims.Name, Role: role, Intent: claims.Intent}, nil
}
