package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	merchantapp "github.com/settlr/settlr/internal/merchants/application"
	"github.com/settlr/settlr/internal/merchants/domain/merchant"
)

// merchantHandlerFunc is an HTTP handler bound to an authenticated merchant.
type merchantHandlerFunc func(w http.ResponseWriter, r *http.Request, merchantID uuid.UUID)

var errInvalidCredentials = errors.New("invalid credentials")

// authenticator resolves merchant credentials. Two forms are accepted: an
// X-API-Key header carrying the secret key issued at registration, or an
// Authorization bearer token minted for the dashboard.
type authenticator struct {
	merchants         *merchantapp.Service
	jwtSecret         string
	cronSecret        string
	allowInsecureCron bool
	logger            *slog.Logger
}

// require rejects requests without valid merchant credentials.
func (a *authenticator) require(next merchantHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID, err := a.identify(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if merchantID == uuid.Nil {
			writeError(w, http.StatusUnauthorized, "merchant credentials required")
			return
		}
		next(w, r, merchantID)
	}
}

// optional passes uuid.Nil through when no credentials are present but still
// rejects credentials that fail to verify.
func (a *authenticator) optional(next merchantHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID, err := a.identify(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next(w, r, merchantID)
	}
}

// cron guards scheduler-only endpoints with the shared cron secret.
func (a *authenticator) cron(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.allowInsecureCron {
			next(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok || a.cronSecret == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(a.cronSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "cron secret required")
			return
		}
		next(w, r)
	}
}

// identify resolves the request's merchant. Returns uuid.Nil with a nil
// error when no credentials are present at all.
func (a *authenticator) identify(r *http.Request) (uuid.UUID, error) {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		m, err := a.merchants.Authenticate(r.Context(), apiKey)
		if err != nil {
			if errors.Is(err, merchant.ErrNotFound) {
				return uuid.Nil, errInvalidCredentials
			}
			a.logger.Error("api key lookup failed", "error", err)
			return uuid.Nil, errInvalidCredentials
		}
		return m.ID(), nil
	}

	if token, ok := bearerToken(r); ok {
		return a.parseToken(token)
	}
	return uuid.Nil, nil
}

func (a *authenticator) parseToken(token string) (uuid.UUID, error) {
	if a.jwtSecret == "" {
		return uuid.Nil, errInvalidCredentials
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return []byte(a.jwtSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return uuid.Nil, errInvalidCredentials
	}
	merchantID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, errInvalidCredentials
	}
	return merchantID, nil
}

func bearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// MerchantToken mints a dashboard session token for a merchant.
func MerchantToken(secret string, merchantID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    "settlr",
		Subject:   merchantID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing merchant token: %w", err)
	}
	return token, nil
}
