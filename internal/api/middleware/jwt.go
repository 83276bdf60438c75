package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// jwtTokenTTL is the lifetime of a control API token (7 days).
const jwtTokenTTL = 7 * 24 * time.Hour

// tokenIssuer identifies tokens minted by this agent.
const tokenIssuer = "softdial"

// GenerateToken creates a signed JWT after a successful control API login.
// The agent serves a single operator, so the claims carry no identity
// beyond issuer and subject.
func GenerateToken(secret []byte) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(jwtTokenTTL)

	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    tokenIssuer,
		Subject:   "operator",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// RequireAuth returns middleware that validates JWT bearer tokens on
// control API endpoints.
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJWTError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeJWTError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				slog.Debug("api auth: invalid jwt", "error", err)
				writeJWTError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if claims.Issuer != tokenIssuer {
				writeJWTError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// jwtEnvelope matches the api package's envelope format for error responses.
type jwtEnvelope struct {
	Error string `json:"error,omitempty"`
}

// writeJWTError writes a JSON error matching the API envelope format.
func writeJWTError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(jwtEnvelope{Error: msg}) //nolint:errcheck
}
