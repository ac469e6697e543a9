package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/emperorhan/rwa-custody/internal/cache"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
)

type callerKey struct{}

// Authenticator verifies HS256 bearer tokens. The token subject is the
// caller's base58 address; it is the signer every operation runs as.
type Authenticator struct {
	secret   []byte
	issuer   string
	now      func() time.Time
	verified cache.Cache[verifiedToken]
	logger   *slog.Logger
}

type verifiedToken struct {
	caller    model.Address
	expiresAt time.Time
}

type AuthOption func(*Authenticator)

// WithVerifiedTokenCache remembers up to capacity verified tokens for at most
// ttl, skipping the signature check on repeat requests.
func WithVerifiedTokenCache(capacity int, ttl time.Duration) AuthOption {
	return func(a *Authenticator) {
		if capacity > 0 && ttl > 0 {
			a.verified = cache.NewSharded[verifiedToken](capacity, ttl, 0)
		}
	}
}

func NewAuthenticator(secret, issuer string, logger *slog.Logger, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
		logger: logger.With("component", "admin_auth"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Issue signs a token for subject valid for ttl.
func (a *Authenticator) Issue(subject model.Address, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject.String(),
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns its subject address.
func (a *Authenticator) Verify(token string) (model.Address, error) {
	if a.verified != nil {
		if v, ok := a.verified.Get(token); ok {
			if a.now().Before(v.expiresAt) {
				return v.caller, nil
			}
			a.verified.Delete(token)
		}
	}
	caller, expiresAt, err := a.parse(token)
	if err != nil {
		return model.Address{}, err
	}
	if a.verified != nil {
		a.verified.PutUntil(token, verifiedToken{caller: caller, expiresAt: expiresAt}, expiresAt)
	}
	return caller, nil
}

func (a *Authenticator) parse(token string) (model.Address, time.Time, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return model.Address{}, time.Time{}, err
	}
	if claims.Subject == "" {
		return model.Address{}, time.Time{}, errors.New("token has no subject")
	}
	caller, err := model.ParseAddress(claims.Subject)
	if err != nil {
		return model.Address{}, time.Time{}, err
	}
	return caller, claims.ExpiresAt.Time, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller address in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}
		caller, err := a.Verify(strings.TrimSpace(raw))
		if err != nil {
			a.logger.Warn("rejected bearer token", "remote_addr", r.RemoteAddr, "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid bearer token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

// CallerFrom returns the authenticated caller stored by Middleware.
func CallerFrom(ctx context.Context) (model.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(model.Address)
	return caller, ok
}
