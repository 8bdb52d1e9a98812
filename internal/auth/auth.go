// Package auth identifies the caller of each request. The resulting
// Principal is passed explicitly into every engine call.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wotideas/ideas-engine/internal/model"
)

// Principal is an authenticated account.
type Principal struct {
	AccountID string `json:"account_id"`
	Nickname  string `json:"nickname"`
	Admin     bool   `json:"admin"`
}

// Claims is the JWT payload. Subject holds the account id.
type Claims struct {
	Nickname string `json:"nickname,omitempty"`
	jwt.RegisteredClaims
}

const issuer = "ideas-engine"

type ctxKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by the middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok && p.AccountID != ""
}

// Authenticator issues and verifies bearer tokens and decides admin rights.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	admins map[string]struct{}
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Authenticator. Accounts listed in admins may resolve ideas.
func New(secret string, ttl time.Duration, admins []string, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]struct{}, len(admins))
	for _, id := range admins {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return &Authenticator{
		secret: []byte(secret),
		ttl:    ttl,
		admins: set,
		now:    time.Now,
		logger: logger,
	}
}

// IsAdmin reports whether the account holds admin rights.
func (a *Authenticator) IsAdmin(accountID string) bool {
	_, ok := a.admins[accountID]
	return ok
}

// Principal builds the principal for an account.
func (a *Authenticator) Principal(accountID, nickname string) Principal {
	return Principal{AccountID: accountID, Nickname: nickname, Admin: a.IsAdmin(accountID)}
}

// IssueToken signs an HS256 token for the account.
func (a *Authenticator) IssueToken(accountID, nickname string) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("%w: account id required", model.ErrInvalidArgument)
	}
	now := a.now()
	claims := Claims{
		Nickname: nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ParseToken verifies a token and returns its principal. Admin rights come
// from configuration, never from the token.
func (a *Authenticator) ParseToken(tokenString string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", model.ErrUnauthenticated, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: invalid token claims", model.ErrUnauthenticated)
	}
	return a.Principal(claims.Subject, claims.Nickname), nil
}

// Middleware resolves the bearer token, if any, into a Principal on the
// request context. Requests without a token pass through anonymously; a
// malformed or invalid token is rejected.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeUnauthorized(w, "authorization header format must be Bearer {token}")
			return
		}

		p, err := a.ParseToken(parts[1])
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token has expired"
			}
			a.logger.Warn("rejected token", "path", r.URL.Path, "error", err)
			writeUnauthorized(w, msg)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireAuth rejects anonymous requests with 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			writeUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects anonymous requests with 401 and non-admins with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok {
			writeUnauthorized(w, "authentication required")
			return
		}
		if !p.Admin {
			writeJSONError(w, http.StatusForbidden, "admin rights required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="ideas"`)
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}
