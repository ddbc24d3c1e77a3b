package shared

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Authentication is owned by an upstream service; this side only verifies
// the bearer token and materialises the caller identity into the context.

type identityClaims struct {
	jwtlib.RegisteredClaims
	Role   string `json:"role"`
	Branch string `json:"branch"`
}

// TokenVerifier parses and validates session tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier constructs a verifier over the shared HMAC secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses the token and returns the embedded identity.
func (v *TokenVerifier) Verify(tokenStr string) (Identity, error) {
	claims := &identityClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return Identity{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return Identity{}, errors.New("token subject missing")
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return Identity{}, errors.New("token subject malformed")
	}
	if claims.Role == "" {
		return Identity{}, errors.New("token role missing")
	}
	return Identity{UserID: userID, Role: claims.Role, Branch: claims.Branch}, nil
}

// SignIdentity issues a token for id, used by the seed tooling and tests.
func (v *TokenVerifier) SignIdentity(id Identity, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := identityClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
		Role:   id.Role,
		Branch: id.Branch,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// identity in the request context.
func (v *TokenVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		id, err := v.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}
