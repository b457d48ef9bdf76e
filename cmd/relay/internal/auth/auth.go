// Package auth resolves the optional identity carried by a websocket handshake.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoCredential = errors.New("no credential presented")
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoSecret is returned while no signing secret is configured; every
	// connection is then a guest.
	ErrNoSecret = errors.New("no signing secret configured")
)

const accessTokenType = "access"

type Claims struct {
	UserID string `json:"userId"`
	Type   string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

type Options struct {
	Secret     string
	QueryParam string
	CookieName string
}

type Verifier struct {
	secret     []byte
	queryParam string
	cookieName string
}

func NewVerifier(opts Options) *Verifier {
	return &Verifier{
		secret:     []byte(opts.Secret),
		queryParam: opts.QueryParam,
		cookieName: opts.CookieName,
	}
}

// Enabled reports whether tokens can be verified at all.
func (v *Verifier) Enabled() bool { return len(v.secret) > 0 }

// Identity returns the user id of a request, or "" for guests. Every failure
// degrades to guest.
func (v *Verifier) Identity(r *http.Request) string {
	token := v.Credential(r)
	if token == "" {
		return ""
	}
	id, err := v.Verify(token)
	if err != nil {
		return ""
	}
	return id
}

// Credential picks the first present credential: bearer header, then query
// parameter, then cookie.
func (v *Verifier) Credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	if v.queryParam != "" {
		if token := r.URL.Query().Get(v.queryParam); token != "" {
			return token
		}
	}
	if v.cookieName != "" {
		if c, err := r.Cookie(v.cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

// Verify checks an HS256 token and returns its userId claim.
func (v *Verifier) Verify(tokenString string) (string, error) {
	if !v.Enabled() {
		return "", ErrNoSecret
	}
	if tokenString == "" {
		return "", ErrNoCredential
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: missing userId", ErrInvalidToken)
	}
	if claims.Type != "" && claims.Type != accessTokenType {
		return "", fmt.Errorf("%w: token type %q", ErrInvalidToken, claims.Type)
	}
	return claims.UserID, nil
}

// Issue signs an access token for userID valid for ttl.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Type:   accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
