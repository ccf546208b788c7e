package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoCredential = errors.New("no credential")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is who a request or connection acts as.
type Identity struct {
	UserID    int64
	Anonymous bool
}

// AnonymousIdentity is returned for every failed authentication.
var AnonymousIdentity = Identity{Anonymous: true}

// Claims carries the user id issued by the platform's auth service. The id
// may be encoded as a JSON number or a numeric string.
type Claims struct {
	UserID json.Number `json:"user_id"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithJSONNumber(),
		),
	}
}

// Authenticate resolves a raw token to an identity. Any failure yields the
// anonymous identity; it never errors.
func (a *Authenticator) Authenticate(token string) Identity {
	userID, err := a.Validate(token)
	if err != nil {
		return AnonymousIdentity
	}
	return Identity{UserID: userID}
}

// Validate checks signature and expiry and returns the user id.
func (a *Authenticator) Validate(token string) (int64, error) {
	if token == "" {
		return 0, ErrNoCredential
	}
	claims := &Claims{}
	parsed, err := a.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.UserID.String(), 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: bad user_id claim", ErrInvalidToken)
	}
	return userID, nil
}

// ParseBearerToken extracts the token from an Authorization header value.
func ParseBearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrNoCredential
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("invalid authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// TokenFromRequest reads the bearer header first, then the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if token, err := ParseBearerToken(r.Header.Get("Authorization")); err == nil {
		return token
	}
	return r.URL.Query().Get("token")
}
