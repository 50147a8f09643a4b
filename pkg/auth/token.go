package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/config"
)

const clockLeeway = 30 * time.Second

var (
	jwtSigningMethod = jwt.SigningMethodHS256

	ErrNoPrincipal = errors.New("token carries no usable principal")
)

// TokenCodec signs and verifies HS256 access tokens for one issuer. The API only verifies;
// Mint exists for the identity service and tests.
type TokenCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

func NewTokenCodec(cfg config.JWTConfig) (*TokenCodec, error) {
	switch {
	case cfg.Secret == "":
		return nil, errors.New("jwt secret is required")
	case cfg.Issuer == "":
		return nil, errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return nil, errors.New("jwt expiration minutes must be positive")
	}
	return &TokenCodec{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    time.Duration(cfg.ExpirationMinutes) * time.Minute,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockLeeway),
		),
	}, nil
}

// Mint issues a token valid from now for the configured TTL.
func (c *TokenCodec) Mint(now time.Time, payload AccessTokenPayload) (string, error) {
	if payload.UserID == uuid.Nil {
		return "", errors.New("user id is required")
	}
	if !payload.Role.IsValid() {
		return "", fmt.Errorf("invalid member role %q", payload.Role)
	}
	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := AccessTokenClaims{
		UserID: payload.UserID,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    c.issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, issuer and expiry, then requires a user and a known role.
func (c *TokenCodec) Parse(token string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	if _, err := c.parser.ParseWithClaims(token, claims, c.key); err != nil {
		return nil, err
	}
	if !claims.Principal().Valid() {
		return nil, ErrNoPrincipal
	}
	return claims, nil
}

func (c *TokenCodec) key(*jwt.Token) (any, error) {
	return c.secret, nil
}

// BearerToken extracts the credential from an Authorization header value. The scheme is
// optional and case-insensitive.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if scheme, rest, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
		header = strings.TrimSpace(rest)
	} else if strings.EqualFold(header, "bearer") {
		header = ""
	}
	return header, header != ""
}
