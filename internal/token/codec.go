package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// MaxLength bounds the work spent on any presented token. Anything longer is
// rejected before base64 or JSON decoding.
const MaxLength = 4096

const minSecretLength = 32

var (
	ErrInvalid   = errors.New("invalid token")
	ErrTooLong   = errors.New("token exceeds maximum length")
	ErrWrongType = errors.New("unexpected token type")
)

// Subject is the identity a token is issued for.
type Subject struct {
	UserID   int64
	Username string
	Role     string
	Epoch    int
}

type Claims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Type     Type   `json:"typ"`
	Epoch    int    `json:"epoch"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret []byte
	Issuer string
	Leeway time.Duration
	Now    func() time.Time
}

// Codec signs and verifies HS256 session tokens.
type Codec struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLength)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "BlogApplication"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Codec{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		now:    cfg.Now,
	}, nil
}

func (c *Codec) Issue(subject Subject, typ Type, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}

	now := c.now()
	claims := Claims{
		UserID:   subject.UserID,
		Username: subject.Username,
		Role:     subject.Role,
		Type:     typ,
		Epoch:    subject.Epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(subject.UserID, 10),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// Parse fully verifies raw and checks that it is of the wanted type.
func (c *Codec) Parse(raw string, want Type) (*Claims, error) {
	claims := &Claims{}
	if err := c.verify(raw, claims); err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, ErrWrongType
	}
	if claims.UserID <= 0 || claims.Username == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Validate reports whether raw is a well-formed, correctly signed, unexpired
// token from this issuer. It never panics or returns an error.
func (c *Codec) Validate(raw string) bool {
	return c.verify(raw, jwt.MapClaims{}) == nil
}

// ExtractClaim returns a single claim after re-verifying the whole token.
func (c *Codec) ExtractClaim(raw, name string) (any, bool) {
	claims := jwt.MapClaims{}
	if err := c.verify(raw, claims); err != nil {
		return nil, false
	}
	value, ok := claims[name]
	return value, ok
}

// ExpiresAt reads the expiry of a verified token. Expired tokens are
// reported as such rather than failing.
func (c *Codec) ExpiresAt(raw string) (time.Time, bool) {
	claims := &Claims{}
	err := c.verify(raw, claims)
	if err != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (c *Codec) verify(raw string, claims jwt.Claims) (err error) {
	if raw == "" {
		return ErrInvalid
	}
	if len(raw) > MaxLength {
		return ErrTooLong
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = ErrInvalid
		}
	}()

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	)

	parsed, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid {
		return ErrInvalid
	}

	return nil
}
