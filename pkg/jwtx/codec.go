package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HMAC secret NewCodec accepts.
const MinSecretLength = 32

// CodecOptions configures a Codec.
type CodecOptions struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// Codec issues and verifies HS256 tokens with a single shared secret.
type Codec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// NewCodec validates opts and returns a ready Codec.
func NewCodec(opts CodecOptions) (*Codec, error) {
	if len(opts.Secret) < MinSecretLength {
		return nil, fmt.Errorf("jwtx: secret must be at least %d bytes", MinSecretLength)
	}
	if opts.AccessTTL <= 0 || opts.RefreshTTL <= 0 {
		return nil, errors.New("jwtx: token lifetimes must be positive")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	parserOpts := []jwt.ParserOption{
		// The algorithm is pinned; "none" and anything asymmetric fail here.
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(now),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}

	return &Codec{
		secret:     append([]byte(nil), opts.Secret...),
		issuer:     opts.Issuer,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		now:        now,
		parser:     jwt.NewParser(parserOpts...),
	}, nil
}

// TTL returns the configured lifetime of kind.
func (c *Codec) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Issue signs a token of the given kind for id and returns it together with
// its expiry.
func (c *Codec) Issue(kind Kind, id Identity) (string, time.Time, error) {
	if !kind.valid() {
		return "", time.Time{}, fmt.Errorf("jwtx: unknown token kind %q", kind)
	}
	if !id.complete() {
		return "", time.Time{}, errors.New("jwtx: identity requires id, role and email")
	}

	now := c.now().UTC().Truncate(time.Second)
	claims := newClaims(kind, id, c.issuer, now, c.TTL(kind))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwtx: sign: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, expiry, issuer, kind and payload shape, in that
// order. Signature failures always win over expiry, so ErrExpired is only
// ever returned for tokens this Codec actually minted.
func (c *Codec) Verify(kind Kind, raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, ErrMalformed
	}

	var claims Claims
	token, err := c.parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return Claims{}, classify(err)
	}
	if !token.Valid {
		return Claims{}, ErrMalformed
	}

	if claims.Kind != kind {
		return Claims{}, fmt.Errorf("%w: expected %s token", ErrMalformed, kind)
	}
	// Well-signed but wrongly shaped payloads are rejected as well.
	if !claims.Identity().complete() || claims.Subject != claims.UserID {
		return Claims{}, fmt.Errorf("%w: incomplete identity claims", ErrMalformed)
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSig, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
