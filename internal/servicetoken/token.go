package servicetoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"gotovo/internal/util"
)

const (
	// DefaultTokenTTL is the default lifetime for internal service tokens.
	DefaultTokenTTL = 60 * time.Second
	// DefaultLeeway is clock skew tolerance for token validation.
	DefaultLeeway = 15 * time.Second

	minSecretLen = 32
)

var ErrInvalidToken = errors.New("servicetoken: invalid token")

// Signer issues short-lived HS256 tokens naming the calling service.
type Signer struct {
	issuer string
	ttl    time.Duration
	secret []byte
}

func NewSigner(secret, issuer string, ttl time.Duration) (*Signer, error) {
	if len(strings.TrimSpace(secret)) < minSecretLen {
		return nil, errors.New("service token secret must be at least 32 bytes")
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("service token issuer is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Signer{issuer: issuer, ttl: ttl, secret: []byte(secret)}, nil
}

// Sign issues a token for the given audience.
func (s *Signer) Sign(audience string) (string, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return "", errors.New("service token audience is required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        randomHexID(12),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verifier accepts tokens for one audience from an issuer allowlist.
type Verifier struct {
	audience       string
	allowedIssuers map[string]struct{}
	leeway         time.Duration
	secret         []byte
}

func NewVerifier(secret, audience string, allowedIssuers []string) (*Verifier, error) {
	if len(strings.TrimSpace(secret)) < minSecretLen {
		return nil, errors.New("service token secret must be at least 32 bytes")
	}
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return nil, errors.New("service token audience is required")
	}
	issuers := make(map[string]struct{}, len(allowedIssuers))
	for _, issuer := range allowedIssuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			issuers[issuer] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}
	return &Verifier{audience: audience, allowedIssuers: issuers, leeway: DefaultLeeway, secret: []byte(secret)}, nil
}

// Verify validates signature, expiry, audience and issuer.
func (v *Verifier) Verify(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		return claims, errors.Join(ErrInvalidToken, err)
	}
	if _, ok := v.allowedIssuers[claims.Issuer]; !ok {
		return claims, errors.Join(ErrInvalidToken, errors.New("issuer not allowed"))
	}
	if claims.ID == "" {
		return claims, errors.Join(ErrInvalidToken, errors.New("jti required"))
	}
	return claims, nil
}

// Require rejects requests without a valid bearer token with 401.
func (v *Verifier) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := v.Verify(util.BearerToken(r))
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("service token rejected", "path", r.URL.Path, "err", err)
			util.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid service token")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("caller", claims.Issuer))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
