package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/apperr"
)

// Identity is the verified subject of an identity provider token.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// VerifierConfig configures token verification. At least one of Secret or
// PublicKeyPEM must be set.
type VerifierConfig struct {
	// Secret verifies HS256 tokens.
	Secret []byte
	// PublicKeyPEM verifies ES256 tokens.
	PublicKeyPEM string
	Issuer       string
	Audience     string
	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

// JWTVerifier validates identity provider tokens.
type JWTVerifier struct {
	secret    []byte
	publicKey *ecdsa.PublicKey
	parser    *jwt.Parser
}

type identityClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// NewJWTVerifier builds a verifier from cfg.
func NewJWTVerifier(cfg VerifierConfig) (*JWTVerifier, error) {
	v := &JWTVerifier{secret: cfg.Secret}
	methods := []string{}

	if len(cfg.Secret) > 0 {
		if len(cfg.Secret) < 32 {
			return nil, errors.New("JWT secret must be at least 32 bytes")
		}
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if cfg.PublicKeyPEM != "" {
		pub, err := ParsePublicKeyPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		v.publicKey = pub
		methods = append(methods, jwt.SigningMethodES256.Alg())
	}
	if len(methods) == 0 {
		return nil, errors.New("JWT secret or public key not provided")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	v.parser = jwt.NewParser(opts...)
	return v, nil
}

// Verify parses and validates a token string.
func (v *JWTVerifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, apperr.New(apperr.KindAuthentication, "missing bearer token")
	}

	claims := &identityClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return v.secret, nil
		case *jwt.SigningMethodECDSA:
			return v.publicKey, nil
		}
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	})
	if err != nil {
		log.Debug().Err(err).Msg("JWT parse error")
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperr.New(apperr.KindAuthentication, "token expired")
		}
		return Identity{}, apperr.New(apperr.KindAuthentication, "invalid token")
	}

	if claims.Subject == "" {
		return Identity{}, apperr.New(apperr.KindAuthentication, "token has no subject")
	}

	return Identity{Subject: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}

// ParsePublicKeyPEM parses a PEM-encoded ECDSA public key.
func ParsePublicKeyPEM(pemStr string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}

	return ecdsaPub, nil
}

// TokenFromRequest reads the bearer token from the Authorization header, or
// from the access_token query parameter for websocket upgrades where
// browsers cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return ""
		}
		return parts[1]
	}
	return r.URL.Query().Get("access_token")
}

type contextKey int

const (
	actorContextKey contextKey = iota
)

// WithActor returns a context carrying actor.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFromContext extracts the authenticated actor, or nil.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey).(*Actor)
	return actor
}

// ErrorWriter renders an authentication or resolution failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware verifies the request token, resolves the actor and stores it
// in the request context.
func Middleware(v *JWTVerifier, resolver *Resolver, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.Verify(TokenFromRequest(r))
			if err != nil {
				log.Ctx(r.Context()).Warn().Err(err).Msg("Authentication failed")
				fail(w, r, err)
				return
			}

			actor, err := resolver.Resolve(r.Context(), id)
			if err != nil {
				log.Ctx(r.Context()).Warn().Err(err).Str("subject", id.Subject).Msg("Role resolution failed")
				fail(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
