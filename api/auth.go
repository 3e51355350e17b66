package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const DefaultJWKSCacheTTL = 15 * time.Minute

// clockSkew is tolerated on every time claim.
const clockSkew = time.Minute

// AuthConfig selects how bearer tokens are verified. A non-empty TestSecret
// switches to HS256 tokens signed with that secret; otherwise RS256 tokens are
// checked against JWKS.
type AuthConfig struct {
	JWKS        *keyfunc.JWKS
	Audience    string
	Issuer      string
	TestSecret  []byte
	KeyCacheTTL time.Duration
}

// Auth validates incoming JWT tokens and resolves the board session owner.
type Auth struct {
	cfg    AuthConfig
	parser *jwt.Parser
	now    func() time.Time

	keyCache sync.Map
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

func NewAuth(cfg AuthConfig) *Auth {
	method := "RS256"
	if cfg.testMode() {
		method = "HS256"
	}
	return &Auth{
		cfg:    cfg,
		// Time claims are checked in UserIDFromBearer with leeway.
		parser: jwt.NewParser(jwt.WithValidMethods([]string{method}), jwt.WithoutClaimsValidation()),
		now:    time.Now,
	}
}

func (c AuthConfig) testMode() bool { return len(c.TestSecret) > 0 }

// UserIDFromAuthHeader extracts the session owner from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer verifies a compact JWT and returns its sub claim.
func (a *Auth) UserIDFromBearer(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}
	parsed, err := a.parser.Parse(token, a.keyFor)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := a.now()
	early, late := now.Add(-clockSkew).Unix(), now.Add(clockSkew).Unix()
	switch {
	case !claims.VerifyExpiresAt(early, true):
		return "", errors.New("token expired")
	case !claims.VerifyNotBefore(late, false):
		return "", errors.New("token not valid yet")
	case !claims.VerifyIssuedAt(late, false):
		return "", errors.New("token used before issued")
	case a.cfg.Audience != "" && !claims.VerifyAudience(a.cfg.Audience, true):
		return "", errors.New("invalid audience")
	case a.cfg.Issuer != "" && !claims.VerifyIssuer(a.cfg.Issuer, true):
		return "", errors.New("invalid issuer")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) keyFor(token *jwt.Token) (any, error) {
	if a.cfg.testMode() {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.cfg.TestSecret, nil
	}
	if a.cfg.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	cache := kid != "" && a.cfg.KeyCacheTTL > 0
	if cache {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if a.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.cfg.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if cache {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: a.now().Add(a.cfg.KeyCacheTTL)})
	}
	return key, nil
}
