package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	social "github.com/goliatone/go-social"
	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup = "header:" + router.HeaderAuthorization + ",cookie:session"

	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
	ErrMissingSubject        = errors.New("token has no user id")
)

// ValidationListener is invoked after a token has been validated and the
// user id resolved.
type ValidationListener func(ctx router.Context, userID string, claims jwt.MapClaims) error

// Config configures the session middleware. It only validates tokens
// issued elsewhere.
type Config struct {
	Filter       func(router.Context) bool
	ErrorHandler router.ErrorHandler

	SigningKey    []byte
	SigningMethod string

	// TokenLookup lists sources, e.g. "header:Authorization,cookie:session".
	TokenLookup string
	AuthScheme  string

	// UserIDKey is the locals key the user id is stored under.
	UserIDKey string
	// UserIDClaims are tried in order; the first non empty string wins.
	UserIDClaims []string

	Issuer   string
	Audience string

	ValidationListeners []ValidationListener

	Logger social.Logger
}

// New returns middleware that validates the caller's JWT and stores the
// user id in router locals for the social controller.
func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return next(ctx)
			}

			raw, err := ExtractRawTokenFromContext(ctx, extractors)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			claims, err := cfg.parse(raw)
			if err != nil {
				cfg.Logger.Debug("session token rejected", "error", err)
				return cfg.ErrorHandler(ctx, err)
			}

			userID := cfg.userID(claims)
			if userID == "" {
				return cfg.ErrorHandler(ctx, ErrMissingSubject)
			}

			for _, listener := range cfg.ValidationListeners {
				if listener == nil {
					continue
				}
				if err := listener(ctx, userID, claims); err != nil {
					return cfg.ErrorHandler(ctx, err)
				}
			}

			ctx.Locals(cfg.UserIDKey, userID)
			return next(ctx)
		}
	}
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if len(cfg.SigningKey) == 0 {
		panic("SOCIAL: session middleware configuration: SigningKey is required.")
	}

	if cfg.SigningMethod == "" {
		cfg.SigningMethod = jwt.SigningMethodHS256.Alg()
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.UserIDKey == "" {
		cfg.UserIDKey = social.DefaultUserIDKey
	}

	if len(cfg.UserIDClaims) == 0 {
		cfg.UserIDClaims = []string{"sub", "user_id", "uid"}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			message := "invalid or expired session"
			if errors.Is(err, ErrJWTMissingOrMalformed) {
				message = "authentication required"
			}
			return c.JSON(router.StatusUnauthorized, map[string]any{
				"success":      false,
				"message":      message,
				"requiresAuth": false,
			})
		}
	}

	cfg.Logger = social.NormalizeLogger(cfg.Logger)
	return cfg
}

func (cfg Config) parse(raw string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{cfg.SigningMethod})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if alg := token.Method.Alg(); alg != cfg.SigningMethod {
			return nil, fmt.Errorf("unexpected jwt signing method: expected: %q: got: %q", cfg.SigningMethod, alg)
		}
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (cfg Config) userID(claims jwt.MapClaims) string {
	for _, name := range cfg.UserIDClaims {
		if v, ok := claims[name].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []JWTExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

type JWTExtractor func(c router.Context) (string, error)

// GetExtractors parses a lookup such as "header:Authorization,cookie:jwt,query:auth_token".
func GetExtractors(tokenLookup string, authScheme string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}
		source, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		switch source {
		case "header":
			extractors = append(extractors, jwtFromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(name))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(name))
		}
	}

	return extractors
}

func jwtFromHeader(header string, authScheme string) JWTExtractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

func jwtFromQuery(param string) JWTExtractor {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func jwtFromCookie(name string) JWTExtractor {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}
