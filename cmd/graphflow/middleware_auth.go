package main

import (
	"crypto/rsa"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/graphflow/config"
	"github.com/BaSui01/graphflow/types"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// =============================================================================
// 🔑 API Key
// =============================================================================

// APIKeyAuth 校验 X-API-Key（allowQueryAPIKey 时也接受 ?api_key=）。
// 已由 JWTAuth 认证的请求和 skipPaths 中的路径直接放行。
func APIKeyAuth(validKeys []string, skipPaths []string, allowQueryAPIKey bool, logger *zap.Logger) Middleware {
	keys := make([][]byte, len(validKeys))
	for i, k := range validKeys {
		keys[i] = []byte(k)
	}
	skip := stringSet(skipPaths)

	matches := func(candidate string) bool {
		if candidate == "" {
			return false
		}
		c := []byte(candidate)
		found := 0
		for _, k := range keys {
			found |= subtle.ConstantTimeCompare(c, k)
		}
		return found == 1
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := types.Subject(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" && allowQueryAPIKey {
				key = r.URL.Query().Get("api_key")
			}
			if !matches(key) {
				logger.Debug("api key rejected",
					zap.String("path", r.URL.Path),
					zap.Bool("present", key != ""))
				writeJSONError(w, http.StatusUnauthorized, types.ErrUnauthorized, "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// 🎫 JWT
// =============================================================================

var errNoSubject = errors.New("token has no subject")

// jwtVerifier 校验 HS256 / RS256 令牌并取出 subject
type jwtVerifier struct {
	secret []byte
	pubKey *rsa.PublicKey
	parser *jwt.Parser
}

func newJWTVerifier(cfg config.JWTConfig, logger *zap.Logger) *jwtVerifier {
	v := &jwtVerifier{secret: []byte(cfg.Secret)}
	if cfg.PublicKey != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKey))
		if err != nil {
			logger.Warn("RS256 verification disabled: invalid public key", zap.Error(err))
		}
		v.pubKey = key
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	v.parser = jwt.NewParser(opts...)
	return v
}

func (v *jwtVerifier) key(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.secret) == 0 {
			return nil, errors.New("HMAC secret not configured")
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		if v.pubKey == nil {
			return nil, errors.New("RSA public key not configured")
		}
		return v.pubKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
	}
}

// subject 校验令牌并返回 sub
func (v *jwtVerifier) subject(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, err := v.parser.ParseWithClaims(raw, &claims, v.key); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errNoSubject
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// JWTAuth 校验 Authorization: Bearer 令牌并以 types.WithSubject 记录 sub。
// 没有 Bearer 令牌但带了 X-API-Key 的请求交给后面的 APIKeyAuth 处理。
func JWTAuth(cfg config.JWTConfig, skipPaths []string, logger *zap.Logger) Middleware {
	verifier := newJWTVerifier(cfg, logger)
	skip := stringSet(skipPaths)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := bearerToken(r)
			if !ok {
				if r.Header.Get("X-API-Key") != "" {
					next.ServeHTTP(w, r)
					return
				}
				writeJSONError(w, http.StatusUnauthorized, types.ErrUnauthorized, "missing or malformed Authorization header")
				return
			}

			sub, err := verifier.subject(raw)
			if err != nil {
				logger.Debug("jwt rejected", zap.String("path", r.URL.Path), zap.Error(err))
				msg := "invalid or expired token"
				if errors.Is(err, errNoSubject) {
					msg = err.Error()
				}
				writeJSONError(w, http.StatusUnauthorized, types.ErrUnauthorized, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(types.WithSubject(r.Context(), sub)))
		})
	}
}
