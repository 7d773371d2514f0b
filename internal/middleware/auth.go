// Package middleware содержит HTTP middleware для сервиса playhost.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/mmeshcher/playhost-system/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

// Verifier проверяет bearer-токен и возвращает личность вызывающего.
type Verifier interface {
	Verify(ctx context.Context, token string) (*model.Identity, error)
}

// AuthMiddleware выполняет проверку аутентификации пользователя по bearer-токену.
// Любая ошибка проверки трактуется одинаково — как неаутентифицированный запрос.
type AuthMiddleware struct {
	verifier Verifier
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным верификатором.
func NewAuthMiddleware(verifier Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// unauthorized отвечает в том же JSON-формате ошибок, что и обработчики API.
func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
}

// Middleware проверяет заголовок Authorization и добавляет личность пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r)
		if token == "" {
			unauthorized(w)
			return
		}

		ident, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			unauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// GetIdentityFromContext извлекает личность пользователя из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	ident, ok := ctx.Value(identityKey).(*model.Identity)
	return ident, ok
}

// JWKSVerifier проверяет подпись токена по набору ключей провайдера аутентификации.
// Набор ключей кешируется и периодически обновляется по HTTP.
type JWKSVerifier struct {
	cache    *jwk.Cache
	jwksURL  string
	issuer   string
	audience string
}

// NewJWKSVerifier создаёт верификатор, получающий ключи по указанному URL.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer, audience string) (*JWKSVerifier, error) {
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("create jwk cache: %w", err)
	}

	if err := cache.Register(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}

	return &JWKSVerifier{
		cache:    cache,
		jwksURL:  jwksURL,
		issuer:   issuer,
		audience: audience,
	}, nil
}

// Verify проверяет подпись, срок действия, издателя и аудиторию токена.
func (v *JWKSVerifier) Verify(ctx context.Context, token string) (*model.Identity, error) {
	set, err := v.cache.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("lookup jwks: %w", err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	tok, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	subject, ok := tok.Subject()
	if !ok || subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	var email string
	if err := tok.Get("email", &email); err != nil {
		return nil, fmt.Errorf("token has no email claim: %w", err)
	}

	return &model.Identity{Subject: subject, Email: email}, nil
}
