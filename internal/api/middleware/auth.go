package middleware

import (
	"net/http"
	"strings"

	"tradeexec/pkg/crypto"
	"tradeexec/pkg/utils"
)

// Auth - middleware проверки bearer-токена операторского API
//
// Назначение:
// Защищает /api/v1 от неавторизованного доступа. Токен хранится только
// в виде bcrypt-хеша (OPS_TOKEN_HASH), сравнение идёт через crypto.VerifyToken.
//
// Поведение:
// - пустой hash: аутентификация выключена (локальный запуск), пишется одно предупреждение
// - нет заголовка Authorization: Bearer <token> - 401
// - токен не совпал - 401
//
// Использование:
//
//	api := router.PathPrefix("/api/v1").Subrouter()
//	api.Use(middleware.Auth(cfg.Security.OpsTokenHash, logger))
func Auth(tokenHash string, logger *utils.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = utils.L()
	}
	logger = logger.WithComponent("auth")

	if tokenHash == "" {
		logger.Warn("OPS_TOKEN_HASH is not set, ops API is unauthenticated")
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="ops"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if err := crypto.VerifyToken(token, tokenHash); err != nil {
				logger.Warn("rejected ops request",
					utils.String("path", r.URL.Path),
					utils.String("remote", r.RemoteAddr),
					utils.Err(err),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="ops", error="invalid_token"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}
