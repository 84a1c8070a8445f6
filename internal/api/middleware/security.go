// security.go — проверка общего секрета X-Security-Token.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/depot/internal/api/errors"
)

// SecurityTokenHeader — заголовок с общим секретом.
const SecurityTokenHeader = "X-Security-Token"

// SecurityToken возвращает middleware, который требует верный
// X-Security-Token для POST и DELETE. Остальные методы проходят без проверки.
func SecurityToken(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}

			got := []byte(r.Header.Get(SecurityTokenHeader))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				logger.Warn("Неверный токен безопасности",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Invalid security token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
