// Package middleware содержит HTTP middleware сервиса выдачи книг.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/library-circulation/internal/model"
)

type contextKey string

const accountKey contextKey = "account"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 30 * 24 * time.Hour
)

type claims struct {
	AccountID int64      `json:"account_id"`
	Role      model.Role `json:"role"`
	Email     string     `json:"email,omitempty"`
}

// AuthMiddleware проверяет подписанный cookie, выданный сервисом аккаунтов.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт AuthMiddleware с общим секретом. Пустой секрет заменяется случайным,
// и тогда принимаются только токены, выпущенные этим процессом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и добавляет аккаунт в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		acc, ok := a.ParseToken(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, acc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie устанавливает cookie авторизации для аккаунта.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, acc model.Account) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.IssueToken(acc),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// IssueToken подписывает данные аккаунта: base64url(JSON) + "." + hex(HMAC-SHA256).
func (a *AuthMiddleware) IssueToken(acc model.Account) string {
	payload, _ := json.Marshal(claims{AccountID: acc.ID, Role: acc.Role, Email: acc.Email})
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + a.sign(encoded)
}

// ParseToken проверяет подпись токена и возвращает аккаунт.
func (a *AuthMiddleware) ParseToken(token string) (model.Account, bool) {
	encoded, signature, found := strings.Cut(token, ".")
	if !found {
		return model.Account{}, false
	}

	if !hmac.Equal([]byte(signature), []byte(a.sign(encoded))) {
		return model.Account{}, false
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return model.Account{}, false
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return model.Account{}, false
	}
	if c.AccountID <= 0 || (c.Role != model.RoleMember && c.Role != model.RoleLibrarian) {
		return model.Account{}, false
	}

	return model.Account{ID: c.AccountID, Role: c.Role, Email: c.Email}, true
}

func (a *AuthMiddleware) sign(encoded string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

// AccountFromContext извлекает аккаунт из контекста запроса.
func AccountFromContext(ctx context.Context) (model.Account, bool) {
	acc, ok := ctx.Value(accountKey).(model.Account)
	return acc, ok
}

// RequireLibrarian пропускает только запросы библиотекарей.
func RequireLibrarian(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, ok := AccountFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if acc.Role != model.RoleLibrarian {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
