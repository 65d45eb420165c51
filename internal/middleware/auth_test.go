package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmeshcher/library-circulation/internal/model"
)

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	want := model.Account{ID: 42, Role: model.RoleLibrarian, Email: "lib@example.com"}

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		acc, ok := AccountFromContext(r.Context())
		if !ok {
			t.Fatalf("account not in context")
		}
		if acc != want {
			t.Fatalf("account from context = %+v, want %+v", acc, want)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetAuthCookie(w, want)
	res := w.Result()
	resCookies := res.Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestParseToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	other := NewAuthMiddleware("other-secret")
	acc := model.Account{ID: 7, Role: model.RoleMember, Email: "reader@example.com"}

	token := m.IssueToken(acc)

	tests := []struct {
		name  string
		token string
		valid bool
	}{
		{name: "issued token", token: token, valid: true},
		{name: "foreign secret", token: other.IssueToken(acc), valid: false},
		{name: "tampered payload", token: "x" + token, valid: false},
		{name: "no signature", token: "abc", valid: false},
		{name: "unknown role", token: m.IssueToken(model.Account{ID: 7, Role: "admin"}), valid: false},
		{name: "zero account", token: m.IssueToken(model.Account{Role: model.RoleMember}), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.ParseToken(tt.token)
			if ok != tt.valid {
				t.Fatalf("ParseToken ok = %v, want %v", ok, tt.valid)
			}
			if ok && got != acc {
				t.Fatalf("ParseToken = %+v, want %+v", got, acc)
			}
		})
	}
}

func TestRequireLibrarian(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := m.Middleware(RequireLibrarian(ok))

	tests := []struct {
		name string
		role model.Role
		want int
	}{
		{name: "librarian", role: model.RoleLibrarian, want: http.StatusNoContent},
		{name: "member", role: model.RoleMember, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/admin", nil)
			r.AddCookie(&http.Cookie{Name: authCookieName, Value: m.IssueToken(model.Account{ID: 1, Role: tt.role})})
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, r)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
