package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

func signed(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func protectedHandler(a *Authenticator) http.Handler {
	return a.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := SessionFromContext(r.Context())
		_, _ = w.Write([]byte(s.UserID + "|" + s.Email))
	}))
}

func TestRequireUserJWT(t *testing.T) {
	a := NewAuthenticator(AuthConfig{JWTSecret: "secret"}, zerolog.Nop())
	h := protectedHandler(a)

	valid := signed(t, "secret", supabaseClaims{
		Email: "a@b.c",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+valid)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "user-1|a@b.c" {
		t.Fatalf("ожидали успешную проверку: %d %s", rec.Code, rec.Body.String())
	}

	cases := map[string]string{
		"нет токена":     "",
		"чужой секрет":   signed(t, "other", jwt.RegisteredClaims{Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}),
		"истёкший":       signed(t, "secret", jwt.RegisteredClaims{Subject: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}),
		"без срока":      signed(t, "secret", jwt.RegisteredClaims{Subject: "x"}),
		"без subject":    signed(t, "secret", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}),
		"мусор в токене": "not-a-jwt",
	}
	for name, token := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: ожидали 401, получили %d", name, rec.Code)
		}
	}
}

func TestRequireUserSupabaseRemote(t *testing.T) {
	supabase := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" || r.Header.Get("apikey") != "service" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"remote-user","email":"r@x.y"}`))
	}))
	defer supabase.Close()

	a := NewAuthenticator(AuthConfig{SupabaseURL: supabase.URL + "/", ServiceRoleKey: "service"}, zerolog.Nop())
	if a.Mode() != "supabase" {
		t.Fatalf("неожиданный режим %q", a.Mode())
	}
	h := protectedHandler(a)

	for token, want := range map[string]int{"good": http.StatusOK, "bad": http.StatusUnauthorized} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("токен %s: ожидали %d, получили %d", token, want, rec.Code)
		}
	}
}

func TestRequireUserDevHeader(t *testing.T) {
	a := NewAuthenticator(AuthConfig{AllowDevHeader: true}, zerolog.Nop())
	h := protectedHandler(a)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "dev")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "dev|" {
		t.Fatalf("ожидали пользователя из заголовка: %d %s", rec.Code, rec.Body.String())
	}

	disabled := protectedHandler(NewAuthenticator(AuthConfig{}, zerolog.Nop()))
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("без настроенной проверки заголовок не принимается, получили %d", rec.Code)
	}
}

func TestWriteErrorEscapesJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, errInvalidToken)
	if rec.Code != http.StatusBadRequest || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("неожиданный ответ: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if got := rec.Body.String(); got != "{\"error\":\"недействительный токен сессии\"}\n" {
		t.Fatalf("неожиданное тело %q", got)
	}
}
