package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"dossier-ai/internal/infra/metrics"
)

const devUserHeader = "X-User-ID"

var (
	errMissingToken = errors.New("нет токена сессии")
	errInvalidToken = errors.New("недействительный токен сессии")
)

// Session пользователь текущего запроса.
type Session struct {
	UserID string
	Email  string
}

type sessionKey struct{}

// SessionFromContext возвращает сессию, установленную RequireUser.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

// WithSession кладёт сессию в контекст.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// AuthConfig параметры проверки сессий Supabase.
type AuthConfig struct {
	JWTSecret      string
	SupabaseURL    string
	ServiceRoleKey string
	// AllowDevHeader разрешает заголовок X-User-ID, когда проверка токенов не настроена.
	AllowDevHeader bool
}

type supabaseClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator проверяет сессии Supabase: локально по HS256 секрету или запросом к /auth/v1/user.
type Authenticator struct {
	cfg    AuthConfig
	client *http.Client
	log    zerolog.Logger
}

// NewAuthenticator создаёт проверку сессий.
func NewAuthenticator(cfg AuthConfig, logger zerolog.Logger) *Authenticator {
	cfg.SupabaseURL = strings.TrimRight(cfg.SupabaseURL, "/")
	return &Authenticator{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}, log: logger}
}

// Mode возвращает способ проверки сессий.
func (a *Authenticator) Mode() string {
	switch {
	case a.cfg.JWTSecret != "":
		return "jwt"
	case a.cfg.SupabaseURL != "" && a.cfg.ServiceRoleKey != "":
		return "supabase"
	case a.cfg.AllowDevHeader:
		return "dev-header"
	default:
		return "disabled"
	}
}

// RequireUser пропускает запрос только с действующей сессией.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := a.Authenticate(r)
		if err != nil {
			a.log.Debug().Err(err).Str("request_id", RequestID(r)).Msg("auth: запрос отклонён")
			WriteError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

// Authenticate определяет пользователя запроса.
func (a *Authenticator) Authenticate(r *http.Request) (Session, error) {
	token := bearerToken(r)
	switch a.Mode() {
	case "jwt":
		if token == "" {
			return Session{}, errMissingToken
		}
		return a.verifyJWT(token)
	case "supabase":
		if token == "" {
			return Session{}, errMissingToken
		}
		return a.fetchUser(r.Context(), token)
	case "dev-header":
		id := strings.TrimSpace(r.Header.Get(devUserHeader))
		if id == "" {
			return Session{}, errMissingToken
		}
		return Session{UserID: id}, nil
	default:
		return Session{}, errors.New("проверка сессий не настроена")
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (a *Authenticator) verifyJWT(token string) (Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &supabaseClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*supabaseClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Session{}, errInvalidToken
	}
	return Session{UserID: claims.Subject, Email: claims.Email}, nil
}

func (a *Authenticator) fetchUser(ctx context.Context, token string) (Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.SupabaseURL+"/auth/v1/user", nil)
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", a.cfg.ServiceRoleKey)

	start := time.Now()
	resp, err := a.client.Do(req)
	metrics.ObserveNetworkRequest("supabase", "get_user", "/auth/v1/user", start, err)
	if err != nil {
		return Session{}, fmt.Errorf("supabase auth: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Session{}, errInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("supabase auth: статус %d", resp.StatusCode)
	}
	var user struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return Session{}, fmt.Errorf("supabase auth: %w", err)
	}
	if user.ID == "" {
		return Session{}, errInvalidToken
	}
	return Session{UserID: user.ID, Email: user.Email}, nil
}
