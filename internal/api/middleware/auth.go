// auth.go - JWT middleware для аутентификации загрузки и maintenance.
// RS256 + JWKS. Claims: sub (subject), scope/scopes.
// Чтение изображений, health и metrics - без аутентификации.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/selfdestruct-module/internal/api/errors"
)

// contextKey - тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeySubject - ключ для sub из JWT в контексте запроса.
	ContextKeySubject contextKey = "jwt_subject"
	// ContextKeyScopes - ключ для scopes из JWT в контексте запроса.
	ContextKeyScopes contextKey = "jwt_scopes"
)

// ScopeMaintenance - scope, необходимый для ручного запуска sweep и сверки.
const ScopeMaintenance = "selfdestruct:maintenance"

// Claims - JWT claims.
// Поддерживает два формата scopes:
//   - Keycloak стандартный: "scope" (пробело-разделённая строка)
//   - Кастомный: "scopes" (массив строк)
type Claims struct {
	jwt.RegisteredClaims
	ScopeString string   `json:"scope"`
	ScopeArray  []string `json:"scopes"`
}

// Scopes возвращает объединённый список scope'ов из обоих форматов.
func (c *Claims) Scopes() []string {
	var result []string
	if c.ScopeString != "" {
		result = append(result, strings.Fields(c.ScopeString)...)
	}
	result = append(result, c.ScopeArray...)
	return result
}

// UnauthorizedWriter записывает ответ 401.
type UnauthorizedWriter func(w http.ResponseWriter, message string)

// JWTAuth - middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	jwtLeeway time.Duration
	logger    *slog.Logger
}

// JWTAuthConfig - параметры для создания JWT middleware.
type JWTAuthConfig struct {
	// URL JWKS endpoint
	JWKSURL string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS из указанного URL.
func NewJWTAuth(authCfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq позволяет стартовать, даже если JWKS endpoint
	// ещё недоступен
	storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: authCfg.ClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           authCfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", authCfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, authCfg.JWTLeeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки JWKS из JSON.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, jwtLeeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:      kf,
		jwtLeeway: jwtLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Ответ 401 - в стандартном формате ошибок API.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return j.MiddlewareWith(apierrors.Unauthorized)
}

// MiddlewareWith возвращает HTTP middleware, отвечающий на отказ через unauthorized.
// Извлекает Bearer token, валидирует подпись (RS256), проверяет exp/nbf,
// помещает sub и scopes в контекст запроса.
func (j *JWTAuth) MiddlewareWith(unauthorized UnauthorizedWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}
			if tokenString == "" {
				unauthorized(w, "Пустой Bearer token")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()),
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			)
			if err != nil || !token.Valid {
				msg := "невалидный токен"
				if err != nil {
					msg = err.Error()
				}
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", msg),
					slog.String("remote_addr", r.RemoteAddr),
				)
				unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				unauthorized(w, "Отсутствует sub в токене")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
			ctx = context.WithValue(ctx, ContextKeyScopes, claims.Scopes())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope возвращает middleware, проверяющий наличие указанного scope.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopes, ok := r.Context().Value(ContextKeyScopes).([]string)
			if !ok {
				apierrors.Forbidden(w, "Отсутствуют scopes в токене")
				return
			}
			if !slices.Contains(scopes, scope) {
				apierrors.Forbidden(w, "Недостаточно прав: требуется scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectFromContext извлекает sub из контекста запроса.
// Возвращает пустую строку, если sub не найден.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeySubject).(string)
	return subject
}
