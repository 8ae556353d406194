// Пакет openapi - встроенный OpenAPI контракт и middleware проверки
// входящих запросов по нему (kin-openapi).
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	apierrors "github.com/bigkaa/goartstore/selfdestruct-module/internal/api/errors"
)

//go:embed openapi.yaml
var specYAML []byte

// Spec возвращает исходный текст контракта.
func Spec() []byte {
	return specYAML
}

// Load разбирает и валидирует встроенный контракт.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI контракта: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("валидация OpenAPI контракта: %w", err)
	}
	return doc, nil
}

// Validator проверяет параметры пути и запроса по контракту.
// Тело запроса не проверяется: multipart загрузки разбирает handler.
type Validator struct {
	router routers.Router
	logger *slog.Logger
}

// NewValidator создаёт Validator для контракта doc.
func NewValidator(doc *openapi3.T, logger *slog.Logger) (*Validator, error) {
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("создание маршрутизатора OpenAPI: %w", err)
	}
	return &Validator{
		router: router,
		logger: logger.With(slog.String("component", "openapi_validator")),
	}, nil
}

// Middleware возвращает HTTP middleware проверки запросов.
// Маршруты, отсутствующие в контракте, пропускаются без проверки:
// 404 и 405 формирует chi.
func (v *Validator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				if !errors.Is(err, routers.ErrPathNotFound) && !errors.Is(err, routers.ErrMethodNotAllowed) {
					v.logger.Debug("Маршрут не найден в контракте",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					ExcludeRequestBody: true,
					// Аутентификацию выполняет JWT middleware
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				v.logger.Debug("Запрос не соответствует контракту",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, validationMessage(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validationMessage формирует короткое сообщение без внутренних подробностей схемы.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) && reqErr.Parameter != nil {
		return fmt.Sprintf("Некорректный параметр %s", reqErr.Parameter.Name)
	}
	return "Запрос не соответствует контракту API"
}
