// Package echoauth provides Echo middleware for bearer-token authentication.
package echoauth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tokenforge/bearerauth"
)

// DefaultIdentityKey is the Echo context key the identity is stored under.
const DefaultIdentityKey = "identity"

// Option configures the middleware.
type Option func(*middlewareConfig)

type middlewareConfig struct {
	errorHandler        func(echo.Context, error) error
	contextKey          string
	tokenExtractor      bearerauth.TokenExtractor
	credentialsOptional bool
}

// WithErrorHandler replaces the default error responder.
func WithErrorHandler(h func(echo.Context, error) error) Option {
	return func(c *middlewareConfig) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

// WithContextKey changes the Echo context key for the identity.
func WithContextKey(key string) Option {
	return func(c *middlewareConfig) {
		if key != "" {
			c.contextKey = key
		}
	}
}

// WithTokenExtractor replaces the Authorization-header extractor.
func WithTokenExtractor(e bearerauth.TokenExtractor) Option {
	return func(c *middlewareConfig) {
		if e != nil {
			c.tokenExtractor = e
		}
	}
}

// WithCredentialsOptional lets requests without a token continue
// unauthenticated.
func WithCredentialsOptional(value bool) Option {
	return func(c *middlewareConfig) {
		c.credentialsOptional = value
	}
}

// Middleware returns an echo.MiddlewareFunc that authenticates each request
// with the Service. The identity is stored both in the Echo context and the
// request context.
func Middleware(service *bearerauth.Service, opts ...Option) echo.MiddlewareFunc {
	config := &middlewareConfig{
		errorHandler:   defaultErrorHandler,
		contextKey:     DefaultIdentityKey,
		tokenExtractor: bearerauth.AuthHeaderTokenExtractor,
	}
	for _, opt := range opts {
		opt(config)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := config.tokenExtractor(c.Request())
			if err != nil {
				return config.errorHandler(c, err)
			}

			if token == "" && config.credentialsOptional {
				return next(c)
			}

			rec, err := service.Authenticate(c.Request().Context(), token)
			if err != nil {
				return config.errorHandler(c, err)
			}

			c.Set(config.contextKey, rec)
			c.SetRequest(c.Request().WithContext(bearerauth.ContextWithIdentity(c.Request().Context(), rec)))
			return next(c)
		}
	}
}

func defaultErrorHandler(c echo.Context, err error) error {
	status := http.StatusUnauthorized
	message := "authentication failed"
	if errors.Is(err, bearerauth.ErrTokenMissing) {
		status = http.StatusBadRequest
		message = "authentication required"
	}
	return c.JSON(status, map[string]string{"message": message})
}
