// Package ginauth provides Gin middleware for bearer-token authentication.
package ginauth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokenforge/bearerauth"
)

// DefaultIdentityKey is the Gin context key the identity is stored under.
const DefaultIdentityKey = "identity"

// Option configures the middleware.
type Option func(*middlewareConfig)

type middlewareConfig struct {
	errorHandler        func(*gin.Context, error)
	contextKey          string
	tokenExtractor      bearerauth.TokenExtractor
	credentialsOptional bool
}

// WithErrorHandler replaces the default error responder.
func WithErrorHandler(h func(*gin.Context, error)) Option {
	return func(c *middlewareConfig) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

// WithContextKey changes the Gin context key for the identity.
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

// Middleware returns a gin.HandlerFunc that authenticates each request with
// the Service, aborting with the configured error handler on failure. The
// identity is stored both in the Gin context and the request context.
func Middleware(service *bearerauth.Service, opts ...Option) gin.HandlerFunc {
	config := &middlewareConfig{
		errorHandler:   defaultErrorHandler,
		contextKey:     DefaultIdentityKey,
		tokenExtractor: bearerauth.AuthHeaderTokenExtractor,
	}
	for _, opt := range opts {
		opt(config)
	}

	return func(c *gin.Context) {
		token, err := config.tokenExtractor(c.Request)
		if err != nil {
			config.errorHandler(c, err)
			return
		}

		if token == "" && config.credentialsOptional {
			c.Next()
			return
		}

		rec, err := service.Authenticate(c.Request.Context(), token)
		if err != nil {
			config.errorHandler(c, err)
			return
		}

		c.Set(config.contextKey, rec)
		c.Request = c.Request.WithContext(bearerauth.ContextWithIdentity(c.Request.Context(), rec))
		c.Next()
	}
}

func defaultErrorHandler(c *gin.Context, err error) {
	status := http.StatusUnauthorized
	message := "authentication failed"
	if errors.Is(err, bearerauth.ErrTokenMissing) {
		status = http.StatusBadRequest
		message = "authentication required"
	}
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}
