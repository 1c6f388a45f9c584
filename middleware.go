package bearerauth

import (
	"fmt"
	"net/http"
)

// Middleware authenticates incoming HTTP requests with the Service and
// installs the resulting identity in the request context.
type Middleware struct {
	service             *Service
	errorHandler        ErrorHandler
	tokenExtractor      TokenExtractor
	credentialsOptional bool
	exclusionHandler    func(r *http.Request) bool
	logger              Logger
}

// MiddlewareOption configures the Middleware.
type MiddlewareOption func(*Middleware) error

// WithErrorHandler sets the handler called on authentication failure.
//
// Default: DefaultErrorHandler.
func WithErrorHandler(h ErrorHandler) MiddlewareOption {
	return func(m *Middleware) error {
		if h == nil {
			return fmt.Errorf("error handler cannot be nil")
		}
		m.errorHandler = h
		return nil
	}
}

// WithTokenExtractor sets the function to extract the token from the
// request.
//
// Default: AuthHeaderTokenExtractor.
func WithTokenExtractor(e TokenExtractor) MiddlewareOption {
	return func(m *Middleware) error {
		if e == nil {
			return fmt.Errorf("token extractor cannot be nil")
		}
		m.tokenExtractor = e
		return nil
	}
}

// WithCredentialsOptional lets requests without a token through,
// unauthenticated. Requests that present a bad token are still rejected.
//
// Default: false (credentials required).
func WithCredentialsOptional(value bool) MiddlewareOption {
	return func(m *Middleware) error {
		m.credentialsOptional = value
		return nil
	}
}

// WithExclusionURLs configures URL paths that skip authentication entirely.
func WithExclusionURLs(exclusions []string) MiddlewareOption {
	return func(m *Middleware) error {
		if len(exclusions) == 0 {
			return fmt.Errorf("exclusion URL list cannot be empty")
		}
		m.exclusionHandler = func(r *http.Request) bool {
			for _, exclusion := range exclusions {
				if r.URL.Path == exclusion || r.URL.String() == exclusion {
					return true
				}
			}
			return false
		}
		return nil
	}
}

// WithMiddlewareLogger sets an optional logger for the middleware.
func WithMiddlewareLogger(l Logger) MiddlewareOption {
	return func(m *Middleware) error {
		if l == nil {
			return ErrLoggerNil
		}
		m.logger = l
		return nil
	}
}

// NewMiddleware builds a Middleware around the Service.
func NewMiddleware(service *Service, opts ...MiddlewareOption) (*Middleware, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}

	m := &Middleware{
		service:        service,
		errorHandler:   DefaultErrorHandler,
		tokenExtractor: AuthHeaderTokenExtractor,
		logger:         NopLogger{},
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	return m, nil
}

// CheckToken wraps next, authenticating each request before it runs.
func (m *Middleware) CheckToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.exclusionHandler != nil && m.exclusionHandler(r) {
			m.logger.Debugf("skipping authentication for excluded URL %s", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}

		token, err := m.tokenExtractor(r)
		if err != nil {
			// An extractor error means a credential was presented but
			// malformed at the transport level, not that it was absent.
			m.logger.Errorf("failed to extract token: %v", err)
			m.errorHandler(w, r, &invalidError{details: err})
			return
		}

		if token == "" && m.credentialsOptional {
			m.logger.Debugf("no credentials provided, continuing (credentials optional)")
			next.ServeHTTP(w, r)
			return
		}

		rec, err := m.service.Authenticate(r.Context(), token)
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}

		next.ServeHTTP(w, r.Clone(ContextWithIdentity(r.Context(), rec)))
	})
}
