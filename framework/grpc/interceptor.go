// Package grpcauth provides gRPC interceptors for bearer-token
// authentication.
package grpcauth

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tokenforge/bearerauth"
)

// TokenExtractor extracts a bearer token from incoming gRPC metadata.
type TokenExtractor func(ctx context.Context) (string, error)

// MetadataTokenExtractor reads the token from the "authorization" metadata
// field in the usual "Bearer {token}" form.
func MetadataTokenExtractor(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", nil // No metadata, so no token.
	}

	values := md.Get("authorization")
	if len(values) == 0 || values[0] == "" {
		return "", nil
	}

	parts := strings.Fields(values[0])
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("authorization metadata format must be Bearer {token}")
	}

	return parts[1], nil
}

// Interceptor authenticates gRPC calls with the Service.
type Interceptor struct {
	service             *bearerauth.Service
	tokenExtractor      TokenExtractor
	credentialsOptional bool
	excludedMethods     map[string]struct{}
}

// Option configures the Interceptor.
type Option func(*Interceptor)

// WithTokenExtractor replaces the metadata extractor.
func WithTokenExtractor(e TokenExtractor) Option {
	return func(i *Interceptor) {
		if e != nil {
			i.tokenExtractor = e
		}
	}
}

// WithCredentialsOptional lets calls without a token proceed
// unauthenticated.
func WithCredentialsOptional(value bool) Option {
	return func(i *Interceptor) {
		i.credentialsOptional = value
	}
}

// WithExcludedMethods lists full method names that skip authentication.
func WithExcludedMethods(methods ...string) Option {
	return func(i *Interceptor) {
		for _, m := range methods {
			i.excludedMethods[m] = struct{}{}
		}
	}
}

// New builds an Interceptor around the Service.
func New(service *bearerauth.Service, opts ...Option) *Interceptor {
	i := &Interceptor{
		service:         service,
		tokenExtractor:  MetadataTokenExtractor,
		excludedMethods: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// authenticate returns a context carrying the identity, or a gRPC status
// error. The response never carries the internal failure kind.
func (i *Interceptor) authenticate(ctx context.Context, method string) (context.Context, error) {
	if _, excluded := i.excludedMethods[method]; excluded {
		return ctx, nil
	}

	token, err := i.tokenExtractor(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "authentication failed")
	}

	if token == "" && i.credentialsOptional {
		return ctx, nil
	}

	rec, err := i.service.Authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, bearerauth.ErrTokenMissing) {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return nil, status.Error(codes.Unauthenticated, "authentication failed")
	}

	return bearerauth.ContextWithIdentity(ctx, rec), nil
}

// Unary returns a grpc.UnaryServerInterceptor.
func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		authCtx, err := i.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(authCtx, req)
	}
}

// Stream returns a grpc.StreamServerInterceptor.
func (i *Interceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		authCtx, err := i.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: authCtx})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
