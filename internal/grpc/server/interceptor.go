package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/EternisAI/fleetwatch/internal/auth"
	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/feed"
	"github.com/EternisAI/fleetwatch/internal/grpc/wire"
)

// apiKeyInterceptor guards Publish. An empty key leaves ingest open.
func apiKeyInterceptor(apiKey string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if apiKey == "" || info.FullMethod != wire.PublishMethod {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		keys := md.Get(wire.APIKeyMetadata)
		if len(keys) == 0 || subtle.ConstantTimeCompare([]byte(keys[0]), []byte(apiKey)) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid or missing API key")
		}
		return handler(ctx, req)
	}
}

// bearerTokenInterceptor guards Watch with the same viewer tokens the HTTP
// live feed accepts.
func bearerTokenInterceptor(validate func(token string) (*auth.Claims, error)) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if validate == nil || info.FullMethod != wire.WatchMethod {
			return handler(srv, ss)
		}
		md, _ := metadata.FromIncomingContext(ss.Context())
		values := md.Get(wire.AuthorizationMetadata)
		if len(values) == 0 {
			return status.Error(codes.Unauthenticated, "missing bearer token")
		}
		token, ok := strings.CutPrefix(values[0], "Bearer ")
		if !ok || token == "" {
			return status.Error(codes.Unauthenticated, "missing bearer token")
		}
		claims, err := validate(token)
		if err != nil {
			slog.Debug("Rejected watch token", "error", err)
			return status.Error(codes.Unauthenticated, "invalid token")
		}
		if claims.Role != auth.RoleViewer && claims.Role != auth.RoleAdmin {
			return status.Error(codes.PermissionDenied, "forbidden")
		}
		return handler(srv, ss)
	}
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, events.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, events.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, events.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, feed.ErrSubscriptionClosed):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
