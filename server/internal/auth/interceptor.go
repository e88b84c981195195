package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// APIKeyInterceptor returns a gRPC UnaryServerInterceptor that enforces API key
// authentication on every Submit call from an agent.
//
// If mode != "apikey" or key == "", all calls are allowed. Otherwise the value
// of header in the incoming metadata must equal key; a missing or wrong key
// returns codes.Unauthenticated, which agents treat as permanent.
//
// header should be lowercase; gRPC normalises metadata keys.
func APIKeyInterceptor(mode, header, key string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !enabled(mode, key) {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		vals := md.Get(header)
		if len(vals) == 0 || !validKey(vals[0], key) {
			slog.Warn("auth: rejected grpc call", "method", info.FullMethod)
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}

		return handler(ctx, req)
	}
}

func enabled(mode, key string) bool {
	return mode == "apikey" && key != ""
}

// validKey compares in constant time.
func validKey(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
