// Package auth provides API key and mTLS authentication for speedscope-server.
//
// APIKeyInterceptor(mode, header, key) returns a gRPC UnaryServerInterceptor
// that validates the API key from the named gRPC metadata header.
// APIKeyMiddleware does the same for the REST API and WebSocket stream.
//
// When mode != "apikey" or key == "", all calls pass through (useful for local
// development with auth disabled). When the key is incorrect or absent, gRPC
// calls fail with codes.Unauthenticated and HTTP requests with 401.
//
// ServerTLS builds the gRPC transport credentials for mode "mtls".
package auth
