// Package shipper sends speed-test records to speedscope-server via gRPC
// (speedscope.v1.MeasurementService/Submit, see pkg/wire).
//
// Shipper.Ship() is non-blocking: records are placed in an in-memory channel
// (agent.buffer_size). When the buffer is full the oldest entry is evicted so
// the latest measurements are always preserved while the server is down.
//
// Shipper.Run() drains the buffer in a loop, reconnecting with truncated
// exponential backoff (1s→60s, ±25% jitter) on connection or send errors.
// A record that failed transiently is requeued. Permanent gRPC errors
// (Unauthenticated, PermissionDenied, InvalidArgument) discard it.
//
// Auth: mTLS via credentials.NewTLS(), API key via gRPC metadata header,
// or insecure (plaintext) for local development.
package shipper
