// Package receiver implements wire.MeasurementServiceServer: the gRPC
// endpoint that accepts speed-test records from speedscope-agent instances.
//
// Receiver.Submit decodes the record (codes.InvalidArgument if malformed or
// if source is empty), scores it, appends it to the store and notifies the
// observers (alerts, metrics, WebSocket hub). A store failure returns
// codes.Unavailable so the agent retries. Authentication is enforced upstream
// by the gRPC server interceptor (see package auth).
package receiver
