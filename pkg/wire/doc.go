// Package wire defines the gRPC contract between speedscope-agent and
// speedscope-server.
//
// The service is speedscope.v1.MeasurementService with one unary method,
// Submit. Requests and responses are google.protobuf.Struct messages, so the
// service is declared by hand with a grpc.ServiceDesc and needs no generated
// code. EncodeRecord/DecodeRecord and EncodeAck/DecodeAck map between the
// Struct payloads and the Go types.
//
// Record payload fields:
//
//	timestamp   string, RFC 3339       required
//	download    number, Mbps           required
//	upload      number, Mbps           required
//	ping        number, ms             required
//	jitter      number, ms             optional
//	packet_loss number, percent        optional
//	source, server, isp, location, asn string, optional
//
// Ack payload fields: ok (bool), message (string), score (number),
// state (string).
package wire
