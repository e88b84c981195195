package wire

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/speedscope/speedscope/pkg/types"
)

// ErrMissingField is wrapped by DecodeRecord when a required field is absent.
var ErrMissingField = errors.New("wire: missing field")

// Ack is the server's reply to Submit.
type Ack struct {
	OK      bool
	Message string
	// Score and State are the health evaluation of the submitted record.
	// State is "unknown" when the record was stored but not scored.
	Score float64
	State string
}

// EncodeRecord converts r to a Struct payload.
func EncodeRecord(r types.Record) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"timestamp": r.Timestamp.UTC().Format(time.RFC3339),
		"download":  r.Download,
		"upload":    r.Upload,
		"ping":      r.Ping,
	}
	if r.Jitter != nil {
		fields["jitter"] = *r.Jitter
	}
	if r.PacketLoss != nil {
		fields["packet_loss"] = *r.PacketLoss
	}
	for k, v := range map[string]string{
		"source":   r.Source,
		"server":   r.Server,
		"isp":      r.ISP,
		"location": r.Location,
		"asn":      r.ASN,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("wire: encode record: %w", err)
	}
	return s, nil
}

// DecodeRecord converts a Struct payload to a Record.
func DecodeRecord(s *structpb.Struct) (types.Record, error) {
	var r types.Record
	if s == nil {
		return r, fmt.Errorf("%w: payload", ErrMissingField)
	}
	f := s.GetFields()

	ts, err := stringField(f, "timestamp", true)
	if err != nil {
		return r, err
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return r, fmt.Errorf("wire: timestamp %q: %w", ts, err)
	}
	r.Timestamp = types.Timestamp{Time: parsed.Local()}

	if r.Download, err = numberField(f, "download"); err != nil {
		return r, err
	}
	if r.Upload, err = numberField(f, "upload"); err != nil {
		return r, err
	}
	if r.Ping, err = numberField(f, "ping"); err != nil {
		return r, err
	}
	if r.Jitter, err = optionalNumber(f, "jitter"); err != nil {
		return r, err
	}
	if r.PacketLoss, err = optionalNumber(f, "packet_loss"); err != nil {
		return r, err
	}

	for _, sf := range []struct {
		key string
		dst *string
	}{
		{"source", &r.Source},
		{"server", &r.Server},
		{"isp", &r.ISP},
		{"location", &r.Location},
		{"asn", &r.ASN},
	} {
		if *sf.dst, err = stringField(f, sf.key, false); err != nil {
			return r, err
		}
	}
	return r, nil
}

// EncodeAck converts a to a Struct payload.
func EncodeAck(a Ack) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"ok":      structpb.NewBoolValue(a.OK),
		"message": structpb.NewStringValue(a.Message),
		"score":   structpb.NewNumberValue(a.Score),
		"state":   structpb.NewStringValue(a.State),
	}}
}

// DecodeAck converts a Struct payload to an Ack. Absent fields are zero.
func DecodeAck(s *structpb.Struct) Ack {
	f := s.GetFields()
	return Ack{
		OK:      f["ok"].GetBoolValue(),
		Message: f["message"].GetStringValue(),
		Score:   f["score"].GetNumberValue(),
		State:   f["state"].GetStringValue(),
	}
}

func numberField(f map[string]*structpb.Value, key string) (float64, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("wire: field %s: want number", key)
	}
	return n.NumberValue, nil
}

func optionalNumber(f map[string]*structpb.Value, key string) (*float64, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return nil, nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, nil
	}
	n, err := numberField(f, key)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func stringField(f map[string]*structpb.Value, key string, required bool) (string, error) {
	v, ok := f[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%w: %s", ErrMissingField, key)
		}
		return "", nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("wire: field %s: want string", key)
	}
	return s.StringValue, nil
}
