package wire

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/speedscope/speedscope/pkg/types"
)

func sampleRecord() types.Record {
	return types.Record{
		Timestamp:  types.Timestamp{Time: time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)},
		Download:   87.5,
		Upload:     21.25,
		Ping:       14,
		Jitter:     types.Float(2.5),
		PacketLoss: types.Float(0),
		Source:     "home-office",
		Server:     "FRA",
		ISP:        "Example Net",
	}
}

func TestEncodeDecodeRecord(t *testing.T) {
	in := sampleRecord()
	s, err := EncodeRecord(in)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	if _, ok := s.Fields["location"]; ok {
		t.Error("empty string fields should be omitted")
	}

	out, err := DecodeRecord(s)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if !out.Timestamp.Equal(in.Timestamp.Time) {
		t.Errorf("Timestamp = %v, want %v", out.Timestamp.Time, in.Timestamp.Time)
	}
	if out.Download != in.Download || out.Upload != in.Upload || out.Ping != in.Ping {
		t.Errorf("metrics = %+v", out)
	}
	if out.Jitter == nil || *out.Jitter != 2.5 || out.PacketLoss == nil || *out.PacketLoss != 0 {
		t.Errorf("optional metrics lost: jitter=%v loss=%v", out.Jitter, out.PacketLoss)
	}
	if out.Source != "home-office" || out.Server != "FRA" || out.ISP != "Example Net" {
		t.Errorf("strings = %+v", out)
	}
}

func TestEncodeRecord_OmitsAbsentOptionalMetrics(t *testing.T) {
	in := sampleRecord()
	in.Jitter, in.PacketLoss = nil, nil
	s, err := EncodeRecord(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeRecord(s)
	if err != nil {
		t.Fatal(err)
	}
	if out.Jitter != nil || out.PacketLoss != nil {
		t.Errorf("expected nil jitter/loss, got %v/%v", out.Jitter, out.PacketLoss)
	}
}

func TestDecodeRecord_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]interface{}
		missing bool
	}{
		{"no timestamp", map[string]interface{}{"download": 1.0, "upload": 1.0, "ping": 1.0}, true},
		{"no download", map[string]interface{}{"timestamp": "2024-01-01T00:00:00Z", "upload": 1.0, "ping": 1.0}, true},
		{"no ping", map[string]interface{}{"timestamp": "2024-01-01T00:00:00Z", "download": 1.0, "upload": 1.0}, true},
		{"bad timestamp", map[string]interface{}{"timestamp": "soon", "download": 1.0, "upload": 1.0, "ping": 1.0}, false},
		{"download as string", map[string]interface{}{"timestamp": "2024-01-01T00:00:00Z", "download": "fast", "upload": 1.0, "ping": 1.0}, false},
		{"source as number", map[string]interface{}{"timestamp": "2024-01-01T00:00:00Z", "download": 1.0, "upload": 1.0, "ping": 1.0, "source": 3.0}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := structpb.NewStruct(tc.fields)
			if err != nil {
				t.Fatal(err)
			}
			_, err = DecodeRecord(s)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrMissingField); got != tc.missing {
				t.Errorf("errors.Is(ErrMissingField) = %v, want %v (err=%v)", got, tc.missing, err)
			}
		})
	}
}

func TestDecodeRecord_Nil(t *testing.T) {
	if _, err := DecodeRecord(nil); !errors.Is(err, ErrMissingField) {
		t.Errorf("err = %v, want ErrMissingField", err)
	}
}

func TestAckRoundTrip(t *testing.T) {
	in := Ack{OK: true, Message: "stored", Score: 68.25, State: "healthy"}
	if got := DecodeAck(EncodeAck(in)); got != in {
		t.Errorf("DecodeAck = %+v, want %+v", got, in)
	}
	if got := DecodeAck(nil); got != (Ack{}) {
		t.Errorf("DecodeAck(nil) = %+v, want zero", got)
	}
}

// --- end-to-end over an in-memory gRPC connection ---

type echoServer struct {
	UnimplementedMeasurementServiceServer
	got chan types.Record
}

func (e *echoServer) Submit(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	rec, err := DecodeRecord(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	e.got <- rec
	return EncodeAck(Ack{OK: true, Score: 42, State: "degraded"}), nil
}

func dialBufconn(t *testing.T, srv MeasurementServiceServer, opts ...grpc.ServerOption) MeasurementServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(opts...)
	RegisterMeasurementServiceServer(s, srv)
	go s.Serve(lis) //nolint:errcheck
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewMeasurementServiceClient(conn)
}

func TestSubmit_OverGRPC(t *testing.T) {
	srv := &echoServer{got: make(chan types.Record, 1)}
	client := dialBufconn(t, srv)

	payload, err := EncodeRecord(sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Submit(ctx, payload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ack := DecodeAck(resp)
	if !ack.OK || ack.Score != 42 || ack.State != "degraded" {
		t.Errorf("ack = %+v", ack)
	}
	rec := <-srv.got
	if rec.Source != "home-office" {
		t.Errorf("server saw source %q", rec.Source)
	}
}

func TestSubmit_InterceptorSeesFullMethod(t *testing.T) {
	var seen string
	icpt := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (interface{}, error) {
		seen = info.FullMethod
		return h(ctx, req)
	}
	client := dialBufconn(t, &echoServer{got: make(chan types.Record, 1)}, grpc.UnaryInterceptor(icpt))
	payload, _ := EncodeRecord(sampleRecord())
	if _, err := client.Submit(context.Background(), payload); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if seen != SubmitMethod {
		t.Errorf("FullMethod = %q, want %q", seen, SubmitMethod)
	}
}

func TestSubmit_Unimplemented(t *testing.T) {
	client := dialBufconn(t, UnimplementedMeasurementServiceServer{})
	payload, _ := EncodeRecord(sampleRecord())
	_, err := client.Submit(context.Background(), payload)
	if status.Code(err) != codes.Unimplemented {
		t.Errorf("code = %v, want Unimplemented", status.Code(err))
	}
}
