package shipper

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/speedscope/speedscope/agent/internal/config"
	"github.com/speedscope/speedscope/pkg/types"
	"github.com/speedscope/speedscope/pkg/wire"
)

// mockServer implements wire.MeasurementServiceServer for testing.
type mockServer struct {
	wire.UnimplementedMeasurementServiceServer
	mu       sync.Mutex
	received []types.Record
	apiKeys  []string
	failWith codes.Code // returned for every call when non-OK
	failN    int        // answer the first N calls with Unavailable
	rejectN  int        // answer the first N calls with ok=false
	calls    int
}

func (m *mockServer) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		m.apiKeys = append(m.apiKeys, md.Get("x-api-key")...)
	}
	if m.failN > 0 {
		m.failN--
		return nil, status.Error(codes.Unavailable, "mock outage")
	}
	if m.failWith != codes.OK {
		return nil, status.Error(m.failWith, "mock failure")
	}
	rec, err := wire.DecodeRecord(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if m.rejectN > 0 {
		m.rejectN--
		return wire.EncodeAck(wire.Ack{OK: false, Message: "mock rejection"}), nil
	}
	m.received = append(m.received, rec)
	return wire.EncodeAck(wire.Ack{OK: true, Score: 50, State: "degraded"}), nil
}

func (m *mockServer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockServer) records() []types.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Record, len(m.received))
	copy(out, m.received)
	return out
}

// startTestServer starts an in-process gRPC server and returns a dial
// function that connects to it.
func startTestServer(t *testing.T, srv *mockServer) dialFunc {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	gs := grpc.NewServer()
	wire.RegisterMeasurementServiceServer(gs, srv)
	go gs.Serve(lis) //nolint:errcheck // returns on Stop
	t.Cleanup(gs.Stop)

	addr := lis.Addr().String()
	return func(ctx context.Context, _ string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
		return grpc.DialContext(ctx, addr, //nolint:staticcheck
			grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
}

func makeRecord(dl float64) types.Record {
	return types.Record{
		Timestamp:  types.NewTimestamp(time.Now()),
		Download:   dl,
		Upload:     10,
		Ping:       20,
		Jitter:     types.Float(2),
		PacketLoss: types.Float(0),
		Source:     "agent-1",
	}
}

func agentCfg() config.AgentConfig {
	return config.AgentConfig{
		ServerEndpoint: "unused-overridden-by-dialFn",
		BufferSize:     10,
	}
}

// waitFor polls cond until it holds or 2s pass.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// --- Tests ---

func TestShipper_DeliversRecord(t *testing.T) {
	srv := &mockServer{}
	s := New(agentCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(makeRecord(42))
	waitFor(t, func() bool { return len(srv.records()) > 0 })

	recs := srv.records()
	if len(recs) != 1 {
		t.Fatalf("server received %d records, want 1", len(recs))
	}
	if recs[0].Source != "agent-1" || recs[0].Download != 42 {
		t.Errorf("record = %+v", recs[0])
	}
	if recs[0].Jitter == nil || *recs[0].Jitter != 2 {
		t.Errorf("jitter not shipped: %v", recs[0].Jitter)
	}
}

func TestShipper_MultipleRecordsInOrder(t *testing.T) {
	srv := &mockServer{}
	s := New(agentCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	for i := 0; i < 5; i++ {
		s.Ship(makeRecord(float64(i)))
	}
	waitFor(t, func() bool { return len(srv.records()) >= 5 })

	recs := srv.records()
	if len(recs) != 5 {
		t.Fatalf("server received %d records, want 5", len(recs))
	}
	for i, r := range recs {
		if r.Download != float64(i) {
			t.Errorf("recs[%d].Download = %v, want %d", i, r.Download, i)
		}
	}
}

func TestShipper_RejectedRecordIsNotRetried(t *testing.T) {
	srv := &mockServer{rejectN: 1}
	s := New(agentCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(makeRecord(1))
	s.Ship(makeRecord(2))
	waitFor(t, func() bool { return len(srv.records()) >= 1 })
	time.Sleep(100 * time.Millisecond)

	recs := srv.records()
	if len(recs) != 1 || recs[0].Download != 2 {
		t.Errorf("records = %+v, want only the second", recs)
	}
}

func TestShipper_PermanentErrorDiscards(t *testing.T) {
	srv := &mockServer{failWith: codes.Unauthenticated}
	s := New(agentCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(makeRecord(1))
	waitFor(t, func() bool { return s.Pending() == 0 })
	time.Sleep(100 * time.Millisecond)
	if n := s.Pending(); n != 0 {
		t.Errorf("Pending = %d, want 0 (record should be discarded)", n)
	}
}

func TestShipper_TransientErrorRequeues(t *testing.T) {
	srv := &mockServer{failWith: codes.Unavailable}
	s := New(agentCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.Ship(makeRecord(7))
	// First attempt fails; the record is held for retry while the shipper
	// backs off for about a second.
	time.Sleep(300 * time.Millisecond)
	if n := s.Pending(); n != 1 {
		t.Errorf("Pending = %d, want 1 (record requeued)", n)
	}
	cancel()
	<-done
}

func TestShipper_RetryKeepsOrderWhenBufferFull(t *testing.T) {
	srv := &mockServer{failN: 1}
	cfg := agentCfg()
	cfg.BufferSize = 1
	s := New(cfg)
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(makeRecord(1))
	waitFor(t, func() bool { return srv.callCount() >= 1 && s.Pending() == 1 })

	// The buffer holds one record; the failed one must survive alongside it.
	s.Ship(makeRecord(2))
	if n := s.Pending(); n != 2 {
		t.Fatalf("Pending = %d, want 2", n)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(srv.records()) < 2 {
		time.Sleep(20 * time.Millisecond)
	}
	recs := srv.records()
	if len(recs) != 2 || recs[0].Download != 1 || recs[1].Download != 2 {
		t.Errorf("records = %+v, want downloads 1 then 2", recs)
	}
}

func TestShipper_APIKeyMetadata(t *testing.T) {
	t.Setenv("SPEEDSCOPE_TEST_KEY", "s3cret")
	srv := &mockServer{}
	cfg := agentCfg()
	cfg.ServerAuth = config.AuthConfig{Mode: "apikey", Header: "x-api-key", KeyEnv: "SPEEDSCOPE_TEST_KEY"}
	s := New(cfg)
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(makeRecord(1))
	waitFor(t, func() bool { return len(srv.records()) > 0 })

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.apiKeys) == 0 || srv.apiKeys[0] != "s3cret" {
		t.Errorf("api keys seen = %v, want [s3cret]", srv.apiKeys)
	}
}

func TestShipper_BufferEvictsOldest(t *testing.T) {
	// BufferSize=3; Ship 5 items while the shipper is not running.
	// Only the 3 most recent should survive.
	s := New(config.AgentConfig{BufferSize: 3})
	for i := 0; i < 5; i++ {
		s.Ship(makeRecord(float64(i)))
	}

	var got []float64
	for s.Pending() > 0 {
		got = append(got, (<-s.buf).Download)
	}
	if len(got) != 3 {
		t.Fatalf("buffer has %d items, want 3", len(got))
	}
	for i, want := range []float64{2, 3, 4} {
		if got[i] != want {
			t.Errorf("got[%d] = %.0f, want %.0f", i, got[i], want)
		}
	}
}

func TestShipper_BackoffResets(t *testing.T) {
	b := newBackoff()
	if first := b.next(); first > 2*time.Second {
		t.Errorf("first backoff too large: %v", first)
	}
	for i := 0; i < 10; i++ {
		b.next()
	}
	b.reset()
	if after := b.next(); after > 2*time.Second {
		t.Errorf("backoff after reset too large: %v", after)
	}
}

func TestBackoff_NeverExceedsMax(t *testing.T) {
	b := newBackoff()
	for i := 0; i < 50; i++ {
		// With jitter, the ceiling is backoffMax * 1.25.
		if d := b.next(); d > backoffMax*5/4 {
			t.Errorf("backoff[%d] = %v, exceeds 1.25×max", i, d)
		}
	}
}

func TestShipper_GracefulShutdown(t *testing.T) {
	s := New(agentCfg())
	s.dialFn = startTestServer(t, &mockServer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestIsPermanentError(t *testing.T) {
	tests := []struct {
		code codes.Code
		want bool
	}{
		{codes.InvalidArgument, true},
		{codes.Unauthenticated, true},
		{codes.PermissionDenied, true},
		{codes.Unavailable, false},
		{codes.DeadlineExceeded, false},
	}
	for _, tc := range tests {
		if got := isPermanentError(status.Error(tc.code, "x")); got != tc.want {
			t.Errorf("isPermanentError(%v) = %v, want %v", tc.code, got, tc.want)
		}
	}
}
