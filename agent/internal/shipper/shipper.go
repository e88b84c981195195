package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/speedscope/speedscope/agent/internal/config"
	"github.com/speedscope/speedscope/pkg/types"
	"github.com/speedscope/speedscope/pkg/wire"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// Shipper buffers records and ships them to speedscope-server via gRPC.
// Ship() is non-blocking; when the buffer is full the oldest record is evicted.
// Run() must be called in a goroutine to drain the buffer and handle reconnection.
type Shipper struct {
	cfg    config.AgentConfig
	buf    chan types.Record
	dialFn dialFunc // injectable for tests

	mu    sync.Mutex
	retry *types.Record // failed send awaiting the next connection
}

// dialFunc opens a gRPC connection. Abstracted so tests can dial an
// in-process server.
type dialFunc func(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error)

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	size := cfg.BufferSize
	if size <= 0 {
		size = config.DefaultBufferSize
	}
	return &Shipper{
		cfg:    cfg,
		buf:    make(chan types.Record, size),
		dialFn: defaultDial,
	}
}

// Ship enqueues rec. If the buffer is full the oldest entry is evicted to
// make room.
func (s *Shipper) Ship(rec types.Record) {
	for {
		select {
		case s.buf <- rec:
			return
		default:
		}
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest record",
				"timestamp", old.Timestamp.Format(types.TimestampLayout),
				"buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Pending returns the number of records waiting to be sent, including one
// held for retry.
func (s *Shipper) Pending() int {
	n := len(s.buf)
	s.mu.Lock()
	if s.retry != nil {
		n++
	}
	s.mu.Unlock()
	return n
}

// Run drains the buffer, sending records to the server.
// It reconnects with exponential backoff when the connection is lost.
// Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialFn(ctx, s.cfg.ServerEndpoint, s.cfg)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: dial failed, will retry",
				"endpoint", s.cfg.ServerEndpoint,
				"err", err,
				"retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("shipper: connected", "endpoint", s.cfg.ServerEndpoint)
		bo.reset()

		err = s.drain(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: connection lost, will reconnect",
			"endpoint", s.cfg.ServerEndpoint,
			"err", err,
			"retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// drain sends the held retry record, then buffered records, until a send
// fails with a transient error or ctx is cancelled.
func (s *Shipper) drain(ctx context.Context, conn *grpc.ClientConn) error {
	client := wire.NewMeasurementServiceClient(conn)

	for {
		rec, ok := s.next(ctx)
		if !ok {
			return nil
		}
		if err := s.send(ctx, client, rec); err != nil {
			// Hold it for the next connection ahead of newer records.
			s.mu.Lock()
			s.retry = &rec
			s.mu.Unlock()
			return fmt.Errorf("send: %w", err)
		}
	}
}

// next returns the record held for retry, or blocks for the next buffered
// record. It reports false once ctx is done.
func (s *Shipper) next(ctx context.Context) (types.Record, bool) {
	if ctx.Err() != nil {
		return types.Record{}, false
	}
	s.mu.Lock()
	held := s.retry
	s.retry = nil
	s.mu.Unlock()
	if held != nil {
		return *held, true
	}

	select {
	case <-ctx.Done():
		return types.Record{}, false
	case rec := <-s.buf:
		return rec, true
	}
}

// send submits rec. It returns an error only when a retry could succeed.
func (s *Shipper) send(ctx context.Context, client wire.MeasurementServiceClient, rec types.Record) error {
	payload, err := wire.EncodeRecord(rec)
	if err != nil {
		slog.Error("shipper: cannot encode record, discarding", "err", err)
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if s.cfg.ServerAuth.Mode == "apikey" && s.cfg.ServerAuth.KeyEnv != "" {
		sendCtx = metadata.AppendToOutgoingContext(sendCtx,
			s.cfg.ServerAuth.Header, s.cfg.ServerAuth.Key())
	}
	resp, err := client.Submit(sendCtx, payload)
	if err != nil {
		// Permanent errors mean the record itself (or our credentials)
		// is bad; retrying will not help.
		if isPermanentError(err) {
			slog.Error("shipper: permanent send error, discarding record",
				"source", rec.Source, "err", err)
			return nil
		}
		return err
	}

	ack := wire.DecodeAck(resp)
	if !ack.OK {
		slog.Warn("shipper: server rejected record",
			"source", rec.Source, "message", ack.Message)
	} else {
		slog.Debug("shipper: record delivered",
			"source", rec.Source, "score", ack.Score, "state", ack.State)
	}
	return nil
}

// isPermanentError returns true for gRPC errors that indicate the record
// should not be retried.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

// defaultDial opens a gRPC connection to endpoint with auth configured from cfg.
func defaultDial(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // DialContext kept for its eager-connect semantics
}

// dialOptions builds grpc.DialOption slice based on the server auth config.
func dialOptions(cfg config.AgentConfig) ([]grpc.DialOption, error) {
	if cfg.ServerAuth.Mode == "mtls" {
		creds, err := buildMTLSCreds(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil
	}
	// apikey: the key is attached per call in drain().
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
}

// buildMTLSCreds loads client certificate and optional CA from the auth config.
func buildMTLSCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return credentials.NewTLS(tlsCfg), nil
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter.
	d += time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
