package receiver

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/speedscope/speedscope/pkg/health"
	"github.com/speedscope/speedscope/pkg/types"
	"github.com/speedscope/speedscope/pkg/wire"
	"github.com/speedscope/speedscope/server/internal/config"
	"github.com/speedscope/speedscope/server/internal/store"
)

// Observer is notified of every stored record.
type Observer interface {
	Observe(e store.Entry)
}

// Options configures scoring and fan-out.
type Options struct {
	Scorer health.Scorer

	// MissingMetrics is config.MissingZero or config.MissingReject.
	MissingMetrics string

	Observers []Observer
}

// Score evaluates rec under the missing-metrics policy. It returns nil when
// the record lacks jitter or packet loss and the policy is reject. The store
// uses it to score records restored at start-up.
func (o Options) Score(rec types.Record) *health.Report {
	return rec.Evaluate(o.Scorer, o.MissingMetrics)
}

// Receiver implements wire.MeasurementServiceServer.
// It validates each incoming record, scores it and stores it.
type Receiver struct {
	wire.UnimplementedMeasurementServiceServer
	store *store.Store
	opts  Options
}

// New creates a Receiver that writes accepted records to st.
func New(st *store.Store, opts Options) *Receiver {
	if opts.Scorer == (health.Scorer{}) {
		opts.Scorer = health.NewScorer(health.DefaultWeights)
	}
	if opts.MissingMetrics == "" {
		opts.MissingMetrics = config.MissingZero
	}
	return &Receiver{store: st, opts: opts}
}

// Submit is the unary RPC handler called by speedscope-agent instances.
// Authentication is enforced by the gRPC server interceptor before this is called.
func (r *Receiver) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	rec, err := wire.DecodeRecord(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if rec.Source == "" {
		return nil, status.Error(codes.InvalidArgument, "source is required")
	}

	rep := r.opts.Score(rec)

	entry, err := r.store.Append(ctx, rec, rep)
	if err != nil {
		if errors.Is(err, store.ErrClosed) {
			return nil, status.Error(codes.Unavailable, "server shutting down")
		}
		slog.Error("receiver: store append failed", "source", rec.Source, "err", err)
		return nil, status.Error(codes.Unavailable, "could not persist record")
	}

	for _, o := range r.opts.Observers {
		o.Observe(entry)
	}

	ack := wire.Ack{OK: true, Message: "stored", State: health.StateUnknown}
	if rep != nil {
		ack.Score = rep.Score
		ack.State = rep.State
	}
	slog.Debug("receiver: record stored",
		"source", rec.Source,
		"download_mbps", rec.Download,
		"state", ack.State,
		"score", ack.Score,
	)
	return wire.EncodeAck(ack), nil
}
