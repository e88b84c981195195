package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/speedscope/speedscope/pkg/types"
)

const (
	createTableStatement = `
CREATE TABLE IF NOT EXISTS speed_records (
    id          BIGSERIAL PRIMARY KEY,
    recorded_at TIMESTAMPTZ NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    download    DOUBLE PRECISION NOT NULL,
    upload      DOUBLE PRECISION NOT NULL,
    ping        DOUBLE PRECISION NOT NULL,
    jitter      DOUBLE PRECISION,
    packet_loss DOUBLE PRECISION,
    server      TEXT NOT NULL DEFAULT '',
    isp         TEXT NOT NULL DEFAULT '',
    location    TEXT NOT NULL DEFAULT '',
    asn         TEXT NOT NULL DEFAULT ''
)`
	recordedAtIndexStatement = `
CREATE INDEX IF NOT EXISTS speed_records_recorded_at_idx
ON speed_records (recorded_at DESC)`

	insertStatement = `INSERT INTO speed_records (recorded_at, source, download, upload, ping, jitter, packet_loss, server, isp, location, asn) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	selectColumns = `recorded_at, source, download, upload, ping, jitter, packet_loss, server, isp, location, asn`
	selectAll     = `SELECT ` + selectColumns + ` FROM speed_records ORDER BY recorded_at, id`
	selectNewest  = `SELECT ` + selectColumns + ` FROM (SELECT * FROM speed_records ORDER BY recorded_at DESC, id DESC LIMIT $1) newest ORDER BY recorded_at, id`
)

// Postgres stores records in the speed_records table.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn with lib/pq and prepares the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	p, err := NewPostgres(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an open database, verifies the connection and creates
// the table when missing.
func NewPostgres(ctx context.Context, db *sql.DB) (*Postgres, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	for _, stmt := range []string{createTableStatement, recordedAtIndexStatement} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("postgres store: ensure schema: %w", err)
		}
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Save(ctx context.Context, rec types.Record) error {
	_, err := p.db.ExecContext(ctx, insertStatement,
		rec.Timestamp.UTC(),
		rec.Source,
		rec.Download,
		rec.Upload,
		rec.Ping,
		nullFloat(rec.Jitter),
		nullFloat(rec.PacketLoss),
		rec.Server,
		rec.ISP,
		rec.Location,
		rec.ASN,
	)
	if err != nil {
		return fmt.Errorf("postgres store: insert: %w", err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context, limit int) ([]types.Record, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = p.db.QueryContext(ctx, selectNewest, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, selectAll)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: query: %w", err)
	}
	defer rows.Close()

	out := make([]types.Record, 0)
	for rows.Next() {
		var (
			rec        types.Record
			recordedAt time.Time
			jitter     sql.NullFloat64
			loss       sql.NullFloat64
		)
		if err := rows.Scan(&recordedAt, &rec.Source, &rec.Download, &rec.Upload, &rec.Ping,
			&jitter, &loss, &rec.Server, &rec.ISP, &rec.Location, &rec.ASN); err != nil {
			return nil, fmt.Errorf("postgres store: scan: %w", err)
		}
		rec.Timestamp = types.Timestamp{Time: recordedAt.Local()}
		if jitter.Valid {
			rec.Jitter = types.Float(jitter.Float64)
		}
		if loss.Valid {
			rec.PacketLoss = types.Float(loss.Float64)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
