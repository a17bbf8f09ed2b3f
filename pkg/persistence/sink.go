package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
)

// OperationRecord is one row of the append-only operation log (spec §6
// "Persistence: appendOperation").
type OperationRecord struct {
	ID        int64     `db:"id" json:"id"`
	AgentID   string    `db:"agent_id" json:"agent_id"`
	Key       string    `db:"key" json:"key"`
	OpType    int       `db:"op_type" json:"op_type"`
	ValueJSON []byte    `db:"value_json" json:"value_json"`
	ClockJSON []byte    `db:"clock_json" json:"clock_json"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Snapshot is a point-in-time dump of one agent's local store, keyed by
// agent so a restarting agent can reload its own last-known state (spec §6
// "Persistence: snapshotStore/loadSnapshot").
type Snapshot struct {
	ID           int64     `db:"id" json:"id"`
	AgentID      string    `db:"agent_id" json:"agent_id"`
	TopologyType string    `db:"topology_type" json:"topology_type"`
	ShardVersion int64     `db:"shard_version" json:"shard_version"`
	VectorClock  []byte    `db:"vector_clock" json:"vector_clock"` // pkg/vclock's binary codec
	EntriesJSON  []byte    `db:"entries_json" json:"entries_json"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Sink is the Postgres-backed PersistenceSink. Every method is safe to call
// on a nil *Sink's caller side only if the caller checks for nil first;
// Sink itself never silently no-ops, since persistence being configured at
// all is the caller's signal that durability is required (spec §6:
// "persistence is optional and pluggable", not "persistence may silently
// fail").
type Sink struct {
	db  *sqlx.DB
	log *slog.Logger
}

// New connects to Postgres and ensures the operation_log/snapshots tables
// exist, following the teacher's NewDatabaseManager bootstrap (DSN
// assembly, pool sizing, PingContext).
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Sink, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, "connect to postgres", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, "ping postgres", err)
	}

	s := &Sink{db: db, log: log}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	log.Info("persistence sink ready", "host", cfg.Host, "db", cfg.Name)
	return s, nil
}

func (s *Sink) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS operation_log (
	id SERIAL PRIMARY KEY,
	agent_id TEXT NOT NULL,
	key TEXT NOT NULL,
	op_type SMALLINT NOT NULL,
	value_json JSONB,
	clock_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS operation_log_agent_idx ON operation_log (agent_id, id);

CREATE TABLE IF NOT EXISTS snapshots (
	id SERIAL PRIMARY KEY,
	agent_id TEXT NOT NULL,
	topology_type TEXT NOT NULL,
	shard_version BIGINT NOT NULL,
	vector_clock BYTEA NOT NULL,
	entries_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS snapshots_agent_idx ON snapshots (agent_id, id DESC);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return a2aerr.Wrap(a2aerr.Internal, "run persistence migrations", err)
	}
	return nil
}

// AppendOperation records one operation in the durable log.
func (s *Sink) AppendOperation(ctx context.Context, agentID, key string, opType int, value, clock any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return a2aerr.Wrap(a2aerr.Internal, "marshal operation value", err)
	}
	clockJSON, err := json.Marshal(clock)
	if err != nil {
		return a2aerr.Wrap(a2aerr.Internal, "marshal operation clock", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO operation_log (agent_id, key, op_type, value_json, clock_json) VALUES ($1, $2, $3, $4, $5)`,
		agentID, key, opType, valueJSON, clockJSON)
	if err != nil {
		return a2aerr.Wrap(a2aerr.Internal, "append operation", err)
	}
	return nil
}

// OperationsSince returns every operation for agentID with id > afterID,
// in log order, for replay after a restart.
func (s *Sink) OperationsSince(ctx context.Context, agentID string, afterID int64) ([]OperationRecord, error) {
	var recs []OperationRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT id, agent_id, key, op_type, value_json, clock_json, created_at FROM operation_log
		 WHERE agent_id = $1 AND id > $2 ORDER BY id ASC`, agentID, afterID)
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.Internal, "load operations since", err)
	}
	return recs, nil
}

// SnapshotStore writes a new snapshot row for agentID.
func (s *Sink) SnapshotStore(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (agent_id, topology_type, shard_version, vector_clock, entries_json)
		 VALUES ($1, $2, $3, $4, $5)`,
		snap.AgentID, snap.TopologyType, snap.ShardVersion, snap.VectorClock, snap.EntriesJSON)
	if err != nil {
		return a2aerr.Wrap(a2aerr.Internal, "store snapshot", err)
	}
	return nil
}

// LoadSnapshot returns the most recent snapshot for agentID, or NotFound
// if none exists.
func (s *Sink) LoadSnapshot(ctx context.Context, agentID string) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.GetContext(ctx, &snap,
		`SELECT id, agent_id, topology_type, shard_version, vector_clock, entries_json, created_at
		 FROM snapshots WHERE agent_id = $1 ORDER BY id DESC LIMIT 1`, agentID)
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.NotFound, "no snapshot for agent "+agentID)
	}
	return &snap, nil
}

// Close releases the underlying connection pool.
func (s *Sink) Close() error {
	return s.db.Close()
}
