package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flashbots/statledger/protocol"
	_ "github.com/lib/pq"
)

// PostgresStore implements EventStore with PostgreSQL persistence. Several
// ledgers may share one table; rows are keyed by ledger identity and sequence.
type PostgresStore struct {
	db     *sql.DB
	ledger string
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore connects to the database and creates the journal table.
func NewPostgresStore(config *PostgresConfig, ledger protocol.Account) (*PostgresStore, error) {
	return OpenPostgresStore(config.ConnectionString(), ledger)
}

// OpenPostgresStore is NewPostgresStore for a ready connection string.
func OpenPostgresStore(dsn string, ledger protocol.Account) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db, ledger: ledger.Hex()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_events (
		ledger VARCHAR(42) NOT NULL,
		seq BIGINT NOT NULL,
		kind VARCHAR(64) NOT NULL,
		payload JSONB NOT NULL,
		emitted_at TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (ledger, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_events_kind ON ledger_events(ledger, kind);

	CREATE TABLE IF NOT EXISTS ledger_checkpoints (
		ledger VARCHAR(42) PRIMARY KEY,
		seq BIGINT NOT NULL,
		state JSONB NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) Append(ev protocol.Event) error {
	payload, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("encoding event %d: %w", ev.Seq, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO ledger_events (ledger, seq, kind, payload, emitted_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (ledger, seq) DO NOTHING
	`, s.ledger, int64(ev.Seq), string(ev.Kind), payload, ev.Timestamp)
	return err
}

func (s *PostgresStore) Events(after uint64, limit int) ([]protocol.Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	query := `SELECT payload FROM ledger_events WHERE ledger = $1 AND seq > $2 ORDER BY seq`
	args := []any{s.ledger, int64(after)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []protocol.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		var ev protocol.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

func (s *PostgresStore) LastSeq() (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM ledger_events WHERE ledger = $1`, s.ledger).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return uint64(seq.Int64), nil
}

func (s *PostgresStore) SaveCheckpoint(cp *protocol.Checkpoint) error {
	state, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO ledger_checkpoints (ledger, seq, state, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (ledger) DO UPDATE SET seq = EXCLUDED.seq, state = EXCLUDED.state, updated_at = NOW()
	`, s.ledger, int64(cp.Seq), state)
	return err
}

func (s *PostgresStore) LoadCheckpoint() (*protocol.Checkpoint, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var state []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM ledger_checkpoints WHERE ledger = $1`, s.ledger).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cp, err := protocol.UnmarshalMessage[protocol.Checkpoint](state)
	if err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return cp, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
