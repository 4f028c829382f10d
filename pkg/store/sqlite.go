// Package store persists the engine's observable state to SQLite in
// the audit/replay layout: an append-only campaign table indexed by
// sequential id, a request table keyed by 32-byte hash, and an owner
// table keyed by account. The in-memory structures remain the source
// of truth; the store is a projection fed from event-log handlers so
// an external process can audit or replay decisions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/caldera-labs/tally/pkg/events"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("row not found")

// SQLiteStore projects event-log entries into SQLite tables.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	lastErr error
}

// Open opens (or creates) the store at the given DSN, e.g.
// "file:tally.db" or "file::memory:?cache=shared".
func Open(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", dsn, err)
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing database handle and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS campaigns (
		id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		start_tick INTEGER NOT NULL,
		window INTEGER NOT NULL DEFAULT 0,
		commit_window INTEGER NOT NULL DEFAULT 0,
		reveal_window INTEGER NOT NULL DEFAULT 0,
		ended INTEGER NOT NULL DEFAULT 0,
		result_agreed INTEGER,
		result_value TEXT
	);
	CREATE TABLE IF NOT EXISTS participation (
		campaign_id INTEGER NOT NULL,
		account TEXT NOT NULL,
		phase TEXT NOT NULL,
		weight INTEGER,
		secret INTEGER,
		commitment TEXT,
		tick INTEGER NOT NULL,
		PRIMARY KEY (campaign_id, account, phase)
	);
	CREATE TABLE IF NOT EXISTS requests (
		key TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		campaign_id INTEGER NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		agreed INTEGER
	);
	CREATE TABLE IF NOT EXISTS owners (
		account TEXT PRIMARY KEY,
		level INTEGER NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Attach subscribes the store to an event log. Projection errors are
// retained and readable via Err; they never block the engine.
func (s *SQLiteStore) Attach(log *events.Log) {
	log.RegisterHandler(func(entry *events.Entry) {
		if err := s.Apply(context.Background(), entry); err != nil {
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
		}
	})
}

// Err returns the most recent projection error, if any.
func (s *SQLiteStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Apply projects a single event-log entry into the tables.
func (s *SQLiteStore) Apply(ctx context.Context, entry *events.Entry) error {
	switch entry.Type {
	case events.EventCampaignCreated:
		return s.applyCampaignCreated(ctx, entry)
	case events.EventVoteRecorded:
		return s.applyVote(ctx, entry)
	case events.EventCommitmentRecorded:
		return s.applyCommitment(ctx, entry)
	case events.EventRevealRecorded:
		return s.applyReveal(ctx, entry)
	case events.EventResultComputed:
		return s.applyResult(ctx, entry)
	case events.EventRequestCreated:
		return s.applyRequestCreated(ctx, entry)
	case events.EventRequestResolved:
		return s.applyRequestResolved(ctx, entry)
	case events.EventOwnershipChanged:
		return s.applyOwnershipChanged(ctx, entry)
	default:
		return nil
	}
}

func (s *SQLiteStore) applyCampaignCreated(ctx context.Context, entry *events.Entry) error {
	var p struct {
		CampaignID   uint64 `json:"campaign_id"`
		Kind         string `json:"kind"`
		StartTick    uint64 `json:"start_tick"`
		Window       uint64 `json:"window"`
		CommitWindow uint64 `json:"commit_window"`
		RevealWindow uint64 `json:"reveal_window"`
	}
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("store: decode campaign_created: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, kind, start_tick, window, commit_window, reveal_window)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.CampaignID, p.Kind, p.StartTick, p.Window, p.CommitWindow, p.RevealWindow)
	return err
}

func (s *SQLiteStore) applyVote(ctx context.Context, entry *events.Entry) error {
	var p struct {
		CampaignID uint64 `json:"campaign_id"`
		Account    string `json:"account"`
		Weight     int64  `json:"weight"`
	}
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("store: decode vote_recorded: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participation (campaign_id, account, phase, weight, tick)
		VALUES (?, ?, 'vote', ?, ?)`,
		p.CampaignID, p.Account, p.Weight, entry.Tick)
	return err
}

func (s *SQLiteStore) applyCommitment(ctx context.Context, entry *events.Entry) error {
	var p struct {
		CampaignID uint64 `json:"campaign_id"`
		Account    string `json:"account"`
		Commitment string `json:"commitment"`
	}
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("store: decode commitment_recorded: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participation (campaign_id, account, phase, commitment, tick)
		VALUES (?, ?, 'commit', ?, ?)`,
		p.CampaignID, p.Account, p.Commitment, entry.Tick)
	return err
}

func (s *SQLiteStore) applyReveal(ctx context.Context, entry *events.Entry) error {
	var p struct {
		CampaignID uint64 `json:"campaign_id"`
		Account    string `json:"account"`
		Secret     int64  `json:"secret"`
	}
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("store: decode reveal_recorded: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participation (campaign_id, account, phase, secret, tick)
		VALUES (?, ?, 'reveal', ?, ?)`,
		p.CampaignID, p.Account, p.Secret, entry.Tick)
	return err
}

func (s *SQLiteStore) applyResult(ctx context.Context, entry *events.Entry) error {
	var p struct {
		CampaignID uint64 `json:"campaign_id"`
		Agreed     bool   `json:"agreed"`
		Value      uint64 `json:"value"`
	}
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("store: decode result_computed: %w", err)
	}
	// result_value is stored as text: SQLite integers are signed and
	// the XOR aggregate is a full uint64.
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET ended = 1, result_agreed = ?, result_value = ?
		WHERE id = ?`,
		p.Agreed, strconv.FormatUint(p.Value, 10), p.CampaignID)
	return err
}

func (s *SQLiteStore) applyRequestCreated(ctx context.Context, entry *events.Entry) error {
	var p struct {
		Key        string `json:"key"`
		Name       string `json:"name"`
		CampaignID uint64 `json:"campaign_id"`
	}
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("store: decode request_created: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (key, name, campaign_id) VALUES (?, ?, ?)`,
		p.Key, p.Name, p.CampaignID)
	return err
}

func (s *SQLiteStore) applyRequestResolved(ctx context.Context, entry *events.Entry) error {
	var p struct {
		Key    string `json:"key"`
		Agreed bool   `json:"agreed"`
	}
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("store: decode request_resolved: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET resolved = 1, agreed = ? WHERE key = ?`,
		p.Agreed, p.Key)
	return err
}

func (s *SQLiteStore) applyOwnershipChanged(ctx context.Context, entry *events.Entry) error {
	var p struct {
		Op      string `json:"op"`
		Account string `json:"account"`
		From    string `json:"from"`
		To      string `json:"to"`
		Level   uint64 `json:"level"`
	}
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return fmt.Errorf("store: decode ownership_changed: %w", err)
	}
	switch p.Op {
	case "add", "change_level":
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO owners (account, level) VALUES (?, ?)
			ON CONFLICT(account) DO UPDATE SET level = excluded.level`,
			p.Account, p.Level)
		return err
	case "delete", "renounce":
		_, err := s.db.ExecContext(ctx, `DELETE FROM owners WHERE account = ?`, p.Account)
		return err
	case "transfer":
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM owners WHERE account = ?`, p.From); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO owners (account, level) VALUES (?, ?)
			ON CONFLICT(account) DO UPDATE SET level = excluded.level`,
			p.To, p.Level); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	default:
		return fmt.Errorf("store: unknown ownership op %q", p.Op)
	}
}

// CampaignRow is the persisted view of a campaign.
type CampaignRow struct {
	ID           uint64
	Kind         string
	StartTick    uint64
	Window       uint64
	CommitWindow uint64
	RevealWindow uint64
	Ended        bool
	ResultAgreed sql.NullBool
	ResultValue  string
}

// Campaign reads back a campaign row.
func (s *SQLiteStore) Campaign(ctx context.Context, id uint64) (*CampaignRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, start_tick, window, commit_window, reveal_window, ended, result_agreed, result_value
		FROM campaigns WHERE id = ?`, id)

	var c CampaignRow
	var value sql.NullString
	err := row.Scan(&c.ID, &c.Kind, &c.StartTick, &c.Window, &c.CommitWindow, &c.RevealWindow, &c.Ended, &c.ResultAgreed, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ResultValue = value.String
	return &c, nil
}

// RequestRow is the persisted view of a request.
type RequestRow struct {
	Key        string
	Name       string
	CampaignID uint64
	Resolved   bool
	Agreed     sql.NullBool
}

// Request reads back a request row by hex key.
func (s *SQLiteStore) Request(ctx context.Context, key string) (*RequestRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, name, campaign_id, resolved, agreed FROM requests WHERE key = ?`, key)

	var r RequestRow
	err := row.Scan(&r.Key, &r.Name, &r.CampaignID, &r.Resolved, &r.Agreed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// OwnerLevel reads back an account's persisted level, zero if absent.
func (s *SQLiteStore) OwnerLevel(ctx context.Context, account string) (uint8, error) {
	row := s.db.QueryRowContext(ctx, `SELECT level FROM owners WHERE account = ?`, account)
	var level uint8
	err := row.Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return level, nil
}

// Participation counts recorded participation rows for a campaign.
func (s *SQLiteStore) Participation(ctx context.Context, campaignID uint64) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participation WHERE campaign_id = ?`, campaignID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
