// Package audit loads a journaled run into a SQLite database for ad-hoc
// SQL querying, analogous to original_source's tools/audit_bundle.py.
// Schema/migration shape (CREATE TABLE IF NOT EXISTS on every open, WAL
// pragma; no schema_version table) is grounded on stadam23-Eve-flipper's
// internal/db/db.go.
package audit

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"sublimine-ids/internal/journal"
	"sublimine-ids/pkg/types"
)

// DB wraps a SQLite database holding one ingested run's journal.
type DB struct {
	sql *sql.DB
}

// Open creates (or reopens) the SQLite database at path and runs
// migrations. path may be ":memory:" for a scratch query session.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.sql.Close() }

// Conn exposes the raw *sql.DB for running ad-hoc queries.
func (d *DB) Conn() *sql.DB { return d.sql }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			event_name   TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			venue        TEXT NOT NULL,
			ts           TEXT NOT NULL,
			score        REAL NOT NULL,
			actionable   INTEGER NOT NULL,
			reason_codes TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trade_intents (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			intent_id    TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			direction    TEXT NOT NULL,
			score        REAL NOT NULL,
			risk_frac    REAL NOT NULL,
			ts           TEXT NOT NULL,
			reason_codes TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS fills (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			symbol   TEXT NOT NULL,
			side     TEXT NOT NULL,
			price    REAL NOT NULL,
			size     REAL NOT NULL,
			ts       TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS data_quality (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol        TEXT NOT NULL,
			ts            TEXT NOT NULL,
			queue_depth   INTEGER NOT NULL,
			mid_diff_bps  REAL NOT NULL,
			score         REAL NOT NULL,
			reason_codes  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS engine_state (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			ts      TEXT NOT NULL,
			"from"  TEXT NOT NULL,
			"to"    TEXT NOT NULL,
			reasons TEXT NOT NULL
		);
	`)
	return err
}

// Ingest replays path through journal.Replay and inserts every typed
// record this schema tracks (raw book/feature/trade records are
// intentionally not persisted — they dwarf a run's signal/decision
// trail and add nothing queryable at the audit layer).
func (d *DB) Ingest(path string) (int, error) {
	events, err := journal.Replay(path)
	if err != nil {
		return 0, fmt.Errorf("replay journal: %w", err)
	}

	tx, err := d.sql.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback()

	count := 0
	for _, evt := range events {
		var insertErr error
		switch payload := evt.Payload.(type) {
		case *types.SignalEvent:
			insertErr = insertSignal(tx, *payload)
		case *types.TradeIntent:
			insertErr = insertIntent(tx, *payload)
		case *types.OrderFill:
			insertErr = insertFill(tx, *payload)
		case *types.DataQualitySnapshot:
			insertErr = insertDataQuality(tx, *payload)
		case *types.EngineStateEvent:
			insertErr = insertEngineState(tx, *payload)
		default:
			continue
		}
		if insertErr != nil {
			return count, fmt.Errorf("ingest %s record: %w", evt.EventType, insertErr)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return count, fmt.Errorf("commit ingest tx: %w", err)
	}
	return count, nil
}

func insertSignal(tx *sql.Tx, s types.SignalEvent) error {
	actionable := 0
	if s.Actionable() {
		actionable = 1
	}
	_, err := tx.Exec(
		`INSERT INTO signals (event_name, symbol, venue, ts, score, actionable, reason_codes) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.EventName, s.Symbol, string(s.Venue), s.Timestamp.Format(timeLayout), s.Score, actionable, joinCodes(s.ReasonCodes),
	)
	return err
}

func insertIntent(tx *sql.Tx, t types.TradeIntent) error {
	_, err := tx.Exec(
		`INSERT INTO trade_intents (intent_id, symbol, direction, score, risk_frac, ts, reason_codes) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, string(t.Direction), t.Score, t.RiskFrac, t.Timestamp.Format(timeLayout), joinCodes(t.ReasonCodes),
	)
	return err
}

func insertFill(tx *sql.Tx, f types.OrderFill) error {
	_, err := tx.Exec(
		`INSERT INTO fills (order_id, symbol, side, price, size, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.Symbol, string(f.Side), f.Price, f.Size, f.Ts.Format(timeLayout),
	)
	return err
}

func insertDataQuality(tx *sql.Tx, q types.DataQualitySnapshot) error {
	_, err := tx.Exec(
		`INSERT INTO data_quality (symbol, ts, queue_depth, mid_diff_bps, score, reason_codes) VALUES (?, ?, ?, ?, ?, ?)`,
		q.Symbol, q.Timestamp.Format(timeLayout), q.QueueDepth, q.MidDiffBps, q.Score, joinCodes(q.ReasonCodes),
	)
	return err
}

func insertEngineState(tx *sql.Tx, e types.EngineStateEvent) error {
	_, err := tx.Exec(
		`INSERT INTO engine_state (ts, "from", "to", reasons) VALUES (?, ?, ?, ?)`,
		e.Timestamp.Format(timeLayout), string(e.From), string(e.To), joinCodes(e.Reasons),
	)
	return err
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func joinCodes(codes []string) string {
	out := ""
	for i, c := range codes {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}
