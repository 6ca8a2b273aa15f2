package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"inventory_go/internal/event"
)

// AuditLog is an append-only SQLite log of stock mutations.
type AuditLog struct {
	db *sql.DB
}

// NewAuditLog opens (or creates) the audit database with WAL enabled.
func NewAuditLog(dbPath string) (*AuditLog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	// Appends only; NORMAL sync may lose the last events on power loss.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("audit: %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			product_id TEXT NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_product ON events (product_id, id)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create index: %w", err)
	}

	return &AuditLog{db: db}, nil
}

// SaveEvent appends ev and returns its assigned sequence number.
func (a *AuditLog) SaveEvent(ctx context.Context, ev event.StockEvent) (uint64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("audit: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO events (type, ts, product_id, payload) VALUES (?, ?, ?, ?)",
		int(ev.Type), ev.TsUnixM, ev.ProductID, []byte("{}"),
	)
	if err != nil {
		return 0, fmt.Errorf("audit: append %s: %w", ev.Type, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("audit: sequence: %w", err)
	}

	ev.Seq = uint64(id)
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("audit: encode: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE events SET payload = ? WHERE id = ?", payload, id); err != nil {
		return 0, fmt.Errorf("audit: payload: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("audit: commit: %w", err)
	}
	return ev.Seq, nil
}

// Record implements the engine's audit hook.
func (a *AuditLog) Record(ctx context.Context, ev event.StockEvent) error {
	_, err := a.SaveEvent(ctx, ev)
	return err
}

// GetLastSeq returns the highest sequence number stored.
// Returns 0 if no events exist.
func (a *AuditLog) GetLastSeq(ctx context.Context) (uint64, error) {
	var lastSeq sql.NullInt64
	err := a.db.QueryRowContext(ctx, "SELECT MAX(id) FROM events").Scan(&lastSeq)
	if err != nil {
		return 0, fmt.Errorf("audit: last seq: %w", err)
	}
	if !lastSeq.Valid {
		return 0, nil
	}
	return uint64(lastSeq.Int64), nil
}

// LoadEvents loads events from fromSeq (inclusive). An empty productID
// loads every product.
func (a *AuditLog) LoadEvents(ctx context.Context, productID string, fromSeq uint64) ([]event.StockEvent, error) {
	query := "SELECT id, payload FROM events WHERE id >= ? ORDER BY id ASC"
	args := []any{fromSeq}
	if productID != "" {
		query = "SELECT id, payload FROM events WHERE product_id = ? AND id >= ? ORDER BY id ASC"
		args = []any{productID, fromSeq}
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var events []event.StockEvent
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		var ev event.StockEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("audit: decode event %d: %w", id, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return events, nil
}

func (a *AuditLog) Close() error {
	return a.db.Close()
}
