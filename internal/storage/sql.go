package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"inventory_go/internal/domain"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect selects placeholder style and connection tuning.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// SQLStore keeps stock, reservations and alerts in relational tables.
// Stock swaps are guarded by the version column; commits that touch two
// tables run in one transaction.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// Verify interface compliance
var _ Store = (*SQLStore)(nil)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS stock (
		product_id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		reserved_quantity BIGINT NOT NULL,
		low_stock_threshold BIGINT NOT NULL,
		pool_type TEXT NOT NULL,
		countries TEXT NOT NULL,
		updated_at BIGINT NOT NULL,
		version BIGINT NOT NULL,
		CHECK (reserved_quantity >= 0 AND reserved_quantity <= quantity)
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		cart_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_expires_at ON reservations (expires_at)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		product_id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		version BIGINT NOT NULL,
		active BIGINT NOT NULL,
		available_quantity BIGINT NOT NULL,
		threshold BIGINT NOT NULL,
		alerted_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_seller ON alerts (seller_id, active)`,
}

// OpenSQLite opens (or creates) a SQLite database file with WAL enabled.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection: pragmas stick, and writers queue in-process instead
	// of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	return newSQLStore(db, DialectSQLite)
}

// OpenPostgres connects through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return newSQLStore(db, DialectPostgres)
}

func newSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate %s schema: %w", dialect, err)
		}
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const stockColumns = "product_id, seller_id, quantity, reserved_quantity, low_stock_threshold, pool_type, countries, updated_at, version"

func (s *SQLStore) GetStock(ctx context.Context, productID string) (*domain.StockRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+stockColumns+" FROM stock WHERE product_id = ?"), productID)

	var rec domain.StockRecord
	var pool, countries string
	var updatedAt int64
	err := row.Scan(&rec.ProductID, &rec.SellerID, &rec.Quantity, &rec.ReservedQuantity,
		&rec.LowStockThreshold, &pool, &countries, &updatedAt, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stock %s: %w", productID, err)
	}

	rec.PoolType = domain.PoolType(pool)
	rec.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	if err := json.Unmarshal([]byte(countries), &rec.Countries); err != nil {
		return nil, fmt.Errorf("failed to decode countries of %s: %w", productID, err)
	}
	return &rec, nil
}

// swapStock writes rec at version rec.Version+1 if the row still holds
// rec.Version. It does not touch rec; callers bump after commit.
func (s *SQLStore) swapStock(ctx context.Context, q execer, rec *domain.StockRecord) error {
	if err := rec.CheckInvariant(); err != nil {
		return err
	}
	countries, err := json.Marshal(rec.Countries)
	if err != nil {
		return fmt.Errorf("failed to encode countries: %w", err)
	}
	if rec.Countries == nil {
		countries = []byte("[]")
	}

	var res sql.Result
	if rec.Version == 0 {
		res, err = q.ExecContext(ctx, s.rebind(
			"INSERT INTO stock ("+stockColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (product_id) DO NOTHING"),
			rec.ProductID, rec.SellerID, rec.Quantity, rec.ReservedQuantity, rec.LowStockThreshold,
			string(rec.PoolType), string(countries), rec.UpdatedAt.UnixMicro(), int64(1),
		)
	} else {
		res, err = q.ExecContext(ctx, s.rebind(
			`UPDATE stock SET seller_id = ?, quantity = ?, reserved_quantity = ?, low_stock_threshold = ?,
				pool_type = ?, countries = ?, updated_at = ?, version = ?
			WHERE product_id = ? AND version = ?`),
			rec.SellerID, rec.Quantity, rec.ReservedQuantity, rec.LowStockThreshold,
			string(rec.PoolType), string(countries), rec.UpdatedAt.UnixMicro(), rec.Version+1,
			rec.ProductID, rec.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to write stock %s: %w", rec.ProductID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *SQLStore) SaveStock(ctx context.Context, rec *domain.StockRecord) error {
	if err := s.swapStock(ctx, s.db, rec); err != nil {
		return err
	}
	rec.Version++
	return nil
}

func (s *SQLStore) CommitReservation(ctx context.Context, rec *domain.StockRecord, res *domain.Reservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.swapStock(ctx, tx, rec); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(
		"INSERT INTO reservations (id, product_id, quantity, cart_id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?)"),
		res.ID, res.ProductID, res.Quantity, res.CartID, res.UserID,
		res.CreatedAt.UnixMicro(), res.ExpiresAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation %s: %w", res.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reservation %s: %w", res.ID, err)
	}
	rec.Version++
	return nil
}

func (s *SQLStore) CommitRelease(ctx context.Context, rec *domain.StockRecord, reservationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	out, err := tx.ExecContext(ctx, s.rebind("DELETE FROM reservations WHERE id = ?"), reservationID)
	if err != nil {
		return fmt.Errorf("failed to delete reservation %s: %w", reservationID, err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if rec != nil {
		if err := s.swapStock(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit release %s: %w", reservationID, err)
	}
	if rec != nil {
		rec.Version++
	}
	return nil
}

const reservationColumns = "id, product_id, quantity, cart_id, user_id, created_at, expires_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	var res domain.Reservation
	var createdAt, expiresAt int64
	if err := row.Scan(&res.ID, &res.ProductID, &res.Quantity, &res.CartID, &res.UserID, &createdAt, &expiresAt); err != nil {
		return nil, err
	}
	res.CreatedAt = time.UnixMicro(createdAt).UTC()
	res.ExpiresAt = time.UnixMicro(expiresAt).UTC()
	return &res, nil
}

func (s *SQLStore) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+reservationColumns+" FROM reservations WHERE id = ?"), id)
	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation %s: %w", id, err)
	}
	return res, nil
}

func (s *SQLStore) DueReservations(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT "+reservationColumns+" FROM reservations WHERE expires_at <= ? ORDER BY expires_at ASC LIMIT ?"),
		now.UnixMicro(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due reservations: %w", err)
	}
	defer rows.Close()

	var due []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		due = append(due, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return due, nil
}

func (s *SQLStore) ApplyAlert(ctx context.Context, productID, sellerID string, version int64, alert *domain.LowStockAlert) (bool, error) {
	var active, available, threshold, alertedAt int64
	if alert != nil {
		active = 1
		available = alert.AvailableQuantity
		threshold = alert.Threshold
		alertedAt = alert.AlertedAt.UnixMicro()
	}

	out, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO alerts (product_id, seller_id, version, active, available_quantity, threshold, alerted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (product_id) DO UPDATE SET
			seller_id = excluded.seller_id,
			version = excluded.version,
			active = excluded.active,
			available_quantity = excluded.available_quantity,
			threshold = excluded.threshold,
			alerted_at = excluded.alerted_at
		WHERE alerts.version <= excluded.version`),
		productID, sellerID, version, active, available, threshold, alertedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply alert %s: %w", productID, err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

const alertColumns = "product_id, seller_id, available_quantity, threshold, alerted_at"

func scanAlert(row rowScanner) (*domain.LowStockAlert, error) {
	var a domain.LowStockAlert
	var alertedAt int64
	if err := row.Scan(&a.ProductID, &a.SellerID, &a.AvailableQuantity, &a.Threshold, &alertedAt); err != nil {
		return nil, err
	}
	a.AlertedAt = time.UnixMicro(alertedAt).UTC()
	return &a, nil
}

func (s *SQLStore) GetAlert(ctx context.Context, productID string) (*domain.LowStockAlert, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+alertColumns+" FROM alerts WHERE product_id = ? AND active = 1"), productID)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert %s: %w", productID, err)
	}
	return a, nil
}

func (s *SQLStore) ListAlerts(ctx context.Context, sellerID string) ([]*domain.LowStockAlert, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT "+alertColumns+" FROM alerts WHERE seller_id = ? AND active = 1 ORDER BY product_id"), sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*domain.LowStockAlert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return alerts, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
