/*
Package sqlite provides a SQLite-backed implementation of billing.Store.

PURPOSE:
  Persists clients, the payment ledger, the tariff document and the
  notification log. Periods and delinquency states are never stored: they
  are derived on every read by the billing package.

INTERFACES IMPLEMENTED:
  billing.ClientStore:     Client records (deactivation only, no hard delete)
  billing.PaymentStore:    Payments with pending -> confirmed/rejected review
  billing.PriceStore:      Tariff JSON (single row)
  billing.NotificationLog: Delivered notices, unique per key

KEY TABLES:
  clients:       One row per parking client
  payments:      Payment ledger; timestamps stored as unix nanoseconds
  price_config:  Tariff document (id = 1)
  notifications: Idempotency log for the delinquency sweep

INDEXES:
  - idx_payments_client_ts: PaymentsByClient (hot path of every evaluation)
  - idx_payments_state:     Pending review queue

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. ":memory:" databases are pinned to a
  single connection so every query sees the same database.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/parking.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/parking-engine/billing"
)

// Store implements billing.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ billing.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		plate TEXT,
		vehicle_type TEXT,
		enrollment_date TEXT,
		cycle_length_days INTEGER NOT NULL DEFAULT 0,
		monthly_price TEXT NOT NULL DEFAULT '0',
		advance_paid_through TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_clients_active
		ON clients(active);

	-- Payments (reviewed rows are never modified again)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id),
		amount TEXT NOT NULL,
		ts_unix_nano INTEGER,
		state TEXT NOT NULL DEFAULT 'pending',
		registered_by TEXT,
		reviewed_by TEXT,
		reviewed_at TEXT,
		note TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_client_ts
		ON payments(client_id, ts_unix_nano);
	CREATE INDEX IF NOT EXISTS idx_payments_state
		ON payments(state);

	CREATE TABLE IF NOT EXISTS price_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		config_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One row per delivered notice: client, oldest due date, state
	CREATE TABLE IF NOT EXISTS notifications (
		key TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		state TEXT NOT NULL,
		due TEXT NOT NULL,
		sent_at TEXT NOT NULL,
		channels TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_client
		ON notifications(client_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CLIENT STORE (billing.ClientStore interface)
// =============================================================================

const clientColumns = `id, name, email, phone, plate, vehicle_type, enrollment_date,
	cycle_length_days, monthly_price, advance_paid_through, active, created_at, updated_at`

// SaveClient inserts a new client.
func (s *Store) SaveClient(ctx context.Context, c billing.Client) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.Name, c.Email, c.Phone, c.Plate, string(c.VehicleType),
		nullDate(c.EnrollmentDate), c.CycleLengthDays, c.MonthlyPrice.String(),
		nullDate(c.AdvancePaidThrough), c.Active, now, now,
	)
	if isUniqueConstraintError(err) {
		return billing.ErrDuplicateClient
	}
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// UpdateClient replaces a client's mutable fields.
func (s *Store) UpdateClient(ctx context.Context, c billing.Client) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var enrollment sql.NullString
	err = tx.QueryRowContext(ctx, "SELECT enrollment_date FROM clients WHERE id = ?", c.ID).Scan(&enrollment)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.ErrClientNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load client: %w", err)
	}

	if enrollment != nullDate(c.EnrollmentDate) {
		var confirmed int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM payments WHERE client_id = ? AND state = ?",
			c.ID, string(billing.PaymentConfirmed),
		).Scan(&confirmed)
		if err != nil {
			return fmt.Errorf("failed to count payments: %w", err)
		}
		if confirmed > 0 {
			return billing.ErrEnrollmentLocked
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE clients SET
			name = ?, email = ?, phone = ?, plate = ?, vehicle_type = ?,
			enrollment_date = ?, cycle_length_days = ?, monthly_price = ?,
			advance_paid_through = ?, active = ?, updated_at = ?
		WHERE id = ?
	`,
		c.Name, c.Email, c.Phone, c.Plate, string(c.VehicleType),
		nullDate(c.EnrollmentDate), c.CycleLengthDays, c.MonthlyPrice.String(),
		nullDate(c.AdvancePaidThrough), c.Active, time.Now().UTC().Format(time.RFC3339),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return tx.Commit()
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, id billing.ClientID) (*billing.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+clientColumns+" FROM clients WHERE id = ?", id)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListClients returns clients ordered by ID.
func (s *Store) ListClients(ctx context.Context, activeOnly bool) ([]billing.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + clientColumns + " FROM clients"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	clients := []billing.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// DeactivateClient marks a client inactive. Payments are kept.
func (s *Store) DeactivateClient(ctx context.Context, id billing.ClientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE clients SET active = 0, updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate client: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrClientNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(row scanner) (billing.Client, error) {
	var (
		c                                billing.Client
		email, phone, plate, vehicleType sql.NullString
		enrollment, paidThrough          sql.NullString
		monthly, createdAt, updatedAt    string
	)
	err := row.Scan(
		&c.ID, &c.Name, &email, &phone, &plate, &vehicleType, &enrollment,
		&c.CycleLengthDays, &monthly, &paidThrough, &c.Active, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan client: %w", err)
	}

	c.Email = email.String
	c.Phone = phone.String
	c.Plate = plate.String
	c.VehicleType = billing.VehicleType(vehicleType.String)
	c.EnrollmentDate = parseNullDate(enrollment)
	c.AdvancePaidThrough = parseNullDate(paidThrough)
	c.MonthlyPrice, err = decimal.NewFromString(monthly)
	if err != nil {
		return c, fmt.Errorf("client %s: invalid monthly_price %q: %w", c.ID, monthly, err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return c, nil
}

// =============================================================================
// PAYMENT STORE (billing.PaymentStore interface)
// =============================================================================

const paymentColumns = `id, client_id, amount, ts_unix_nano, state, registered_by,
	reviewed_by, reviewed_at, note`

// RegisterPayment stores a new pending payment.
func (s *Store) RegisterPayment(ctx context.Context, p billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clients WHERE id = ?", p.ClientID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check client: %w", err)
	}
	if exists == 0 {
		return billing.ErrClientNotFound
	}

	var ts sql.NullInt64
	if !p.Timestamp.IsZero() {
		ts = sql.NullInt64{Int64: p.Timestamp.UnixNano(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, client_id, amount, ts_unix_nano, state, registered_by, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.ClientID, p.Amount.String(), ts, string(billing.PaymentPending),
		nullString(p.RegisteredBy), nullString(p.Note), time.Now().UTC().Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return billing.ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("failed to register payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment by ID.
func (s *Store) GetPayment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPayment(ctx, id)
}

func (s *Store) getPayment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PaymentsByClient returns a client's payments ordered by timestamp.
func (s *Store) PaymentsByClient(ctx context.Context, clientID billing.ClientID) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE client_id = ?
		ORDER BY ts_unix_nano ASC, id ASC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	payments := []billing.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ConfirmPayment moves a pending payment to confirmed.
func (s *Store) ConfirmPayment(ctx context.Context, id billing.PaymentID, reviewer string, at time.Time) (*billing.Payment, error) {
	return s.review(ctx, id, billing.PaymentConfirmed, reviewer, "", at)
}

// RejectPayment moves a pending payment to rejected, keeping the reason as note.
func (s *Store) RejectPayment(ctx context.Context, id billing.PaymentID, reviewer, reason string, at time.Time) (*billing.Payment, error) {
	return s.review(ctx, id, billing.PaymentRejected, reviewer, reason, at)
}

func (s *Store) review(ctx context.Context, id billing.PaymentID, state billing.PaymentState, reviewer, note string, at time.Time) (*billing.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET
			state = ?, reviewed_by = ?, reviewed_at = ?,
			note = CASE WHEN ? = '' THEN note ELSE ? END
		WHERE id = ? AND state = ?
	`,
		string(state), reviewer, at.UTC().Format(time.RFC3339Nano),
		note, note, id, string(billing.PaymentPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to review payment: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		// Either missing or already reviewed
		if _, err := s.getPayment(ctx, id); err != nil {
			return nil, err
		}
		return nil, billing.ErrPaymentNotPending
	}
	return s.getPayment(ctx, id)
}

func scanPayment(row scanner) (billing.Payment, error) {
	var (
		p                                    billing.Payment
		amount, state                        string
		ts                                   sql.NullInt64
		registeredBy, reviewedBy, reviewedAt sql.NullString
		note                                 sql.NullString
	)
	err := row.Scan(&p.ID, &p.ClientID, &amount, &ts, &state, &registeredBy, &reviewedBy, &reviewedAt, &note)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}

	// Unparseable amounts and missing timestamps are left zero; the
	// classifier reports such confirmed payments as malformed.
	p.Amount, _ = decimal.NewFromString(amount)
	if ts.Valid {
		p.Timestamp = time.Unix(0, ts.Int64).UTC()
	}
	p.State = billing.PaymentState(state)
	p.RegisteredBy = registeredBy.String
	p.ReviewedBy = reviewedBy.String
	p.Note = note.String
	if reviewedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, reviewedAt.String)
		p.ReviewedAt = &t
	}
	return p, nil
}

// =============================================================================
// PRICE STORE (billing.PriceStore interface)
// =============================================================================

// SavePriceConfig replaces the tariff document.
func (s *Store) SavePriceConfig(ctx context.Context, configJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_config (id, config_json, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`, configJSON, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save price config: %w", err)
	}
	return nil
}

// GetPriceConfig returns the tariff document, or "" if none was saved.
func (s *Store) GetPriceConfig(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var configJSON string
	err := s.db.QueryRowContext(ctx, "SELECT config_json FROM price_config WHERE id = 1").Scan(&configJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load price config: %w", err)
	}
	return configJSON, nil
}

// =============================================================================
// NOTIFICATION LOG (billing.NotificationLog interface)
// =============================================================================

// WasNotified checks if a notice with this key was already delivered.
func (s *Store) WasNotified(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE key = ?",
		key,
	).Scan(&count)

	return count > 0, err
}

// RecordNotification appends a delivered notice.
func (s *Store) RecordNotification(ctx context.Context, rec billing.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (key, client_id, state, due, sent_at, channels)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rec.Key, rec.ClientID, string(rec.State), billing.FormatDate(rec.Due),
		rec.SentAt.UTC().Format(time.RFC3339), nullString(rec.Channels),
	)
	if isUniqueConstraintError(err) {
		return billing.ErrDuplicateNotification
	}
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: billing.FormatDate(*t), Valid: true}
}

func parseNullDate(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := billing.ParseDate(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}
