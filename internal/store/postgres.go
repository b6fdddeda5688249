package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"stock_reserve/internal/models"

	"github.com/lib/pq"
)

var (
	ErrDBProductNotFound      = errors.New("database: product not found")
	ErrDBInsufficientStock    = errors.New("database: insufficient stock")
	ErrDBReservationNotFound  = errors.New("database: reservation not found")
	ErrDBReservationNotActive = errors.New("database: reservation not active")
)

type DBStore struct {
	DB *sql.DB
}

func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{DB: db}
}

func ConnectDB(driver, dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func RunMigrations(db *sql.DB, migrationsDir string) error {
	if migrationsDir == "" {
		return fmt.Errorf("migrations directory not specified")
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}
	sort.Strings(migrationFiles)

	for _, fileName := range migrationFiles {
		content, err := os.ReadFile(filepath.Join(migrationsDir, fileName))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", fileName, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", fileName, err)
		}
	}
	return nil
}

func (s *DBStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

func (s *DBStore) UpsertProduct(ctx context.Context, productID string, totalStock int) error {
	query := `
        INSERT INTO products (id, total_stock, created_at, updated_at)
        VALUES ($1, $2, NOW(), NOW())
        ON CONFLICT (id)
        DO UPDATE SET total_stock = $2, updated_at = NOW()`

	if _, err := s.DB.ExecContext(ctx, query, productID, totalStock); err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

func (s *DBStore) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	query := `
        SELECT id, total_stock, created_at, updated_at
        FROM products
        WHERE id = $1`

	product := &models.Product{}
	err := s.DB.QueryRowContext(ctx, query, productID).Scan(
		&product.ID,
		&product.TotalStock,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDBProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

// AvailableStock computes total stock minus the sum of active reservation
// quantities, floored at zero. Read-only; callers that intend to write must
// go through CreateReservation, which repeats this computation under the
// product row lock.
func (s *DBStore) AvailableStock(ctx context.Context, productID string) (int, error) {
	query := `
        SELECT p.total_stock - COALESCE(SUM(r.quantity), 0)
        FROM products p
        LEFT JOIN reservations r
            ON r.product_id = p.id
            AND r.released_at IS NULL
            AND r.expires_at > NOW()
        WHERE p.id = $1
        GROUP BY p.total_stock`

	var available int
	err := s.DB.QueryRowContext(ctx, query, productID).Scan(&available)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrDBProductNotFound
		}
		return 0, fmt.Errorf("failed to compute available stock: %w", err)
	}
	if available < 0 {
		available = 0
	}
	return available, nil
}

// CreateReservation inserts the given reservation as one atomic unit:
// the product row is locked, the holder's previous active reservation for
// the product is released (replace semantics), availability is recomputed
// under the lock, and the insert only happens if the requested quantity
// still fits. The returned slice names the reservations released by the
// replace step so callers can invalidate caches. On ErrDBInsufficientStock
// the returned int carries the availability seen under the lock.
func (s *DBStore) CreateReservation(ctx context.Context, res *models.Reservation) (int, []string, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	available, replaced, err := createReservationInTx(ctx, tx, res)
	if err != nil {
		return available, nil, err
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return available, replaced, nil
}

// createReservationInTx performs the lock/release/check/insert sequence for
// one reservation inside an already-open transaction.
func createReservationInTx(ctx context.Context, tx *sql.Tx, res *models.Reservation) (int, []string, error) {
	var totalStock int
	lockQuery := `SELECT total_stock FROM products WHERE id = $1 FOR UPDATE`
	err := tx.QueryRowContext(ctx, lockQuery, res.ProductID).Scan(&totalStock)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil, ErrDBProductNotFound
		}
		return 0, nil, fmt.Errorf("failed to lock product: %w", err)
	}

	replaced, err := releaseHolderProductInTx(ctx, tx, res.ProductID, res.Holder)
	if err != nil {
		return 0, nil, err
	}

	var reserved int
	sumQuery := `
        SELECT COALESCE(SUM(quantity), 0)
        FROM reservations
        WHERE product_id = $1
          AND released_at IS NULL
          AND expires_at > NOW()`
	if err := tx.QueryRowContext(ctx, sumQuery, res.ProductID).Scan(&reserved); err != nil {
		return 0, nil, fmt.Errorf("failed to sum active reservations: %w", err)
	}

	available := totalStock - reserved
	if available < 0 {
		available = 0
	}
	if res.Quantity > available {
		return available, nil, ErrDBInsufficientStock
	}

	insertQuery := `
        INSERT INTO reservations (id, product_id, quantity, user_id, session_id, kind, created_at, expires_at)
        VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)`
	_, err = tx.ExecContext(ctx, insertQuery,
		res.ID,
		res.ProductID,
		res.Quantity,
		res.Holder.UserID,
		res.Holder.SessionID,
		string(res.Kind),
		res.CreatedAt,
		res.ExpiresAt,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to insert reservation: %w", err)
	}

	return available, replaced, nil
}

// releaseHolderProductInTx releases the holder's active reservation for one
// product (replace semantics) and returns the released ids.
func releaseHolderProductInTx(ctx context.Context, tx *sql.Tx, productID string, holder models.Holder) ([]string, error) {
	releaseQuery := `
        UPDATE reservations
        SET released_at = NOW()
        WHERE product_id = $1
          AND released_at IS NULL
          AND expires_at > NOW()
          AND (user_id = NULLIF($2, '') OR session_id = NULLIF($3, ''))
        RETURNING id`

	rows, err := tx.QueryContext(ctx, releaseQuery, productID, holder.UserID, holder.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to release previous reservation: %w", err)
	}
	defer rows.Close()

	var replaced []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan replaced reservation: %w", err)
		}
		replaced = append(replaced, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replaced reservations: %w", err)
	}
	return replaced, nil
}

// ReleaseReservation marks the reservation released. Idempotent: unknown,
// already-released, and expired ids are all silent no-ops.
func (s *DBStore) ReleaseReservation(ctx context.Context, reservationID string) error {
	query := `
        UPDATE reservations
        SET released_at = NOW()
        WHERE id = $1 AND released_at IS NULL`

	if _, err := s.DB.ExecContext(ctx, query, reservationID); err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	return nil
}

// ReleaseAllForHolder releases every active reservation belonging to the
// holder and returns the released ids. A non-nil kind narrows the release
// to that kind only.
func (s *DBStore) ReleaseAllForHolder(ctx context.Context, holder models.Holder, kind *models.Kind) ([]string, error) {
	kindFilter := ""
	if kind != nil {
		kindFilter = string(*kind)
	}

	query := `
        UPDATE reservations
        SET released_at = NOW()
        WHERE (user_id = NULLIF($1, '') OR session_id = NULLIF($2, ''))
          AND released_at IS NULL
          AND expires_at > NOW()
          AND ($3 = '' OR kind = $3)
        RETURNING id`

	rows, err := s.DB.QueryContext(ctx, query, holder.UserID, holder.SessionID, kindFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to release holder reservations: %w", err)
	}
	defer rows.Close()

	var released []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan released reservation: %w", err)
		}
		released = append(released, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read released reservations: %w", err)
	}
	return released, nil
}

// ConvertToCheckout inserts every reservation in the slice as a single
// all-or-nothing transaction. Product rows are locked in sorted id order so
// two conversions over overlapping carts cannot deadlock. Each item carries
// the same replace semantics as CreateReservation: the holder's existing
// active reservation for the product is released before availability is
// recomputed, so a repeated conversion supersedes its own earlier holds
// instead of stacking on them or colliding with them. On success the
// returned slice names the replaced reservation ids. On failure it returns
// the offending product id and its availability; the transaction is rolled
// back and no release or insert from this call survives.
func (s *DBStore) ConvertToCheckout(ctx context.Context, reservations []*models.Reservation) (string, int, []string, error) {
	if len(reservations) == 0 {
		return "", 0, nil, nil
	}

	productIDs := make([]string, 0, len(reservations))
	for _, res := range reservations {
		productIDs = append(productIDs, res.ProductID)
	}
	sort.Strings(productIDs)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lockQuery := `SELECT id, total_stock FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	rows, err := tx.QueryContext(ctx, lockQuery, pq.Array(productIDs))
	if err != nil {
		return "", 0, nil, fmt.Errorf("failed to lock products: %w", err)
	}
	stocks := make(map[string]int, len(productIDs))
	for rows.Next() {
		var id string
		var total int
		if err := rows.Scan(&id, &total); err != nil {
			rows.Close()
			return "", 0, nil, fmt.Errorf("failed to scan locked product: %w", err)
		}
		stocks[id] = total
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", 0, nil, fmt.Errorf("failed to read locked products: %w", err)
	}

	var replaced []string
	for _, res := range reservations {
		totalStock, ok := stocks[res.ProductID]
		if !ok {
			return res.ProductID, 0, nil, ErrDBProductNotFound
		}

		itemReplaced, err := releaseHolderProductInTx(ctx, tx, res.ProductID, res.Holder)
		if err != nil {
			return "", 0, nil, err
		}
		replaced = append(replaced, itemReplaced...)

		var reserved int
		sumQuery := `
            SELECT COALESCE(SUM(quantity), 0)
            FROM reservations
            WHERE product_id = $1
              AND released_at IS NULL
              AND expires_at > NOW()`
		if err := tx.QueryRowContext(ctx, sumQuery, res.ProductID).Scan(&reserved); err != nil {
			return "", 0, nil, fmt.Errorf("failed to sum active reservations: %w", err)
		}

		available := totalStock - reserved
		if available < 0 {
			available = 0
		}
		if res.Quantity > available {
			return res.ProductID, available, nil, ErrDBInsufficientStock
		}

		insertQuery := `
            INSERT INTO reservations (id, product_id, quantity, user_id, session_id, kind, created_at, expires_at)
            VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)`
		_, err = tx.ExecContext(ctx, insertQuery,
			res.ID,
			res.ProductID,
			res.Quantity,
			res.Holder.UserID,
			res.Holder.SessionID,
			string(res.Kind),
			res.CreatedAt,
			res.ExpiresAt,
		)
		if err != nil {
			return "", 0, nil, fmt.Errorf("failed to insert checkout reservation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", 0, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return "", 0, replaced, nil
}

// SweepExpired marks every expired-but-unreleased reservation as released
// and reports how many rows were reclaimed. Purely housekeeping: the active
// predicate already ignores expired rows, swept or not.
func (s *DBStore) SweepExpired(ctx context.Context) (int, error) {
	query := `
        UPDATE reservations
        SET released_at = NOW()
        WHERE released_at IS NULL AND expires_at <= NOW()`

	result, err := s.DB.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired reservations: %w", err)
	}
	swept, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept reservations: %w", err)
	}
	return int(swept), nil
}

func (s *DBStore) GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	query := `
        SELECT id, product_id, quantity, COALESCE(user_id, ''), COALESCE(session_id, ''), kind, created_at, expires_at, released_at
        FROM reservations
        WHERE id = $1`

	res := &models.Reservation{}
	var kind string
	var releasedAt sql.NullTime
	err := s.DB.QueryRowContext(ctx, query, reservationID).Scan(
		&res.ID,
		&res.ProductID,
		&res.Quantity,
		&res.Holder.UserID,
		&res.Holder.SessionID,
		&kind,
		&res.CreatedAt,
		&res.ExpiresAt,
		&releasedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	res.Kind = models.Kind(kind)
	if releasedAt.Valid {
		t := releasedAt.Time
		res.ReleasedAt = &t
	}
	return res, nil
}

// FinalizeReservation converts an active checkout hold into a permanent
// stock deduction: under one transaction the product row is locked, the
// reservation is re-checked for activity, total_stock is decremented by the
// reserved quantity and the reservation is released. Decrement and release
// happen under the same lock, so availability never dips below zero across
// the handoff.
func (s *DBStore) FinalizeReservation(ctx context.Context, reservationID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var productID string
	peekQuery := `SELECT product_id FROM reservations WHERE id = $1`
	err = tx.QueryRowContext(ctx, peekQuery, reservationID).Scan(&productID)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrDBReservationNotFound
		}
		return fmt.Errorf("failed to look up reservation: %w", err)
	}

	// Lock order must match CreateReservation: product row first, then
	// reservation rows.
	var totalStock int
	lockQuery := `SELECT total_stock FROM products WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, lockQuery, productID).Scan(&totalStock); err != nil {
		return fmt.Errorf("failed to lock product: %w", err)
	}

	var quantity int
	var active bool
	checkQuery := `
        SELECT quantity, (released_at IS NULL AND expires_at > NOW())
        FROM reservations
        WHERE id = $1
        FOR UPDATE`
	if err := tx.QueryRowContext(ctx, checkQuery, reservationID).Scan(&quantity, &active); err != nil {
		return fmt.Errorf("failed to lock reservation: %w", err)
	}
	if !active {
		return ErrDBReservationNotActive
	}

	updateStock := `UPDATE products SET total_stock = total_stock - $1, updated_at = NOW() WHERE id = $2`
	if _, err := tx.ExecContext(ctx, updateStock, quantity, productID); err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	releaseRes := `UPDATE reservations SET released_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, releaseRes, reservationID); err != nil {
		return fmt.Errorf("failed to release finalized reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
