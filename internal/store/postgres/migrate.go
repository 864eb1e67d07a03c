package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

type migration struct {
	version int
	name    string
	run     func(ctx context.Context, tx *sql.Tx) error
}

// migrations run in order; each executes inside one transaction together
// with its schema_migrations bookkeeping row. Versions already recorded
// are skipped, so startup is safe to repeat.
var migrations = []migration{
	{1, "create_base_tables", migrateCreateBaseTables},
	{2, "add_missing_columns", migrateAddMissingColumns},
	{3, "repair_legacy_sale_items", migrateRepairLegacySaleItems},
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		applied, err := s.migrationApplied(ctx, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := m.run(ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schema_migrations (version, name) VALUES ($1, $2)
		`, m.version, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		log.Printf("[postgres] applied migration %d (%s)", m.version, m.name)
	}

	return nil
}

func (s *Store) migrationApplied(ctx context.Context, version int) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, `
		SELECT version FROM schema_migrations WHERE version = $1
	`, version).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func migrateCreateBaseTables(ctx context.Context, tx *sql.Tx) error {
	// sale_items carries no FK to variants or products: sale history must
	// outlive catalog rows, which cascade-delete their variants.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			cost_cents BIGINT NOT NULL DEFAULT 0,
			price_cents BIGINT NOT NULL DEFAULT 0,
			category TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS variants (
			id BIGSERIAL PRIMARY KEY,
			product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			size TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			stock_qty INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_variants_product ON variants (product_id)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id BIGSERIAL PRIMARY KEY,
			receipt_number TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
			total_cents BIGINT NOT NULL DEFAULT 0,
			payment_method TEXT NOT NULL DEFAULT 'cash'
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_receipt ON sales (lower(receipt_number))`,
		`CREATE TABLE IF NOT EXISTS sale_items (
			id BIGSERIAL PRIMARY KEY,
			sale_id BIGINT NOT NULL REFERENCES sales(id),
			product_id BIGINT NOT NULL,
			variant_id BIGINT NOT NULL,
			qty INTEGER NOT NULL,
			cost_at_sale_cents BIGINT NOT NULL DEFAULT 0,
			price_at_sale_cents BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items (sale_id)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'cashier',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// columnSpec describes a column added after the base schema shipped.
type columnSpec struct {
	name       string
	definition string
}

func migrateAddMissingColumns(ctx context.Context, tx *sql.Tx) error {
	if err := addMissingColumns(ctx, tx, "products", []columnSpec{
		{"tax_rate_percent", "DOUBLE PRECISION NOT NULL DEFAULT 0"},
	}); err != nil {
		return err
	}
	if err := addMissingColumns(ctx, tx, "sales", []columnSpec{
		{"cashier_id", "BIGINT"},
	}); err != nil {
		return err
	}
	return addMissingColumns(ctx, tx, "sale_items", []columnSpec{
		{"discount_cents", "BIGINT NOT NULL DEFAULT 0"},
	})
}

func addMissingColumns(ctx context.Context, tx *sql.Tx, table string, specs []columnSpec) error {
	for _, spec := range specs {
		exists, err := columnExists(ctx, tx, table, spec.name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, spec.name, spec.definition)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
		log.Printf("[postgres] added column %s.%s", table, spec.name)
	}
	return nil
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
	`, table, column).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// migrateRepairLegacySaleItems rebuilds sale_items for databases written by
// builds that used quantity/price column names. Rows are migrated with the
// canonical column taking precedence when both carry data.
func migrateRepairLegacySaleItems(ctx context.Context, tx *sql.Tx) error {
	legacy, err := columnExists(ctx, tx, "sale_items", "quantity")
	if err != nil {
		return err
	}
	if !legacy {
		return nil
	}

	hasQty, err := columnExists(ctx, tx, "sale_items", "qty")
	if err != nil {
		return err
	}
	hasPrice, err := columnExists(ctx, tx, "sale_items", "price_at_sale_cents")
	if err != nil {
		return err
	}

	qtyExpr := "quantity"
	if hasQty {
		qtyExpr = "COALESCE(NULLIF(qty, 0), quantity, 0)"
	}
	priceExpr := "COALESCE(price, 0)"
	if hasPrice {
		priceExpr = "COALESCE(NULLIF(price_at_sale_cents, 0), price, 0)"
	}

	stmts := []string{
		`ALTER TABLE sale_items RENAME TO sale_items_legacy`,
		`CREATE TABLE sale_items (
			id BIGSERIAL PRIMARY KEY,
			sale_id BIGINT NOT NULL REFERENCES sales(id),
			product_id BIGINT NOT NULL,
			variant_id BIGINT NOT NULL,
			qty INTEGER NOT NULL,
			cost_at_sale_cents BIGINT NOT NULL DEFAULT 0,
			price_at_sale_cents BIGINT NOT NULL DEFAULT 0,
			discount_cents BIGINT NOT NULL DEFAULT 0
		)`,
		fmt.Sprintf(`INSERT INTO sale_items (id, sale_id, product_id, variant_id, qty, cost_at_sale_cents, price_at_sale_cents, discount_cents)
			SELECT id, sale_id, product_id, variant_id, %s, COALESCE(cost_at_sale_cents, 0), %s, 0
			FROM sale_items_legacy`, qtyExpr, priceExpr),
		`SELECT setval(pg_get_serial_sequence('sale_items', 'id'), COALESCE((SELECT MAX(id) FROM sale_items), 0) + 1, false)`,
		`DROP TABLE sale_items_legacy`,
		`CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items (sale_id)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	log.Printf("[postgres] repaired legacy sale_items columns")
	return nil
}

// SeedDefaultAdmin inserts the bootstrap admin account when the users table
// is empty. The credential is logged so operators change it immediately.
func (s *Store) SeedDefaultAdmin(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, created_at)
		VALUES ('admin', $1, 'admin', now())
	`, string(hash))
	if err != nil {
		return err
	}
	log.Printf("[postgres] WARN: seeded default admin account admin/admin123, change the password now")
	return nil
}
