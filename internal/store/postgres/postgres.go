package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"clothpos/backend/internal/domain"
	"clothpos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.ProductWithVariants, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, cost_cents, price_cents, tax_rate_percent, COALESCE(category, ''), created_at
		FROM products
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.ProductWithVariants, 0, 128)
	index := make(map[int64]int, 128)
	for rows.Next() {
		var p domain.ProductWithVariants
		if err := rows.Scan(&p.ID, &p.Name, &p.CostCents, &p.PriceCents, &p.TaxRatePercent, &p.Category, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.Variants = make([]domain.Variant, 0, 4)
		index[p.ID] = len(products)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	variantRows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, size, color, stock_qty
		FROM variants
		ORDER BY product_id ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer variantRows.Close()

	for variantRows.Next() {
		var v domain.Variant
		if err := variantRows.Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.StockQty); err != nil {
			return nil, err
		}
		if i, ok := index[v.ProductID]; ok {
			products[i].Variants = append(products[i].Variants, v)
		}
	}
	if err := variantRows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.ProductWithVariants, error) {
	var p domain.ProductWithVariants
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, cost_cents, price_cents, tax_rate_percent, COALESCE(category, ''), created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.CostCents, &p.PriceCents, &p.TaxRatePercent, &p.Category, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, size, color, stock_qty
		FROM variants
		WHERE product_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p.Variants = make([]domain.Variant, 0, 4)
	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.StockQty); err != nil {
			return nil, err
		}
		p.Variants = append(p.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, variants []domain.VariantInput) (*domain.ProductWithVariants, error) {
	if product.Name == "" || product.CostCents < 0 || product.PriceCents < 0 || product.TaxRatePercent < 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var productID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO products (name, cost_cents, price_cents, tax_rate_percent, category, created_at)
		VALUES ($1,$2,$3,$4,$5,now())
		RETURNING id
	`, product.Name, product.CostCents, product.PriceCents, product.TaxRatePercent, nullIfEmpty(product.Category)).Scan(&productID)
	if err != nil {
		return nil, err
	}

	for _, v := range variants {
		if v.StockQty < 0 {
			return nil, store.ErrInvalidInput
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO variants (product_id, size, color, stock_qty)
			VALUES ($1,$2,$3,$4)
		`, productID, v.Size, v.Color, v.StockQty)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetProduct(ctx, productID)
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product, variants []domain.VariantInput) (*domain.ProductWithVariants, error) {
	if product.ID < 1 || product.Name == "" || product.CostCents < 0 || product.PriceCents < 0 || product.TaxRatePercent < 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET name = $2, cost_cents = $3, price_cents = $4, tax_rate_percent = $5, category = $6
		WHERE id = $1
	`, product.ID, product.Name, product.CostCents, product.PriceCents, product.TaxRatePercent, nullIfEmpty(product.Category))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	// Variants carrying an id are updated in place, the rest are inserted.
	// Variants absent from the request are left untouched.
	for _, v := range variants {
		if v.ID > 0 {
			res, err := tx.ExecContext(ctx, `
				UPDATE variants
				SET size = $3, color = $4, stock_qty = $5
				WHERE id = $1 AND product_id = $2
			`, v.ID, product.ID, v.Size, v.Color, v.StockQty)
			if err != nil {
				return nil, err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return nil, err
			}
			if affected == 0 {
				return nil, store.ErrNotFound
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO variants (product_id, size, color, stock_qty)
			VALUES ($1,$2,$3,$4)
		`, product.ID, v.Size, v.Color, v.StockQty)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetProduct(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, variantID int64, delta int) (*domain.Variant, error) {
	var v domain.Variant
	err := s.db.QueryRowContext(ctx, `
		UPDATE variants
		SET stock_qty = stock_qty + $2
		WHERE id = $1
		RETURNING id, product_id, size, color, stock_qty
	`, variantID, delta).Scan(&v.ID, &v.ProductID, &v.Size, &v.Color, &v.StockQty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, items []domain.SaleItemInput, allowNegative bool) (*domain.Sale, error) {
	if sale.ReceiptNumber == "" || len(items) == 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	created := sale
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sales (receipt_number, timestamp, total_cents, payment_method, cashier_id)
		VALUES ($1, now(), $2, $3, $4)
		RETURNING id, timestamp
	`, sale.ReceiptNumber, sale.TotalCents, sale.PaymentMethod, nullInt64(sale.CashierID)).Scan(&created.ID, &created.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrReceiptTaken
		}
		return nil, err
	}
	created.Timestamp = created.Timestamp.UTC()

	for _, item := range items {
		if item.Qty < 1 {
			return nil, store.ErrInvalidInput
		}

		var ownerProductID int64
		err := tx.QueryRowContext(ctx, `
			SELECT product_id FROM variants WHERE id = $1 FOR UPDATE
		`, item.VariantID).Scan(&ownerProductID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("variant %d: %w", item.VariantID, store.ErrNotFound)
			}
			return nil, err
		}
		if ownerProductID != item.ProductID {
			return nil, store.ErrInvalidInput
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, variant_id, qty, cost_at_sale_cents, price_at_sale_cents, discount_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, created.ID, item.ProductID, item.VariantID, item.Qty, item.CostAtSaleCents, item.PriceAtSaleCents, item.DiscountCents)
		if err != nil {
			return nil, err
		}

		if allowNegative {
			_, err = tx.ExecContext(ctx, `
				UPDATE variants SET stock_qty = stock_qty - $2 WHERE id = $1
			`, item.VariantID, item.Qty)
			if err != nil {
				return nil, err
			}
			continue
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE variants SET stock_qty = stock_qty - $2 WHERE id = $1 AND stock_qty >= $2
		`, item.VariantID, item.Qty)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrInsufficientStock
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &created, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, receipt_number, timestamp, total_cents, payment_method, cashier_id
		FROM sales
		ORDER BY timestamp DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var cashierID sql.NullInt64
		if err := rows.Scan(&sale.ID, &sale.ReceiptNumber, &sale.Timestamp, &sale.TotalCents, &sale.PaymentMethod, &cashierID); err != nil {
			return nil, err
		}
		sale.Timestamp = sale.Timestamp.UTC()
		if cashierID.Valid {
			id := cashierID.Int64
			sale.CashierID = &id
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	var cashierID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, receipt_number, timestamp, total_cents, payment_method, cashier_id
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.ReceiptNumber, &sale.Timestamp, &sale.TotalCents, &sale.PaymentMethod, &cashierID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.Timestamp = sale.Timestamp.UTC()
	if cashierID.Valid {
		cid := cashierID.Int64
		sale.CashierID = &cid
	}
	return &sale, nil
}

func (s *Store) GetSaleItems(ctx context.Context, saleID int64) ([]domain.SaleDetailItem, error) {
	if _, err := s.GetSale(ctx, saleID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT si.id, si.sale_id, si.product_id, si.variant_id, si.qty,
		       si.cost_at_sale_cents, si.price_at_sale_cents, si.discount_cents,
		       COALESCE(p.name, ''), COALESCE(v.size, ''), COALESCE(v.color, '')
		FROM sale_items si
		LEFT JOIN products p ON p.id = si.product_id
		LEFT JOIN variants v ON v.id = si.variant_id
		WHERE si.sale_id = $1
		ORDER BY si.id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleDetailItem, 0, 8)
	for rows.Next() {
		var item domain.SaleDetailItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.VariantID, &item.Qty,
			&item.CostAtSaleCents, &item.PriceAtSaleCents, &item.DiscountCents,
			&item.ProductName, &item.Size, &item.Color); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ProfitReport(ctx context.Context, start, end string) ([]domain.CategoryProfit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(p.category, ''), 'Uncategorized') AS category,
		       SUM(si.qty * (si.price_at_sale_cents - si.cost_at_sale_cents)) AS profit_cents,
		       SUM(si.qty * si.price_at_sale_cents) AS revenue_cents
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		JOIN products p ON p.id = si.product_id
		WHERE s.timestamp >= $1::date
		  AND s.timestamp < ($2::date + INTERVAL '1 day')
		GROUP BY 1
		ORDER BY profit_cents DESC
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := make([]domain.CategoryProfit, 0, 16)
	for rows.Next() {
		var row domain.CategoryProfit
		if err := rows.Scan(&row.Category, &row.ProfitCents, &row.RevenueCents); err != nil {
			return nil, err
		}
		report = append(report, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Store) SalesTrend(ctx context.Context, start, end string) ([]domain.DailyRevenue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(timestamp::date, 'YYYY-MM-DD') AS day,
		       SUM(total_cents) AS revenue_cents
		FROM sales
		WHERE timestamp >= $1::date
		  AND timestamp < ($2::date + INTERVAL '1 day')
		GROUP BY 1
		ORDER BY 1 ASC
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trend := make([]domain.DailyRevenue, 0, 31)
	for rows.Next() {
		var row domain.DailyRevenue
		if err := rows.Scan(&row.Date, &row.RevenueCents); err != nil {
			return nil, err
		}
		trend = append(trend, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trend, nil
}

func (s *Store) ListSettings(ctx context.Context) ([]domain.Setting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM settings ORDER BY key ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make([]domain.Setting, 0, 16)
	for rows.Next() {
		var setting domain.Setting
		if err := rows.Scan(&setting.Key, &setting.Value); err != nil {
			return nil, err
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (*domain.Setting, error) {
	var setting domain.Setting
	err := s.db.QueryRowContext(ctx, `
		SELECT key, value FROM settings WHERE key = $1
	`, key).Scan(&setting.Key, &setting.Value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &setting, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, role, created_at
		FROM users
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Role, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE lower(username) = lower($1)
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.User, error) {
	if user.Username == "" || user.PasswordHash == "" || user.Role == "" {
		return nil, store.ErrInvalidInput
	}

	created := domain.User{Username: user.Username, Role: user.Role}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, role, created_at)
		VALUES ($1,$2,$3,now())
		RETURNING id, created_at
	`, user.Username, user.PasswordHash, user.Role).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrUsernameTaken
		}
		return nil, err
	}
	created.CreatedAt = created.CreatedAt.UTC()
	return &created, nil
}

func (s *Store) UpdateUser(ctx context.Context, id int64, username, role string) (*domain.User, error) {
	if username == "" || role == "" {
		return nil, store.ErrInvalidInput
	}

	var updated domain.User
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET username = $2, role = $3
		WHERE id = $1
		RETURNING id, username, role, created_at
	`, id, username, role).Scan(&updated.ID, &updated.Username, &updated.Role, &updated.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrUsernameTaken
		}
		return nil, err
	}
	updated.CreatedAt = updated.CreatedAt.UTC()
	return &updated, nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var role string
	err = tx.QueryRowContext(ctx, `
		SELECT role FROM users WHERE id = $1 FOR UPDATE
	`, id).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	if role == domain.RoleAdmin {
		var adminCount int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM users WHERE role = $1
		`, domain.RoleAdmin).Scan(&adminCount); err != nil {
			return err
		}
		if adminCount <= 1 {
			return store.ErrLastAdmin
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	if passwordHash == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
