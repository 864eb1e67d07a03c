package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"clothpos/backend/internal/domain"
	"clothpos/backend/internal/store"
)

func integrationDatabaseURL(t *testing.T) string {
	t.Helper()
	databaseURL := os.Getenv("CLOTHPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CLOTHPOS_TEST_DATABASE_URL to run postgres integration tests")
	}
	return databaseURL
}

// Integration test against a real database. Points at a throwaway
// schema: it runs the migrations and writes live rows.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	databaseURL := integrationDatabaseURL(t)
	ctx := context.Background()

	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	// Running twice proves the versioned migrations are idempotent.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	return s
}

func TestSaleFlowAgainstPostgres(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, domain.Product{
		Name:       "Integration Tee",
		CostCents:  400,
		PriceCents: 1100,
		Category:   "Tops",
	}, []domain.VariantInput{{Size: "M", Color: "Black", StockQty: 5}})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE product_id = $1`, created.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE receipt_number LIKE 'INV-IT%'`)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, created.ID)
	})
	variant := created.Variants[0]

	sale, err := s.CreateSale(ctx, domain.Sale{
		ReceiptNumber: "INV-IT0001",
		TotalCents:    2200,
		PaymentMethod: domain.PaymentMethodCash,
	}, []domain.SaleItemInput{
		{ProductID: created.ID, VariantID: variant.ID, Qty: 2, CostAtSaleCents: 400, PriceAtSaleCents: 1100},
	}, false)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.ID == 0 || sale.Timestamp.IsZero() {
		t.Fatalf("sale not fully persisted: %+v", sale)
	}

	refreshed, err := s.GetProduct(ctx, created.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if refreshed.Variants[0].StockQty != 3 {
		t.Fatalf("expected stock 3 after sale, got %d", refreshed.Variants[0].StockQty)
	}

	// Receipt numbers are unique, case-insensitively.
	_, err = s.CreateSale(ctx, domain.Sale{
		ReceiptNumber: "inv-it0001",
		TotalCents:    1100,
		PaymentMethod: domain.PaymentMethodCash,
	}, []domain.SaleItemInput{
		{ProductID: created.ID, VariantID: variant.ID, Qty: 1, CostAtSaleCents: 400, PriceAtSaleCents: 1100},
	}, false)
	if !errors.Is(err, store.ErrReceiptTaken) {
		t.Fatalf("expected ErrReceiptTaken, got %v", err)
	}

	// Overselling rolls everything back.
	_, err = s.CreateSale(ctx, domain.Sale{
		ReceiptNumber: "INV-IT0002",
		TotalCents:    99 * 1100,
		PaymentMethod: domain.PaymentMethodCash,
	}, []domain.SaleItemInput{
		{ProductID: created.ID, VariantID: variant.ID, Qty: 99, CostAtSaleCents: 400, PriceAtSaleCents: 1100},
	}, false)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	refreshed, err = s.GetProduct(ctx, created.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if refreshed.Variants[0].StockQty != 3 {
		t.Fatalf("stock changed by a rejected sale: %d", refreshed.Variants[0].StockQty)
	}

	items, err := s.GetSaleItems(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale items: %v", err)
	}
	if len(items) != 1 || items[0].ProductName != "Integration Tee" {
		t.Fatalf("unexpected sale items: %+v", items)
	}
}
