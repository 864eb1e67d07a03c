package store

import (
	"context"
	"errors"

	"clothpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUsernameTaken     = errors.New("username already exists")
	ErrLastAdmin         = errors.New("cannot delete the last admin user")
	ErrReceiptTaken      = errors.New("receipt number already exists")
)

// Repository is the persistence contract shared by the Postgres store and
// the in-memory store. Multi-row operations are atomic: either every row
// lands or none do.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.ProductWithVariants, error)
	GetProduct(ctx context.Context, id int64) (*domain.ProductWithVariants, error)
	CreateProduct(ctx context.Context, product domain.Product, variants []domain.VariantInput) (*domain.ProductWithVariants, error)
	// UpdateProduct updates the product row and upserts the given variants:
	// inputs carrying an id update that variant in place, inputs without an
	// id insert a new one. Variants omitted from the call are left alone.
	UpdateProduct(ctx context.Context, product domain.Product, variants []domain.VariantInput) (*domain.ProductWithVariants, error)
	DeleteProduct(ctx context.Context, id int64) error
	AdjustStock(ctx context.Context, variantID int64, delta int) (*domain.Variant, error)

	// CreateSale persists the sale header, its items, and the per-variant
	// stock decrements in one transaction. Under the reject policy an item
	// that would drive stock negative fails the whole sale with
	// ErrInsufficientStock. A receipt-number collision returns
	// ErrReceiptTaken so the caller can retry with a fresh number.
	CreateSale(ctx context.Context, sale domain.Sale, items []domain.SaleItemInput, allowNegative bool) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	GetSaleItems(ctx context.Context, saleID int64) ([]domain.SaleDetailItem, error)

	ProfitReport(ctx context.Context, start, end string) ([]domain.CategoryProfit, error)
	SalesTrend(ctx context.Context, start, end string) ([]domain.DailyRevenue, error)

	ListSettings(ctx context.Context) ([]domain.Setting, error)
	GetSetting(ctx context.Context, key string) (*domain.Setting, error)
	SetSetting(ctx context.Context, key, value string) error

	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.User, error)
	UpdateUser(ctx context.Context, id int64, username, role string) (*domain.User, error)
	// DeleteUser refuses to remove the last remaining admin; the guard and
	// the delete run in the same transaction.
	DeleteUser(ctx context.Context, id int64) error
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error
}
