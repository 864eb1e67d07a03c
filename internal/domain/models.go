package domain

import "time"

type Product struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	CostCents      int64     `json:"cost_cents"`
	PriceCents     int64     `json:"price_cents"`
	TaxRatePercent float64   `json:"tax_rate_percent"`
	Category       string    `json:"category,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Variant struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	StockQty  int    `json:"stock_qty"`
}

type ProductWithVariants struct {
	Product
	Variants []Variant `json:"variants"`
}

type VariantInput struct {
	ID       int64  `json:"id,omitempty"`
	Size     string `json:"size"`
	Color    string `json:"color"`
	StockQty int    `json:"stock_qty"`
}

type ProductCreateRequest struct {
	Name           string         `json:"name"`
	CostCents      int64          `json:"cost_cents"`
	PriceCents     int64          `json:"price_cents"`
	TaxRatePercent float64        `json:"tax_rate_percent"`
	Category       string         `json:"category"`
	Variants       []VariantInput `json:"variants"`
}

type ProductUpdateRequest struct {
	Name           string         `json:"name"`
	CostCents      int64          `json:"cost_cents"`
	PriceCents     int64          `json:"price_cents"`
	TaxRatePercent float64        `json:"tax_rate_percent"`
	Category       string         `json:"category"`
	Variants       []VariantInput `json:"variants"`
}

type StockAdjustRequest struct {
	Delta int `json:"delta"`
}

type Sale struct {
	ID            int64     `json:"id"`
	ReceiptNumber string    `json:"receipt_number"`
	Timestamp     time.Time `json:"timestamp"`
	TotalCents    int64     `json:"total_cents"`
	PaymentMethod string    `json:"payment_method"`
	CashierID     *int64    `json:"cashier_id,omitempty"`
}

type SaleItem struct {
	ID               int64 `json:"id"`
	SaleID           int64 `json:"sale_id"`
	ProductID        int64 `json:"product_id"`
	VariantID        int64 `json:"variant_id"`
	Qty              int   `json:"qty"`
	CostAtSaleCents  int64 `json:"cost_at_sale_cents"`
	PriceAtSaleCents int64 `json:"price_at_sale_cents"`
	DiscountCents    int64 `json:"discount_cents"`
}

// SaleDetailItem joins a sale line with its catalog labels for receipts
// and the sale-details view. Product fields are empty when the product
// has since been deleted.
type SaleDetailItem struct {
	SaleItem
	ProductName string `json:"product_name,omitempty"`
	Size        string `json:"size,omitempty"`
	Color       string `json:"color,omitempty"`
}

type SaleItemInput struct {
	ProductID        int64 `json:"product_id"`
	VariantID        int64 `json:"variant_id"`
	Qty              int   `json:"qty"`
	CostAtSaleCents  int64 `json:"cost_at_sale_cents"`
	PriceAtSaleCents int64 `json:"price_at_sale_cents"`
	DiscountCents    int64 `json:"discount_cents"`
}

type SaleRequest struct {
	TotalCents    int64           `json:"total_cents"`
	PaymentMethod string          `json:"payment_method"`
	CashierID     *int64          `json:"cashier_id,omitempty"`
	Items         []SaleItemInput `json:"items"`
}

type SaleResponse struct {
	SaleID        int64  `json:"sale_id"`
	ReceiptNumber string `json:"receipt_number"`
	TotalCents    int64  `json:"total_cents"`
	Timestamp     string `json:"timestamp"`
}

type CategoryProfit struct {
	Category     string `json:"category"`
	ProfitCents  int64  `json:"profit_cents"`
	RevenueCents int64  `json:"revenue_cents"`
}

type DailyRevenue struct {
	Date         string `json:"date"`
	RevenueCents int64  `json:"revenue_cents"`
}

type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is the internal persistence model carrying the bcrypt hash.
// It never crosses the HTTP boundary.
type UserAccount struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserUpdateRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type PasswordChangeRequest struct {
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	UserID      int64  `json:"user_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID   int64
	Username string
	Role     string
}

type ReceiptRequest struct {
	Print bool `json:"print"`
}

type ReceiptResponse struct {
	SaleID       int64  `json:"sale_id"`
	PreviewText  string `json:"preview_text"`
	EscposBase64 string `json:"escpos_base64"`
	FileName     string `json:"file_name"`
	Printed      bool   `json:"printed"`
}

const (
	PaymentMethodCash   = "cash"
	PaymentMethodMobile = "mobile"
	PaymentMethodCard   = "card"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// Stock policies for sales against insufficient stock.
const (
	StockPolicyReject        = "reject"
	StockPolicyAllowNegative = "allow_negative"
)

func ValidPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodCash, PaymentMethodMobile, PaymentMethodCard:
		return true
	}
	return false
}

func ValidRole(r string) bool {
	return r == RoleAdmin || r == RoleCashier
}
