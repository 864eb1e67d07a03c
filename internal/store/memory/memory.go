package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"clothpos/backend/internal/domain"
	"clothpos/backend/internal/store"
)

// Store is the in-memory Repository used for dev mode and tests. Writes
// that span several records are staged on scratch copies and applied only
// once every step succeeds, matching the transactional contract of the
// Postgres store.
type Store struct {
	mu        sync.RWMutex
	products  map[int64]domain.Product
	variants  map[int64]domain.Variant
	sales     map[int64]domain.Sale
	saleItems map[int64][]domain.SaleItem
	settings  map[string]string
	users     map[int64]domain.UserAccount

	nextProductID  int64
	nextVariantID  int64
	nextSaleID     int64
	nextSaleItemID int64
	nextUserID     int64

	// failSaleAfterItems injects a write failure once that many sale items
	// have been staged. Zero disables the fault.
	failSaleAfterItems int
}

func New() *Store {
	return &Store{
		products:  make(map[int64]domain.Product),
		variants:  make(map[int64]domain.Variant),
		sales:     make(map[int64]domain.Sale),
		saleItems: make(map[int64][]domain.SaleItem),
		settings:  make(map[string]string),
		users:     make(map[int64]domain.UserAccount),
	}
}

// FailSaleAfterItems arms the injected fault used by atomicity tests.
func (s *Store) FailSaleAfterItems(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaleAfterItems = n
}

func NewSeeded() *Store {
	s := New()
	ctx := context.Background()

	seed := []struct {
		product  domain.Product
		variants []domain.VariantInput
	}{
		{
			domain.Product{Name: "Classic Tee", CostCents: 450, PriceCents: 1299, Category: "Tops"},
			[]domain.VariantInput{
				{Size: "S", Color: "Black", StockQty: 30},
				{Size: "M", Color: "Black", StockQty: 40},
				{Size: "L", Color: "White", StockQty: 25},
			},
		},
		{
			domain.Product{Name: "Slim Jeans", CostCents: 1500, PriceCents: 4999, Category: "Bottoms"},
			[]domain.VariantInput{
				{Size: "30", Color: "Indigo", StockQty: 20},
				{Size: "32", Color: "Indigo", StockQty: 22},
				{Size: "34", Color: "Black", StockQty: 14},
			},
		},
		{
			domain.Product{Name: "Puffer Jacket", CostCents: 3200, PriceCents: 8999, Category: "Outerwear"},
			[]domain.VariantInput{
				{Size: "M", Color: "Navy", StockQty: 10},
				{Size: "L", Color: "Olive", StockQty: 8},
			},
		},
		{
			domain.Product{Name: "Wool Beanie", CostCents: 300, PriceCents: 999, Category: "Accessories"},
			[]domain.VariantInput{
				{Size: "One Size", Color: "Grey", StockQty: 50},
			},
		},
	}
	for _, entry := range seed {
		if _, err := s.CreateProduct(ctx, entry.product, entry.variants); err != nil {
			log.Fatalf("[memory-store] seed product %q: %v", entry.product.Name, err)
		}
	}

	settings := []domain.Setting{
		{Key: "store_name", Value: "Thread & Needle"},
		{Key: "store_address", Value: "12 Market Lane"},
		{Key: "store_phone", Value: "555-0132"},
		{Key: "currency", Value: "$"},
		{Key: "receipt_footer", Value: "Thank you for shopping with us!"},
	}
	for _, setting := range settings {
		if err := s.SetSetting(ctx, setting.Key, setting.Value); err != nil {
			log.Fatalf("[memory-store] seed setting %q: %v", setting.Key, err)
		}
	}

	for _, user := range seedUsers() {
		if _, err := s.CreateUser(ctx, user); err != nil {
			log.Fatalf("[memory-store] seed user %q: %v", user.Username, err)
		}
	}

	return s
}

// seedUsers builds the initial dev/demo accounts. Credentials come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; hardcoded dev defaults
// are used with a warning when unset. Production runs use PostgreSQL and
// the seeded admin there instead.
func seedUsers() []domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	users := make([]domain.UserAccount, 0, 2)
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users = append(users, domain.UserAccount{
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context) ([]domain.ProductWithVariants, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.ProductWithVariants, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, domain.ProductWithVariants{Product: p, Variants: s.variantsOfLocked(p.ID)})
	}
	slices.SortFunc(products, func(a, b domain.ProductWithVariants) int {
		return int(a.ID - b.ID)
	})
	return products, nil
}

func (s *Store) variantsOfLocked(productID int64) []domain.Variant {
	variants := make([]domain.Variant, 0, 4)
	for _, v := range s.variants {
		if v.ProductID == productID {
			variants = append(variants, v)
		}
	}
	slices.SortFunc(variants, func(a, b domain.Variant) int {
		return int(a.ID - b.ID)
	})
	return variants
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.ProductWithVariants, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	result := domain.ProductWithVariants{Product: p, Variants: s.variantsOfLocked(id)}
	return &result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, variants []domain.VariantInput) (*domain.ProductWithVariants, error) {
	if product.Name == "" || product.CostCents < 0 || product.PriceCents < 0 || product.TaxRatePercent < 0 {
		return nil, store.ErrInvalidInput
	}
	for _, v := range variants {
		if v.StockQty < 0 {
			return nil, store.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProductID++
	product.ID = s.nextProductID
	product.CreatedAt = time.Now().UTC()
	s.products[product.ID] = product

	created := domain.ProductWithVariants{Product: product, Variants: make([]domain.Variant, 0, len(variants))}
	for _, v := range variants {
		s.nextVariantID++
		variant := domain.Variant{
			ID:        s.nextVariantID,
			ProductID: product.ID,
			Size:      v.Size,
			Color:     v.Color,
			StockQty:  v.StockQty,
		}
		s.variants[variant.ID] = variant
		created.Variants = append(created.Variants, variant)
	}
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product, variants []domain.VariantInput) (*domain.ProductWithVariants, error) {
	if product.ID < 1 || product.Name == "" || product.CostCents < 0 || product.PriceCents < 0 || product.TaxRatePercent < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}

	// Stage variant writes first so an unknown variant id leaves nothing
	// half-applied. Variants absent from the request are left untouched.
	staged := make([]domain.Variant, 0, len(variants))
	for _, v := range variants {
		if v.ID > 0 {
			current, ok := s.variants[v.ID]
			if !ok || current.ProductID != product.ID {
				return nil, store.ErrNotFound
			}
			current.Size = v.Size
			current.Color = v.Color
			current.StockQty = v.StockQty
			staged = append(staged, current)
			continue
		}
		staged = append(staged, domain.Variant{ProductID: product.ID, Size: v.Size, Color: v.Color, StockQty: v.StockQty})
	}

	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = product
	for _, v := range staged {
		if v.ID == 0 {
			s.nextVariantID++
			v.ID = s.nextVariantID
		}
		s.variants[v.ID] = v
	}

	result := domain.ProductWithVariants{Product: product, Variants: s.variantsOfLocked(product.ID)}
	return &result, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	for variantID, v := range s.variants {
		if v.ProductID == id {
			delete(s.variants, variantID)
		}
	}
	// Sale history keeps its product/variant references.
	return nil
}

func (s *Store) AdjustStock(_ context.Context, variantID int64, delta int) (*domain.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.variants[variantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	v.StockQty += delta
	s.variants[variantID] = v
	return &v, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale, items []domain.SaleItemInput, allowNegative bool) (*domain.Sale, error) {
	if sale.ReceiptNumber == "" || len(items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sales {
		if strings.EqualFold(existing.ReceiptNumber, sale.ReceiptNumber) {
			return nil, store.ErrReceiptTaken
		}
	}

	// Stage every write, then apply. The injected fault fires between
	// staging steps so a failure mid-sale must leave the store untouched.
	stockDeltas := make(map[int64]int, len(items))
	stagedItems := make([]domain.SaleItem, 0, len(items))
	for i, item := range items {
		if item.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		v, ok := s.variants[item.VariantID]
		if !ok {
			return nil, fmt.Errorf("variant %d: %w", item.VariantID, store.ErrNotFound)
		}
		if v.ProductID != item.ProductID {
			return nil, store.ErrInvalidInput
		}
		if !allowNegative && v.StockQty+stockDeltas[item.VariantID]-item.Qty < 0 {
			return nil, store.ErrInsufficientStock
		}
		stockDeltas[item.VariantID] -= item.Qty
		stagedItems = append(stagedItems, domain.SaleItem{
			ProductID:        item.ProductID,
			VariantID:        item.VariantID,
			Qty:              item.Qty,
			CostAtSaleCents:  item.CostAtSaleCents,
			PriceAtSaleCents: item.PriceAtSaleCents,
			DiscountCents:    item.DiscountCents,
		})
		if s.failSaleAfterItems > 0 && i+1 >= s.failSaleAfterItems {
			return nil, fmt.Errorf("injected write failure after %d items", i+1)
		}
	}

	s.nextSaleID++
	created := sale
	created.ID = s.nextSaleID
	created.Timestamp = time.Now().UTC()
	s.sales[created.ID] = created

	persisted := make([]domain.SaleItem, 0, len(stagedItems))
	for _, item := range stagedItems {
		s.nextSaleItemID++
		item.ID = s.nextSaleItemID
		item.SaleID = created.ID
		persisted = append(persisted, item)
	}
	s.saleItems[created.ID] = persisted

	for variantID, delta := range stockDeltas {
		v := s.variants[variantID]
		v.StockQty += delta
		s.variants[variantID] = v
	}

	return &created, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 || limit > 1000 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		sales = append(sales, sale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.Timestamp.Equal(b.Timestamp) {
			return int(b.ID - a.ID)
		}
		if a.Timestamp.After(b.Timestamp) {
			return -1
		}
		return 1
	})
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) GetSaleItems(_ context.Context, saleID int64) ([]domain.SaleDetailItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sales[saleID]; !ok {
		return nil, store.ErrNotFound
	}

	items := make([]domain.SaleDetailItem, 0, len(s.saleItems[saleID]))
	for _, item := range s.saleItems[saleID] {
		detail := domain.SaleDetailItem{SaleItem: item}
		if p, ok := s.products[item.ProductID]; ok {
			detail.ProductName = p.Name
		}
		if v, ok := s.variants[item.VariantID]; ok {
			detail.Size = v.Size
			detail.Color = v.Color
		}
		items = append(items, detail)
	}
	return items, nil
}

func (s *Store) ProfitReport(_ context.Context, start, end string) ([]domain.CategoryProfit, error) {
	from, to, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	byCategory := make(map[string]*domain.CategoryProfit)
	for _, sale := range s.sales {
		if sale.Timestamp.Before(from) || !sale.Timestamp.Before(to) {
			continue
		}
		for _, item := range s.saleItems[sale.ID] {
			p, ok := s.products[item.ProductID]
			if !ok {
				continue
			}
			category := p.Category
			if category == "" {
				category = "Uncategorized"
			}
			row, ok := byCategory[category]
			if !ok {
				row = &domain.CategoryProfit{Category: category}
				byCategory[category] = row
			}
			row.ProfitCents += int64(item.Qty) * (item.PriceAtSaleCents - item.CostAtSaleCents)
			row.RevenueCents += int64(item.Qty) * item.PriceAtSaleCents
		}
	}

	report := make([]domain.CategoryProfit, 0, len(byCategory))
	for _, row := range byCategory {
		report = append(report, *row)
	}
	slices.SortFunc(report, func(a, b domain.CategoryProfit) int {
		if a.ProfitCents == b.ProfitCents {
			return cmpString(a.Category, b.Category)
		}
		if a.ProfitCents > b.ProfitCents {
			return -1
		}
		return 1
	})
	return report, nil
}

func (s *Store) SalesTrend(_ context.Context, start, end string) ([]domain.DailyRevenue, error) {
	from, to, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	byDay := make(map[string]int64)
	for _, sale := range s.sales {
		if sale.Timestamp.Before(from) || !sale.Timestamp.Before(to) {
			continue
		}
		byDay[sale.Timestamp.UTC().Format("2006-01-02")] += sale.TotalCents
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	trend := make([]domain.DailyRevenue, 0, len(days))
	for _, day := range days {
		trend = append(trend, domain.DailyRevenue{Date: day, RevenueCents: byDay[day]})
	}
	return trend, nil
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation("2006-01-02", start, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start date: %w", store.ErrInvalidInput)
	}
	to, err := time.ParseInLocation("2006-01-02", end, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end date: %w", store.ErrInvalidInput)
	}
	return from, to.Add(24 * time.Hour), nil
}

func (s *Store) ListSettings(_ context.Context) ([]domain.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.settings))
	for key := range s.settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	settings := make([]domain.Setting, 0, len(keys))
	for _, key := range keys {
		settings = append(settings, domain.Setting{Key: key, Value: s.settings[key]})
	}
	return settings, nil
}

func (s *Store) GetSetting(_ context.Context, key string) (*domain.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.settings[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &domain.Setting{Key: key, Value: value}, nil
}

func (s *Store) SetSetting(_ context.Context, key, value string) error {
	if key == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, domain.User{ID: u.ID, Username: u.Username, Role: u.Role, CreatedAt: u.CreatedAt})
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return int(a.ID - b.ID)
	})
	return users, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			account := u
			return &account, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.User, error) {
	if user.Username == "" || user.PasswordHash == "" || user.Role == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, user.Username) {
			return nil, store.ErrUsernameTaken
		}
	}

	s.nextUserID++
	user.ID = s.nextUserID
	user.CreatedAt = time.Now().UTC()
	s.users[user.ID] = user
	return &domain.User{ID: user.ID, Username: user.Username, Role: user.Role, CreatedAt: user.CreatedAt}, nil
}

func (s *Store) UpdateUser(_ context.Context, id int64, username, role string) (*domain.User, error) {
	if username == "" || role == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.users {
		if existing.ID != id && strings.EqualFold(existing.Username, username) {
			return nil, store.ErrUsernameTaken
		}
	}

	user.Username = username
	user.Role = role
	s.users[id] = user
	return &domain.User{ID: user.ID, Username: user.Username, Role: user.Role, CreatedAt: user.CreatedAt}, nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	if user.Role == domain.RoleAdmin {
		admins := 0
		for _, u := range s.users {
			if u.Role == domain.RoleAdmin {
				admins++
			}
		}
		if admins <= 1 {
			return store.ErrLastAdmin
		}
	}
	delete(s.users, id)
	return nil
}

func (s *Store) UpdateUserPassword(_ context.Context, id int64, passwordHash string) error {
	if passwordHash == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	s.users[id] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
