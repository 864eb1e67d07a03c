package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"clothpos/backend/internal/cache"
	"clothpos/backend/internal/domain"
	"clothpos/backend/internal/receipt"
	"clothpos/backend/internal/receiptno"
	"clothpos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const receiptRetryLimit = 5

type Service struct {
	repo        store.Repository
	reports     cache.ReportCache
	printer     receipt.Printer
	stockPolicy string
	reportTTL   time.Duration
}

func New(repo store.Repository, reports cache.ReportCache, printer receipt.Printer, stockPolicy string, reportTTL time.Duration) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if printer == nil {
		printer = receipt.LogPrinter{}
	}
	if stockPolicy != domain.StockPolicyAllowNegative {
		stockPolicy = domain.StockPolicyReject
	}
	if reportTTL <= 0 {
		reportTTL = 15 * time.Second
	}

	return &Service{
		repo:        repo,
		reports:     reports,
		printer:     printer,
		stockPolicy: stockPolicy,
		reportTTL:   reportTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.ProductWithVariants, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.ProductWithVariants, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.ProductWithVariants{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" {
		return domain.ProductWithVariants{}, store.ErrInvalidInput
	}
	if req.CostCents < 0 || req.PriceCents < 0 || req.TaxRatePercent < 0 {
		return domain.ProductWithVariants{}, store.ErrInvalidInput
	}
	for _, v := range req.Variants {
		if v.StockQty < 0 {
			return domain.ProductWithVariants{}, store.ErrInvalidInput
		}
	}

	product := domain.Product{
		Name:           req.Name,
		CostCents:      req.CostCents,
		PriceCents:     req.PriceCents,
		TaxRatePercent: req.TaxRatePercent,
		Category:       req.Category,
	}
	created, err := s.repo.CreateProduct(ctx, product, req.Variants)
	if err != nil {
		return domain.ProductWithVariants{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.ProductWithVariants, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.ProductWithVariants{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if id < 1 || req.Name == "" {
		return domain.ProductWithVariants{}, store.ErrInvalidInput
	}
	if req.CostCents < 0 || req.PriceCents < 0 || req.TaxRatePercent < 0 {
		return domain.ProductWithVariants{}, store.ErrInvalidInput
	}

	product := domain.Product{
		ID:             id,
		Name:           req.Name,
		CostCents:      req.CostCents,
		PriceCents:     req.PriceCents,
		TaxRatePercent: req.TaxRatePercent,
		Category:       req.Category,
	}
	updated, err := s.repo.UpdateProduct(ctx, product, req.Variants)
	if err != nil {
		return domain.ProductWithVariants{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}
	if id < 1 {
		return store.ErrInvalidInput
	}
	return s.repo.DeleteProduct(ctx, id)
}

func (s *Service) AdjustStock(ctx context.Context, variantID int64, delta int) (domain.Variant, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Variant{}, fmt.Errorf("admin role required")
	}
	if variantID < 1 || delta == 0 {
		return domain.Variant{}, store.ErrInvalidInput
	}

	adjusted, err := s.repo.AdjustStock(ctx, variantID, delta)
	if err != nil {
		return domain.Variant{}, err
	}
	if adjusted.StockQty < 0 {
		log.Printf("[service] WARN: stock for variant %d is negative (%d) after manual adjustment", adjusted.ID, adjusted.StockQty)
	}
	return *adjusted, nil
}

// ProcessSale validates the request, recomputes the total from the line
// snapshots, and writes the sale atomically. The receipt number is
// regenerated on collision up to receiptRetryLimit attempts.
func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleResponse{}, fmt.Errorf("authentication required")
	}

	if len(req.Items) == 0 {
		return domain.SaleResponse{}, fmt.Errorf("empty item list: %w", store.ErrInvalidInput)
	}
	if !domain.ValidPaymentMethod(req.PaymentMethod) {
		return domain.SaleResponse{}, fmt.Errorf("payment method %q: %w", req.PaymentMethod, store.ErrInvalidInput)
	}

	items := make([]domain.SaleItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Qty < 1 || item.ProductID < 1 || item.VariantID < 1 {
			return domain.SaleResponse{}, fmt.Errorf("bad sale line: %w", store.ErrInvalidInput)
		}
		if item.PriceAtSaleCents == 0 && item.CostAtSaleCents == 0 {
			// Caller did not snapshot prices; take them from the catalog.
			product, err := s.repo.GetProduct(ctx, item.ProductID)
			if err != nil {
				return domain.SaleResponse{}, err
			}
			item.PriceAtSaleCents = product.PriceCents
			item.CostAtSaleCents = product.CostCents
		}
		if item.PriceAtSaleCents < 0 || item.CostAtSaleCents < 0 || item.DiscountCents < 0 {
			return domain.SaleResponse{}, store.ErrInvalidInput
		}
		items = append(items, item)
	}

	var total int64
	for _, item := range items {
		total += int64(item.Qty) * item.PriceAtSaleCents
	}
	if req.TotalCents != 0 && req.TotalCents != total {
		return domain.SaleResponse{}, fmt.Errorf("total %d does not match line items %d: %w", req.TotalCents, total, store.ErrInvalidInput)
	}

	cashierID := req.CashierID
	if cashierID == nil && actor.UserID > 0 {
		id := actor.UserID
		cashierID = &id
	}

	allowNegative := s.stockPolicy == domain.StockPolicyAllowNegative
	var created *domain.Sale
	for attempt := 0; attempt < receiptRetryLimit; attempt++ {
		sale := domain.Sale{
			ReceiptNumber: receiptno.New(),
			TotalCents:    total,
			PaymentMethod: req.PaymentMethod,
			CashierID:     cashierID,
		}
		var err error
		created, err = s.repo.CreateSale(ctx, sale, items, allowNegative)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrReceiptTaken) {
			log.Printf("[service] WARN: receipt number %s collided, retrying", sale.ReceiptNumber)
			created = nil
			continue
		}
		return domain.SaleResponse{}, err
	}
	if created == nil {
		return domain.SaleResponse{}, fmt.Errorf("could not allocate a unique receipt number after %d attempts", receiptRetryLimit)
	}

	if allowNegative {
		s.warnNegativeStock(ctx, items)
	}

	return domain.SaleResponse{
		SaleID:        created.ID,
		ReceiptNumber: created.ReceiptNumber,
		TotalCents:    created.TotalCents,
		Timestamp:     created.Timestamp.Format(time.RFC3339),
	}, nil
}

func (s *Service) warnNegativeStock(ctx context.Context, items []domain.SaleItemInput) {
	for _, item := range items {
		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			continue
		}
		for _, v := range product.Variants {
			if v.ID == item.VariantID && v.StockQty < 0 {
				log.Printf("[service] WARN: variant %d (%s %s/%s) oversold, stock is %d", v.ID, product.Name, v.Size, v.Color, v.StockQty)
			}
		}
	}
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return nil, fmt.Errorf("authentication required")
	}
	return s.repo.ListSales(ctx, limit)
}

func (s *Service) GetSaleDetails(ctx context.Context, saleID int64) (domain.Sale, []domain.SaleDetailItem, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.Sale{}, nil, fmt.Errorf("authentication required")
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, nil, err
	}
	items, err := s.repo.GetSaleItems(ctx, saleID)
	if err != nil {
		return domain.Sale{}, nil, err
	}
	return *sale, items, nil
}

func (s *Service) ProfitReport(ctx context.Context, start, end string) ([]domain.CategoryProfit, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	start, end, err := normalizeRange(start, end)
	if err != nil {
		return nil, err
	}

	cacheKey := "report:profit:" + start + ":" + end
	if payload, found, err := s.reports.Get(ctx, cacheKey); err == nil && found {
		var cached []domain.CategoryProfit
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	}

	report, err := s.repo.ProfitReport(ctx, start, end)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(report); err == nil {
		if err := s.reports.Set(ctx, cacheKey, payload, s.reportTTL); err != nil {
			log.Printf("[service] WARN: failed to cache profit report: %v", err)
		}
	}
	return report, nil
}

func (s *Service) SalesTrend(ctx context.Context, start, end string) ([]domain.DailyRevenue, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	start, end, err := normalizeRange(start, end)
	if err != nil {
		return nil, err
	}

	cacheKey := "report:trend:" + start + ":" + end
	if payload, found, err := s.reports.Get(ctx, cacheKey); err == nil && found {
		var cached []domain.DailyRevenue
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	}

	trend, err := s.repo.SalesTrend(ctx, start, end)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(trend); err == nil {
		if err := s.reports.Set(ctx, cacheKey, payload, s.reportTTL); err != nil {
			log.Printf("[service] WARN: failed to cache sales trend: %v", err)
		}
	}
	return trend, nil
}

// normalizeRange validates ISO dates and defaults to the trailing 30 days.
func normalizeRange(start, end string) (string, string, error) {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if start == "" && end == "" {
		now := time.Now().UTC()
		return now.AddDate(0, 0, -29).Format("2006-01-02"), now.Format("2006-01-02"), nil
	}
	from, err := time.Parse("2006-01-02", start)
	if err != nil {
		return "", "", fmt.Errorf("start date %q: %w", start, store.ErrInvalidInput)
	}
	to, err := time.Parse("2006-01-02", end)
	if err != nil {
		return "", "", fmt.Errorf("end date %q: %w", end, store.ErrInvalidInput)
	}
	if to.Before(from) {
		return "", "", fmt.Errorf("end date before start date: %w", store.ErrInvalidInput)
	}
	return start, end, nil
}

func (s *Service) ListSettings(ctx context.Context) ([]domain.Setting, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return nil, fmt.Errorf("authentication required")
	}
	return s.repo.ListSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, settings map[string]string) ([]domain.Setting, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	if len(settings) == 0 {
		return nil, store.ErrInvalidInput
	}

	for key, value := range settings {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, store.ErrInvalidInput
		}
		if err := s.repo.SetSetting(ctx, key, value); err != nil {
			return nil, err
		}
	}
	return s.repo.ListSettings(ctx)
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.User{}, fmt.Errorf("admin role required")
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if req.Username == "" || strings.TrimSpace(req.Password) == "" {
		return domain.User{}, store.ErrInvalidInput
	}
	if req.Role == "" {
		req.Role = domain.RoleCashier
	}
	if !domain.ValidRole(req.Role) {
		return domain.User{}, fmt.Errorf("role %q: %w", req.Role, store.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	created, err := s.repo.CreateUser(ctx, domain.UserAccount{
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         req.Role,
	})
	if err != nil {
		return domain.User{}, err
	}
	return *created, nil
}

func (s *Service) UpdateUser(ctx context.Context, id int64, req domain.UserUpdateRequest) (domain.User, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.User{}, fmt.Errorf("admin role required")
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if id < 1 || req.Username == "" || !domain.ValidRole(req.Role) {
		return domain.User{}, store.ErrInvalidInput
	}

	updated, err := s.repo.UpdateUser(ctx, id, req.Username, req.Role)
	if err != nil {
		return domain.User{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}
	if id < 1 {
		return store.ErrInvalidInput
	}
	return s.repo.DeleteUser(ctx, id)
}

func (s *Service) ChangePassword(ctx context.Context, id int64, password string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin && actor.UserID != id {
		return fmt.Errorf("admin role required")
	}
	if id < 1 || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.UpdateUserPassword(ctx, id, string(hash))
}

// ValidateUser checks credentials for login. It returns nil without error
// on a bad username or password so callers cannot distinguish the two.
func (s *Service) ValidateUser(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return nil, nil
	}

	account, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, nil
	}
	return &domain.User{ID: account.ID, Username: account.Username, Role: account.Role, CreatedAt: account.CreatedAt}, nil
}

// BuildReceipt renders the receipt document for a finalized sale and
// optionally sends it to the printer. Printing happens after the sale is
// committed; a printer failure is reported but never unwinds the sale.
func (s *Service) BuildReceipt(ctx context.Context, saleID int64, print bool) (domain.ReceiptResponse, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.ReceiptResponse{}, fmt.Errorf("authentication required")
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	items, err := s.repo.GetSaleItems(ctx, saleID)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	settings, err := s.repo.ListSettings(ctx)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	doc := receipt.Render(*sale, items, receipt.StoreInfoFromSettings(settings))

	printed := false
	if print {
		if err := s.printer.Print(doc); err != nil {
			log.Printf("[service] WARN: receipt print failed for sale %d: %v", saleID, err)
		} else {
			printed = true
		}
	}

	return domain.ReceiptResponse{
		SaleID:       sale.ID,
		PreviewText:  doc.PreviewText,
		EscposBase64: base64.StdEncoding.EncodeToString(doc.Escpos),
		FileName:     doc.FileName,
		Printed:      printed,
	}, nil
}
