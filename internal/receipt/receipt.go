// Package receipt renders finalized sales into printable documents: a
// plain-text preview plus raw ESC/POS bytes for thermal printers. The
// renderer works on value snapshots only; it never touches the database.
package receipt

import (
	"fmt"
	"strings"

	"clothpos/backend/internal/domain"
)

const lineWidth = 32

// StoreInfo carries the settings-driven header and footer fields.
type StoreInfo struct {
	Name     string
	Address  string
	Phone    string
	Currency string
	Footer   string
}

// StoreInfoFromSettings maps the well-known setting keys, falling back to
// printable defaults for any missing entry.
func StoreInfoFromSettings(settings []domain.Setting) StoreInfo {
	info := StoreInfo{Name: "Clothing Store", Currency: "$", Footer: "Thank you!"}
	for _, s := range settings {
		switch s.Key {
		case "store_name":
			if s.Value != "" {
				info.Name = s.Value
			}
		case "store_address":
			info.Address = s.Value
		case "store_phone":
			info.Phone = s.Value
		case "currency":
			if s.Value != "" {
				info.Currency = s.Value
			}
		case "receipt_footer":
			if s.Value != "" {
				info.Footer = s.Value
			}
		}
	}
	return info
}

// Document is a rendered receipt ready for preview or printing.
type Document struct {
	PreviewText string
	Escpos      []byte
	FileName    string
}

func Render(sale domain.Sale, items []domain.SaleDetailItem, info StoreInfo) Document {
	lines := []string{
		center(info.Name),
	}
	if info.Address != "" {
		lines = append(lines, center(info.Address))
	}
	if info.Phone != "" {
		lines = append(lines, center(info.Phone))
	}
	lines = append(lines,
		strings.Repeat("=", lineWidth),
		"Receipt: "+sale.ReceiptNumber,
		"Date: "+sale.Timestamp.Format("2006-01-02 15:04:05"),
		"Payment: "+sale.PaymentMethod,
		strings.Repeat("-", lineWidth),
	)

	for _, item := range items {
		name := item.ProductName
		if name == "" {
			name = fmt.Sprintf("Item #%d", item.ProductID)
		}
		label := name
		if item.Size != "" || item.Color != "" {
			label = fmt.Sprintf("%s (%s/%s)", name, item.Size, item.Color)
		}
		lines = append(lines, label)
		lines = append(lines, fmt.Sprintf("  %d x %s = %s",
			item.Qty,
			money(info.Currency, item.PriceAtSaleCents),
			money(info.Currency, int64(item.Qty)*item.PriceAtSaleCents)))
	}

	lines = append(lines,
		strings.Repeat("-", lineWidth),
		fmt.Sprintf("TOTAL: %s", money(info.Currency, sale.TotalCents)),
		strings.Repeat("=", lineWidth),
		center(info.Footer),
		"",
	)

	// ESC/POS: initialize, text body, partial cut.
	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return Document{
		PreviewText: strings.Join(lines, "\n"),
		Escpos:      escpos,
		FileName:    fmt.Sprintf("receipt-%s.bin", strings.ToLower(sale.ReceiptNumber)),
	}
}

func money(currency string, cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%s%d.%02d", sign, currency, cents/100, cents%100)
}

func center(text string) string {
	if len(text) >= lineWidth {
		return text
	}
	pad := (lineWidth - len(text)) / 2
	return strings.Repeat(" ", pad) + text
}
