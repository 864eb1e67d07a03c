package receipt

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Printer delivers a rendered document to printing hardware. The sale
// processor treats it as fire-and-forget: print failures never roll back
// a committed sale.
type Printer interface {
	Print(doc Document) error
}

// SpoolPrinter writes ESC/POS payloads into a spool directory picked up by
// a local printer bridge.
type SpoolPrinter struct {
	Dir string
}

func (p SpoolPrinter) Print(doc Document) error {
	if p.Dir == "" {
		return fmt.Errorf("spool directory not configured")
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.Dir, doc.FileName), doc.Escpos, 0o644)
}

// LogPrinter logs instead of printing; the dev-mode default.
type LogPrinter struct{}

func (LogPrinter) Print(doc Document) error {
	log.Printf("[printer] would print %s (%d bytes)", doc.FileName, len(doc.Escpos))
	return nil
}
