package analytics

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
)

var exportHeader = []string{"Date", "Description", "Amount", "Balance", "Category", "Merchant", "Source File", "Imported At"}

// WriteCSV writes transactions in the order given, one row each.
func WriteCSV(out io.Writer, txs []*domain.CanonicalTransaction) error {
	writer := csv.NewWriter(out)

	if err := writer.Write(exportHeader); err != nil {
		return fmt.Errorf("WriteCSV: header: %w", err)
	}
	for _, tx := range txs {
		balance := ""
		if tx.Balance != nil {
			balance = tx.Balance.StringFixed(2)
		}
		row := []string{
			tx.Date.String(),
			tx.Description,
			tx.Amount.StringFixed(2),
			balance,
			tx.Category,
			tx.MerchantName(),
			tx.SourceFile,
			tx.ImportedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("WriteCSV: row %s: %w", tx.ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
