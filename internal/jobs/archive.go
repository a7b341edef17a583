package jobs

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// exportColumns is the CSV header row
var exportColumns = []string{
	"ID",
	"Date",
	"Description",
	"Additional info",
	"Amount",
	"Currency",
	"Formatted amount",
	"Tax type",
	"Tax rate",
	"Tax amount",
	"From / To",
	"Category",
	"Category description",
	"Status",
	"Attachments",
	"Balance",
	"Account",
	"Note",
	"Tags",
}

// formatRows renders transactions with locale-aware numbers and currencies
func formatRows(txs []Transaction, locale, layout string) ([][]string, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
	}
	if layout == "" {
		layout = DefaultDateLayout
	}
	p := message.NewPrinter(tag)

	rows := make([][]string, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, formatRow(p, layout, tx))
	}
	return rows, nil
}

func formatRow(p *message.Printer, layout string, tx Transaction) []string {
	decimal := func(v float64) string {
		return p.Sprint(number.Decimal(v, number.MaxFractionDigits(2)))
	}
	money := func(v float64) string {
		unit, err := currency.ParseISO(tx.Currency)
		if err != nil {
			return decimal(v) + " " + tx.Currency
		}
		return p.Sprint(currency.Symbol(unit.Amount(v)))
	}

	taxType, taxRate, taxAmount := "-", "-", "-"
	if tx.TaxType != "" {
		taxType = strings.ToUpper(tx.TaxType)
	}
	if tx.TaxRate > 0 {
		taxRate = decimal(tx.TaxRate) + "%"
		amount := math.Abs(math.Round(tx.TaxRate*tx.Amount/(100+tx.TaxRate)*100) / 100)
		if amount > 0 {
			taxAmount = money(amount)
		}
	}

	status := "Not completed"
	if len(tx.Attachments) > 0 || tx.Status == "completed" {
		status = "Completed"
	}

	balance := ""
	if tx.Balance != nil {
		balance = decimal(*tx.Balance)
	}

	return []string{
		tx.ID.String(),
		tx.Date.Format(layout),
		tx.Name,
		tx.Description,
		decimal(tx.Amount),
		tx.Currency,
		money(tx.Amount),
		taxType,
		taxRate,
		taxAmount,
		tx.Counterparty,
		tx.Category,
		tx.CategoryDescription,
		status,
		strings.Join(tx.Attachments, ", "),
		balance,
		tx.Account,
		tx.Note,
		strings.Join(tx.Tags, ", "),
	}
}

// buildArchive zips the rows as transactions.csv
func buildArchive(rows [][]string, modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	f, err := zw.CreateHeader(&zip.FileHeader{
		Name:     "transactions.csv",
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive entry: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(exportColumns); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to write csv rows: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}
