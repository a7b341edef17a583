package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transaction is one exported bank transaction.
type Transaction struct {
	ID                  uuid.UUID `json:"id"`
	Date                time.Time `json:"date"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	Amount              float64   `json:"amount"`
	Currency            string    `json:"currency"`
	TaxType             string    `json:"tax_type,omitempty"`
	TaxRate             float64   `json:"tax_rate,omitempty"`
	Counterparty        string    `json:"counterparty,omitempty"`
	Category            string    `json:"category,omitempty"`
	CategoryDescription string    `json:"category_description,omitempty"`
	Status              string    `json:"status,omitempty"`
	Attachments         []string  `json:"attachments,omitempty"`
	Balance             *float64  `json:"balance,omitempty"`
	Account             string    `json:"account,omitempty"`
	Note                string    `json:"note,omitempty"`
	Tags                []string  `json:"tags,omitempty"`
}

// TransactionSource loads the transactions of a team by id.
// Unknown ids are skipped.
type TransactionSource interface {
	TransactionsForExport(ctx context.Context, teamID uuid.UUID, ids []uuid.UUID) ([]Transaction, error)
}

// SyntheticTransactions derives a stable fake transaction from each id.
// It backs the demo binary where no ledger database exists.
type SyntheticTransactions struct {
	Epoch time.Time
}

var (
	syntheticNames      = []string{"Office rent", "Cloud hosting", "Client payment", "Team lunch", "Software license", "Bank transfer"}
	syntheticCategories = []string{"rent", "infrastructure", "income", "meals", "software", "transfer"}
	syntheticCurrencies = []string{"USD", "EUR", "GBP", "SEK"}
)

// TransactionsForExport implements TransactionSource
func (s SyntheticTransactions) TransactionsForExport(ctx context.Context, teamID uuid.UUID, ids []uuid.UUID) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	epoch := s.Epoch
	if epoch.IsZero() {
		epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	out := make([]Transaction, 0, len(ids))
	for _, id := range ids {
		kind := int(id[0]) % len(syntheticNames)
		cents := int(id[1])<<8 | int(id[2])
		amount := float64(cents) / 100
		if syntheticCategories[kind] != "income" {
			amount = -amount
		}

		tx := Transaction{
			ID:       id,
			Date:     epoch.AddDate(0, 0, -int(id[3])%90),
			Name:     syntheticNames[kind],
			Amount:   amount,
			Currency: syntheticCurrencies[int(id[4])%len(syntheticCurrencies)],
			Category: syntheticCategories[kind],
			Account:  fmt.Sprintf("Account %s", teamID.String()[:8]),
			Status:   "posted",
		}
		if id[5]%3 == 0 {
			tx.TaxType = "vat"
			tx.TaxRate = 25
		}
		if id[6]%4 == 0 {
			tx.Attachments = []string{fmt.Sprintf("receipt-%s.pdf", id.String()[:8])}
		}
		out = append(out, tx)
	}
	return out, nil
}
