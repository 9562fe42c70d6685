package api

import (
	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/models"
	"github.com/punchamoorthee/paycore/internal/service"
)

func toCustomer(c domain.Customer) models.Customer {
	return models.Customer{Email: c.Email, Phone: c.Phone, FirstName: c.FirstName, LastName: c.LastName}
}

func toAction(res service.Result) models.ActionResponse {
	out := models.ActionResponse{
		Reference: res.Intent.Reference,
		Amount:    res.Attempt.Amount,
		Action:    res.Action(),
		Message:   res.Message,
	}
	if b := res.Attempt.BankDetails; b != nil {
		out.Bank = &models.BankDetails{
			AccountNumber: b.AccountNumber,
			BankName:      b.BankName,
			AccountName:   b.AccountName,
			ExpiresAt:     b.ExpiresAt,
		}
	}
	return out
}

func toResult(res service.Result) models.AuthorizationResult {
	out := models.AuthorizationResult{
		Status:    string(res.Attempt.Status),
		Amount:    res.Intent.Amount,
		Reference: res.Intent.Reference,
		Customer:  toCustomer(res.Customer),
		Fee:       res.Attempt.Fee,
		Authorization: models.Authorization{
			Channel:           string(res.Attempt.Channel),
			ProviderReference: res.Attempt.ProviderReference,
			Status:            string(res.Attempt.Status),
			Amount:            res.Attempt.Amount,
			Currency:          res.Attempt.Currency,
		},
		Message: res.Message,
	}
	if res.Transaction != nil {
		id := res.Transaction.ID
		out.TransactionID = &id
	}
	return out
}

func toPayment(p service.PaymentDetails) models.Payment {
	out := models.Payment{
		Reference: p.Intent.Reference,
		Amount:    p.Intent.Amount,
		Currency:  p.Intent.Currency,
		Bearer:    string(p.Intent.Bearer),
		Mode:      string(p.Intent.Mode),
		Status:    string(p.Intent.Status),
		Customer:  toCustomer(p.Customer),
		Metadata:  p.Intent.Metadata,
		Attempts:  make([]models.Attempt, 0, len(p.Attempts)),
		CreatedAt: p.Intent.CreatedAt,
	}
	for _, a := range p.Attempts {
		out.Attempts = append(out.Attempts, models.Attempt{
			ID:                a.ID,
			Channel:           string(a.Channel),
			Status:            string(a.Status),
			ProviderReference: a.ProviderReference,
			Amount:            a.Amount,
			Fee:               a.Fee,
			CompletedAt:       a.CompletedAt,
			CreatedAt:         a.CreatedAt,
		})
	}
	return out
}

func toEntries(entries []domain.LedgerEntry) []models.LedgerEntry {
	out := make([]models.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.LedgerEntry{
			ID:            e.ID,
			AccountID:     e.AccountID,
			TransactionID: e.TransactionID,
			Amount:        e.Amount,
			Direction:     string(e.Direction),
			CreatedAt:     e.CreatedAt,
		})
	}
	return out
}

func toTransaction(t service.TransactionDetails) models.Transaction {
	return models.Transaction{
		ID:        t.Transaction.ID,
		Reference: t.Transaction.Reference,
		Amount:    t.Transaction.Amount,
		Currency:  t.Transaction.Currency,
		Status:    string(t.Transaction.Status),
		Channel:   string(t.Transaction.Channel),
		Mode:      string(t.Transaction.Mode),
		Entries:   toEntries(t.Entries),
		CreatedAt: t.Transaction.CreatedAt,
	}
}
