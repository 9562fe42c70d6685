package models

import (
	"encoding/json"
	"time"
)

// PaymentRequest is the payload that opens a payment.
type PaymentRequest struct {
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	Reference string          `json:"reference,omitempty"`
	Bearer    string          `json:"bearer,omitempty"`
	Email     string          `json:"email,omitempty"`
	Phone     string          `json:"phone,omitempty"`
	FirstName string          `json:"first_name,omitempty"`
	LastName  string          `json:"last_name,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// AuthorizeRequest picks the channel. Card holds the card fields and is
// only read for the card channel.
type AuthorizeRequest struct {
	Channel string         `json:"channel"`
	Card    map[string]any `json:"card,omitempty"`
}

// ValidateRequest carries exactly one of its fields.
type ValidateRequest struct {
	PIN      string `json:"pin,omitempty"`
	OTP      string `json:"otp,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Birthday string `json:"birthday,omitempty"`
	Address  string `json:"address,omitempty"`
}

type Customer struct {
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type BankDetails struct {
	AccountNumber string     `json:"account_number"`
	BankName      string     `json:"bank_name"`
	AccountName   string     `json:"account_name"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// ActionResponse asks the payer for a further step: pin, otp or transfer.
type ActionResponse struct {
	Reference string       `json:"reference"`
	Amount    int64        `json:"amount"`
	Action    string       `json:"action"`
	Message   string       `json:"message,omitempty"`
	Bank      *BankDetails `json:"bank,omitempty"`
}

// Authorization describes the attempt behind a result.
type Authorization struct {
	Channel           string `json:"channel"`
	ProviderReference string `json:"provider_reference"`
	Status            string `json:"status"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
}

// AuthorizationResult is the final shape of an authorize or validate call.
type AuthorizationResult struct {
	Status        string        `json:"status"`
	Amount        int64         `json:"amount"`
	Reference     string        `json:"reference"`
	Customer      Customer      `json:"customer"`
	Fee           int64         `json:"fee"`
	Authorization Authorization `json:"authorization"`
	TransactionID *int64        `json:"transaction_id,omitempty"`
	Message       string        `json:"message,omitempty"`
}

type Attempt struct {
	ID                int64      `json:"id"`
	Channel           string     `json:"channel"`
	Status            string     `json:"status"`
	ProviderReference string     `json:"provider_reference"`
	Amount            int64      `json:"amount"`
	Fee               int64      `json:"fee"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type Payment struct {
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Bearer    string          `json:"bearer"`
	Mode      string          `json:"mode"`
	Status    string          `json:"status"`
	Customer  Customer        `json:"customer"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Attempts  []Attempt       `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}

type LedgerEntry struct {
	ID            int64     `json:"id"`
	AccountID     int64     `json:"account_id"`
	TransactionID int64     `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Direction     string    `json:"direction"`
	CreatedAt     time.Time `json:"created_at"`
}

type Transaction struct {
	ID        int64         `json:"id"`
	Reference string        `json:"reference"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
	Status    string        `json:"status"`
	Channel   string        `json:"channel"`
	Mode      string        `json:"mode"`
	Entries   []LedgerEntry `json:"entries"`
	CreatedAt time.Time     `json:"created_at"`
}

// Account reports the cached balance next to the one recomputed from entries.
type Account struct {
	ID              int64  `json:"id"`
	Type            string `json:"type"`
	Currency        string `json:"currency"`
	Balance         int64  `json:"balance"`
	ComputedBalance int64  `json:"computed_balance"`
}

type WebhookAck struct {
	Message string `json:"message"`
}
