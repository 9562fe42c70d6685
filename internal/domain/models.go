package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Channel string

const (
	ChannelCard         Channel = "card"
	ChannelBankTransfer Channel = "bank_transfer"
)

func (c Channel) Valid() bool {
	return c == ChannelCard || c == ChannelBankTransfer
}

type FeeBearer string

const (
	BearerMerchant FeeBearer = "merchant"
	BearerCustomer FeeBearer = "customer"
	BearerSplit    FeeBearer = "split"
)

func (b FeeBearer) Valid() bool {
	switch b {
	case BearerMerchant, BearerCustomer, BearerSplit:
		return true
	}
	return false
}

type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

func (m Mode) Valid() bool {
	return m == ModeTest || m == ModeLive
}

// DefaultCurrency is applied when a payment request omits one.
const DefaultCurrency = "NGN"

// Business owns payment intents and a business wallet.
type Business struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Customer is the payer, scoped to one business.
type Customer struct {
	ID         int64     `json:"id"`
	BusinessID int64     `json:"business_id"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PaymentIntent is what a payer asked to pay. It is never deleted.
type PaymentIntent struct {
	ID         int64           `json:"id"`
	BusinessID int64           `json:"business_id"`
	CustomerID int64           `json:"customer_id"`
	Amount     int64           `json:"amount"`
	Currency   string          `json:"currency"`
	Reference  string          `json:"reference"`
	Bearer     FeeBearer       `json:"bearer"`
	Mode       Mode            `json:"mode"`
	Status     PaymentStatus   `json:"status"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// BankDetails are returned by a provider for bank-transfer authorizations.
type BankDetails struct {
	AccountNumber string     `json:"account_number"`
	BankName      string     `json:"bank_name"`
	AccountName   string     `json:"account_name"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// AuthorizationAttempt is one call (or validation round) against a provider.
type AuthorizationAttempt struct {
	ID                int64               `json:"id"`
	PaymentIntentID   int64               `json:"payment_intent_id"`
	ProviderID        int64               `json:"provider_id"`
	Channel           Channel             `json:"channel"`
	ProviderReference string              `json:"provider_reference"`
	Status            AuthorizationStatus `json:"status"`
	Fee               int64               `json:"fee"`
	ProviderFee       int64               `json:"provider_fee"`
	Amount            int64               `json:"amount"`
	Currency          string              `json:"currency"`
	IdempotencyKey    string              `json:"idempotency_key"`
	BankDetails       *BankDetails        `json:"bank_details,omitempty"`
	RawResponse       json.RawMessage     `json:"raw_response,omitempty"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Transaction is the settlement record of a successful payment.
type Transaction struct {
	ID              int64             `json:"id"`
	BusinessID      int64             `json:"business_id"`
	PaymentIntentID int64             `json:"payment_intent_id"`
	Reference       string            `json:"reference"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Status          TransactionStatus `json:"status"`
	Channel         Channel           `json:"channel"`
	Mode            Mode              `json:"mode"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type AccountType string

const (
	AccountCustomerWallet     AccountType = "customer_wallet"
	AccountCustomerHolds      AccountType = "customer_holds"
	AccountBusinessWallet     AccountType = "business_wallet"
	AccountBusinessHolds      AccountType = "business_holds"
	AccountPlatformFeeRevenue AccountType = "platform_fee_revenue"
	AccountProviderFeeExpense AccountType = "provider_fee_expense"
	AccountProviderClearing   AccountType = "provider_clearing"
)

// LedgerAccount is a typed, currency-scoped account. Balance is a cached
// running sum and is never trusted over the entries themselves.
type LedgerAccount struct {
	ID        int64       `json:"id"`
	Holder    Holder      `json:"holder"`
	Type      AccountType `json:"type"`
	Currency  string      `json:"currency"`
	Balance   int64       `json:"balance"`
	CreatedAt time.Time   `json:"created_at"`
}

type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// LedgerEntry represents one leg of a double-entry posting.
// The sum of Amounts for a given TransactionID must always equal 0.
type LedgerEntry struct {
	ID            int64     `json:"id"`
	AccountID     int64     `json:"account_id"`
	TransactionID int64     `json:"transaction_id"`
	Reference     string    `json:"reference,omitempty"`
	Amount        int64     `json:"amount"`
	Direction     Direction `json:"direction"`
	CreatedAt     time.Time `json:"created_at"`
}

// FeeConfig prices a channel, globally (BusinessID nil) or per business.
type FeeConfig struct {
	ID          int64           `json:"id"`
	BusinessID  *int64          `json:"business_id,omitempty"`
	Channel     Channel         `json:"channel"`
	Currency    string          `json:"currency"`
	Percentage  decimal.Decimal `json:"percentage"`
	FixedAmount int64           `json:"fixed_amount"`
	MinFee      int64           `json:"min_fee"`
	MaxFee      *int64          `json:"max_fee,omitempty"`
	Active      bool            `json:"is_active"`
}

// WebhookEvent is a raw provider callback, stored before any processing.
type WebhookEvent struct {
	ID              int64           `json:"id"`
	Provider        string          `json:"provider"`
	ProviderEventID string          `json:"provider_event_id,omitempty"`
	EventType       string          `json:"event_type,omitempty"`
	RawPayload      json.RawMessage `json:"raw_payload"`
	ReceivedAt      time.Time       `json:"received_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	Feedback        string          `json:"feedback,omitempty"`
}

// ProviderMetadata holds selection hints synced from the provider catalog.
type ProviderMetadata struct {
	FeePercentage *decimal.Decimal `json:"fee_percentage,omitempty"`
	FixedFee      int64            `json:"fixed_fee,omitempty"`
}

type Provider struct {
	ID                int64            `json:"id"`
	Name              string           `json:"name"`
	Identifier        string           `json:"identifier"`
	Active            bool             `json:"is_active"`
	Healthy           bool             `json:"is_healthy"`
	SupportedChannels []Channel        `json:"supported_channels"`
	Metadata          ProviderMetadata `json:"metadata"`
	CreatedAt         time.Time        `json:"created_at"`
}

func (p Provider) Supports(c Channel) bool {
	for _, sc := range p.SupportedChannels {
		if sc == c {
			return true
		}
	}
	return false
}
