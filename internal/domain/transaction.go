package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Channel is the payment rail a transaction went through, detected from its description.
type Channel string

const (
	ChannelPOS     Channel = "pos"
	ChannelEcom    Channel = "ecom"
	ChannelACH     Channel = "ach"
	ChannelZelle   Channel = "zelle"
	ChannelATM     Channel = "atm"
	ChannelUnknown Channel = "unknown"
)

// DateLayout is the canonical calendar-date layout used in identities, storage and the API.
const DateLayout = "2006-01-02"

// CanonicalTransaction is one normalized transaction. It is created once by the
// extractor and never mutated afterwards.
type CanonicalTransaction struct {
	Identity    string    `json:"identity"`
	Institution string    `json:"institution"`
	AccountID   string    `json:"account_id"`
	PostedAt    time.Time `json:"posted_at"` // calendar date, midnight UTC

	// Amount is signed: negative is an expense, positive is income or a credit.
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	MerchantRaw  string `json:"merchant_raw"`
	MerchantHash string `json:"merchant_hash"`
	Description  string `json:"description"`

	CategoryRaw        string  `json:"category_raw"`
	CategoryNormalized string  `json:"category_normalized"`
	Channel            Channel `json:"channel"`

	IngestBatchID string    `json:"ingest_batch_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsExpense reports whether the transaction is money going out.
func (t CanonicalTransaction) IsExpense() bool {
	return t.Amount.IsNegative()
}

// PostedDate returns the posted date formatted as YYYY-MM-DD.
func (t CanonicalTransaction) PostedDate() string {
	return t.PostedAt.Format(DateLayout)
}

// Date truncates t to a calendar date at midnight UTC.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
