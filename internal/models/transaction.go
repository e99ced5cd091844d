package models

import (
	"strings"
	"time"

	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID            int64           `json:"id"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Category      Category        `json:"category"`
	Description   string          `json:"description"`
	Date          time.Time       `json:"date"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	To            string          `json:"to"`
	Notes         *string         `json:"notes"`
	ReminderID    *int64          `json:"reminderId"`
	UserID        *int64          `json:"userId"`
}

type TransactionType string

const (
	TypeGive    TransactionType = "give"
	TypeReceive TransactionType = "receive"
)

func (t TransactionType) Valid() bool {
	return t == TypeGive || t == TypeReceive
}

type Category string

const (
	CategorySalary        Category = "salary"
	CategoryBusiness      Category = "business"
	CategoryGift          Category = "gift"
	CategoryFood          Category = "food"
	CategoryTransport     Category = "transport"
	CategoryShopping      Category = "shopping"
	CategoryBills         Category = "bills"
	CategoryEntertainment Category = "entertainment"
	CategoryHealth        Category = "health"
	CategoryEducation     Category = "education"
	CategoryInvestment    Category = "investment"
	CategoryOther         Category = "other"
)

var Categories = []Category{
	CategorySalary, CategoryBusiness, CategoryGift, CategoryFood,
	CategoryTransport, CategoryShopping, CategoryBills, CategoryEntertainment,
	CategoryHealth, CategoryEducation, CategoryInvestment, CategoryOther,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentOnline PaymentMethod = "online"
	PaymentCard   PaymentMethod = "card"
	PaymentUPI    PaymentMethod = "upi"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentOnline, PaymentCard, PaymentUPI:
		return true
	}
	return false
}

// CreateTransactionRequest is the POST /api/transactions body. DueDate is only
// used by the client to create an accompanying reminder and is never sent.
type CreateTransactionRequest struct {
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Category      Category        `json:"category"`
	Description   string          `json:"description"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	To            string          `json:"to"`
	Notes         *string         `json:"notes,omitempty"`
	DueDate       *time.Time      `json:"-"`
}

func (r *CreateTransactionRequest) Validate() error {
	if !r.Type.Valid() {
		return pkgerrors.Invalid("type must be give or receive")
	}
	if !r.Amount.IsPositive() {
		return pkgerrors.Invalid("amount must be positive")
	}
	if !r.Category.Valid() {
		return pkgerrors.Invalid("unknown category %q", r.Category)
	}
	if strings.TrimSpace(r.Description) == "" {
		return pkgerrors.Invalid("description is required")
	}
	if !r.PaymentMethod.Valid() {
		return pkgerrors.Invalid("unknown payment method %q", r.PaymentMethod)
	}
	if l := len([]rune(r.To)); l < 1 || l > 100 {
		return pkgerrors.Invalid("to must be between 1 and 100 characters")
	}
	return nil
}

// ToTransaction builds the record stored for this request.
func (r *CreateTransactionRequest) ToTransaction(at time.Time) *Transaction {
	return &Transaction{
		Type:          r.Type,
		Amount:        r.Amount,
		Category:      r.Category,
		Description:   r.Description,
		Date:          at,
		PaymentMethod: r.PaymentMethod,
		To:            r.To,
		Notes:         r.Notes,
	}
}
