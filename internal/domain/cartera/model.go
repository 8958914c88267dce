// Package cartera keeps the receivable opened by every issued sale and the
// payable opened by every registered purchase, the payments applied to them,
// and the withholding receipts customers hand back against a sale.
//
// An account's balance is always total - withheld - paid and never negative.
// A document whose account already carries payments or withholdings cannot
// be voided.
package cartera

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/core/types"
	"osiris/internal/domain"
)

// Kind tells receivables from payables.
type Kind string

const (
	KindReceivable Kind = "CXC"
	KindPayable    Kind = "CXP"
)

func (k Kind) Valid() bool { return k == KindReceivable || k == KindPayable }

// AccountState follows the balance.
type AccountState string

const (
	AccountPending AccountState = "PENDIENTE"
	AccountPartial AccountState = "PARCIAL"
	AccountPaid    AccountState = "PAGADA"
	AccountVoided  AccountState = "ANULADA"
)

// Account is the open balance of one sale or purchase.
type Account struct {
	ID         id.ID           `db:"id" json:"id"`
	Kind       Kind            `db:"kind" json:"kind"`
	DocumentID id.ID           `db:"document_id" json:"documentId"`
	PartyID    id.ID           `db:"party_id" json:"partyId"`
	Total      decimal.Decimal `db:"total" json:"total"`
	Withheld   decimal.Decimal `db:"withheld" json:"withheld"`
	Paid       decimal.Decimal `db:"paid" json:"paid"`
	Balance    decimal.Decimal `db:"balance" json:"balance"`
	State      AccountState    `db:"state" json:"state"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updatedAt"`
	UpdatedBy  string          `db:"updated_by" json:"updatedBy"`
}

func newAccount(kind Kind, documentID, partyID id.ID, total decimal.Decimal, now time.Time) *Account {
	a := &Account{
		ID:         id.New(),
		Kind:       kind,
		DocumentID: documentID,
		PartyID:    partyID,
		Total:      types.Q2(total),
		Withheld:   decimal.Zero,
		Paid:       decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	a.settle()
	return a
}

// HasMovements reports whether payments or withholdings were applied.
func (a *Account) HasMovements() bool {
	return a.Paid.IsPositive() || a.Withheld.IsPositive()
}

func (a *Account) settle() {
	a.Balance = types.Q2(a.Total.Sub(a.Withheld).Sub(a.Paid))
	switch {
	case a.Balance.IsZero():
		a.State = AccountPaid
	case a.HasMovements():
		a.State = AccountPartial
	default:
		a.State = AccountPending
	}
}

func (a *Account) requireOpen() error {
	if a.State == AccountVoided {
		return apperror.NewPreconditionFailed("account", a.ID, "is voided")
	}
	return nil
}

func (a *Account) requireWithinBalance(amount decimal.Decimal, what string) error {
	if !amount.IsPositive() {
		return apperror.NewValidation(what + " must be positive").WithDetail("amount", amount.String())
	}
	if amount.GreaterThan(a.Balance) {
		return apperror.NewValidation(what+" exceeds the pending balance").
			WithDetail("amount", types.Fixed2(amount)).
			WithDetail("balance", types.Fixed2(a.Balance))
	}
	return nil
}

func (a *Account) applyPayment(amount decimal.Decimal) error {
	amount = types.Q2(amount)
	if err := a.requireOpen(); err != nil {
		return err
	}
	if err := a.requireWithinBalance(amount, "payment"); err != nil {
		return err
	}
	a.Paid = a.Paid.Add(amount)
	a.settle()
	return nil
}

func (a *Account) applyWithholding(amount decimal.Decimal) error {
	amount = types.Q2(amount)
	if err := a.requireOpen(); err != nil {
		return err
	}
	if err := a.requireWithinBalance(amount, "withholding"); err != nil {
		return err
	}
	a.Withheld = a.Withheld.Add(amount)
	a.settle()
	return nil
}

func (a *Account) revertWithholding(amount decimal.Decimal) error {
	amount = types.Q2(amount)
	if err := a.requireOpen(); err != nil {
		return err
	}
	if amount.GreaterThan(a.Withheld) {
		return apperror.NewValidation("reverted withholding exceeds the withheld amount").
			WithDetail("amount", types.Fixed2(amount)).
			WithDetail("withheld", types.Fixed2(a.Withheld))
	}
	a.Withheld = a.Withheld.Sub(amount)
	a.settle()
	return nil
}

func (a *Account) void() error {
	if a.HasMovements() {
		return apperror.NewPreconditionFailed(string(a.Kind), a.DocumentID,
			"has payments or withholdings applied; revert them first")
	}
	a.Balance = decimal.Zero
	a.State = AccountVoided
	return nil
}

// Snapshot is the audit form of an account.
func (a *Account) Snapshot() map[string]any {
	return map[string]any{
		"kind":        string(a.Kind),
		"document_id": a.DocumentID.String(),
		"party_id":    a.PartyID.String(),
		"total":       types.Fixed2(a.Total),
		"withheld":    types.Fixed2(a.Withheld),
		"paid":        types.Fixed2(a.Paid),
		"balance":     types.Fixed2(a.Balance),
		"state":       string(a.State),
	}
}

// Payment is money received on a receivable or paid on a payable.
type Payment struct {
	ID        id.ID           `db:"id" json:"id"`
	AccountID id.ID           `db:"account_id" json:"accountId"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	PaidOn    time.Time       `db:"paid_on" json:"paidOn"`
	// Method is a formaPago code.
	Method    string    `db:"method" json:"method"`
	ActorID   string    `db:"actor_id" json:"actorId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// PaymentRequest registers one payment.
type PaymentRequest struct {
	AccountID id.ID
	Amount    decimal.Decimal
	PaidOn    time.Time
	Method    string
}

// AccountFilter selects accounts.
type AccountFilter struct {
	domain.ListFilter
	Kind    Kind
	State   AccountState
	PartyID *id.ID
}

// ReceivedState is the state of a withholding receipt a customer handed over.
type ReceivedState string

const (
	ReceivedDraft   ReceivedState = "BORRADOR"
	ReceivedApplied ReceivedState = "APLICADA"
	ReceivedVoided  ReceivedState = "ANULADA"
)

// ReceivedWithholding is a comprobante de retencion issued by a customer
// against one of our sales. Applying it lowers the sale's receivable.
type ReceivedWithholding struct {
	ID         id.ID           `db:"id" json:"id"`
	SaleID     id.ID           `db:"sale_id" json:"saleId"`
	CustomerID id.ID           `db:"customer_id" json:"customerId"`
	Number     string          `db:"number" json:"number"`
	AccessKey  string          `db:"access_key" json:"accessKey,omitempty"`
	IssueDate  time.Time       `db:"issue_date" json:"issueDate"`
	State      ReceivedState   `db:"state" json:"state"`
	Total      decimal.Decimal `db:"total" json:"total"`
	VoidReason string          `db:"void_reason" json:"voidReason,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updatedAt"`
	CreatedBy  string          `db:"created_by" json:"createdBy"`
	UpdatedBy  string          `db:"updated_by" json:"updatedBy"`

	Lines []ReceivedLine `db:"-" json:"lines"`
}

// ReceivedLine is one tax withheld by the customer.
type ReceivedLine struct {
	LineNo int `db:"line_no" json:"lineNo"`
	// TaxCode is the impuesto codigo: 1 renta, 2 IVA.
	TaxCode    string          `db:"tax_code" json:"taxCode"`
	Percentage decimal.Decimal `db:"percentage" json:"percentage"`
	Base       decimal.Decimal `db:"base" json:"base"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
}

// NewReceivedWithholding builds a draft receipt.
func NewReceivedWithholding(saleID, customerID id.ID, number, accessKey string, issueDate time.Time) *ReceivedWithholding {
	return &ReceivedWithholding{
		ID:         id.New(),
		SaleID:     saleID,
		CustomerID: customerID,
		Number:     strings.TrimSpace(number),
		AccessKey:  strings.TrimSpace(accessKey),
		IssueDate:  issueDate,
		State:      ReceivedDraft,
		Total:      decimal.Zero,
		Lines:      make([]ReceivedLine, 0),
	}
}

// AddLine appends a line; Amount = Q2(base * percentage / 100).
func (r *ReceivedWithholding) AddLine(taxCode string, base, percentage decimal.Decimal) {
	r.Lines = append(r.Lines, ReceivedLine{
		LineNo:     len(r.Lines) + 1,
		TaxCode:    strings.TrimSpace(taxCode),
		Percentage: percentage,
		Base:       types.Q2(base),
		Amount:     types.Percentage(base, percentage),
	})
	r.Total = decimal.Zero
	for _, l := range r.Lines {
		r.Total = r.Total.Add(l.Amount)
	}
}

var hundred = decimal.NewFromInt(100)

// Validate checks the receipt on its own.
func (r *ReceivedWithholding) Validate() error {
	if id.IsNil(r.SaleID) {
		return apperror.NewValidation("sale is required").WithDetail("field", "saleId")
	}
	if !documentNumber(r.Number) {
		return apperror.NewValidation("number must look like 001-001-000000001").
			WithDetail("field", "number")
	}
	if len(r.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").WithDetail("field", "lines")
	}
	for _, l := range r.Lines {
		if l.TaxCode != "1" && l.TaxCode != "2" {
			return apperror.NewValidation("tax code must be 1 (renta) or 2 (IVA)").WithDetail("line", l.LineNo)
		}
		if !l.Base.IsPositive() {
			return apperror.NewValidation("base must be positive").WithDetail("line", l.LineNo)
		}
		if !l.Percentage.IsPositive() || l.Percentage.GreaterThan(hundred) {
			return apperror.NewValidation("percentage must be between 0 and 100").WithDetail("line", l.LineNo)
		}
	}
	return nil
}

// documentNumber accepts 3-3-9 digit groups separated by dashes.
func documentNumber(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || len(parts[0]) != 3 || len(parts[1]) != 3 || len(parts[2]) != 9 {
		return false
	}
	for _, p := range parts {
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

// Snapshot is the audit form of a received withholding.
func (r *ReceivedWithholding) Snapshot() map[string]any {
	lines := make([]map[string]any, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = map[string]any{
			"line_no":    l.LineNo,
			"tax_code":   l.TaxCode,
			"percentage": l.Percentage.String(),
			"base":       types.Fixed2(l.Base),
			"amount":     types.Fixed2(l.Amount),
		}
	}
	return map[string]any{
		"sale_id":     r.SaleID.String(),
		"customer_id": r.CustomerID.String(),
		"number":      r.Number,
		"access_key":  r.AccessKey,
		"issue_date":  r.IssueDate.Format("2006-01-02"),
		"state":       string(r.State),
		"total":       types.Fixed2(r.Total),
		"void_reason": r.VoidReason,
		"lines":       lines,
	}
}

// ReceivedFilter selects received withholdings.
type ReceivedFilter struct {
	domain.ListFilter
	SaleID *id.ID
	State  ReceivedState
}
