package dto

import (
	"fmt"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/domain/cartera"
)

type AccountListQuery struct {
	ListQuery
	Kind    string `form:"kind"`
	State   string `form:"state"`
	PartyID string `form:"partyId"`
}

func (q AccountListQuery) ToFilter() (cartera.AccountFilter, error) {
	f := cartera.AccountFilter{
		ListFilter: q.ListQuery.ToFilter(),
		Kind:       cartera.Kind(q.Kind),
		State:      cartera.AccountState(q.State),
	}
	var err error
	f.PartyID, err = ParseOptionalID("partyId", q.PartyID)
	return f, err
}

// AccountResponse is an account with the payments applied to it.
type AccountResponse struct {
	*cartera.Account
	Payments []cartera.Payment `json:"payments"`
}

type PaymentRequest struct {
	Amount string `json:"amount" binding:"required"`
	// PaidOn is YYYY-MM-DD; empty means today.
	PaidOn string `json:"paidOn,omitempty"`
	// Method is a formaPago code; empty means cash.
	Method string `json:"method,omitempty"`
}

func (r *PaymentRequest) ToRequest() (cartera.PaymentRequest, error) {
	amount, err := ParseAmount("amount", r.Amount)
	if err != nil {
		return cartera.PaymentRequest{}, err
	}
	paidOn, err := ParseOptionalDate("paidOn", r.PaidOn)
	if err != nil {
		return cartera.PaymentRequest{}, err
	}
	return cartera.PaymentRequest{Amount: amount, PaidOn: paidOn, Method: r.Method}, nil
}

type PaymentResponse struct {
	Payment *cartera.Payment `json:"payment"`
	Account *cartera.Account `json:"account"`
}

type CreateReceivedWithholdingRequest struct {
	SaleID string `json:"saleId" binding:"required"`
	// CustomerID defaults to the sale's customer.
	CustomerID string                `json:"customerId,omitempty"`
	Number     string                `json:"number" binding:"required"`
	AccessKey  string                `json:"accessKey,omitempty"`
	IssueDate  string                `json:"issueDate" binding:"required"`
	Lines      []ReceivedLineRequest `json:"lines" binding:"required,min=1,dive"`
}

type ReceivedLineRequest struct {
	// TaxCode is 1 (renta) or 2 (IVA).
	TaxCode    string `json:"taxCode" binding:"required"`
	Base       string `json:"base" binding:"required"`
	Percentage string `json:"percentage" binding:"required"`
}

func (r *CreateReceivedWithholdingRequest) ToEntity() (*cartera.ReceivedWithholding, error) {
	saleID, err := ParseID("saleId", r.SaleID)
	if err != nil {
		return nil, err
	}
	var customerID id.ID
	if r.CustomerID != "" {
		if customerID, err = ParseID("customerId", r.CustomerID); err != nil {
			return nil, err
		}
	}
	issueDate, err := ParseOptionalDate("issueDate", r.IssueDate)
	if err != nil {
		return nil, err
	}
	if issueDate.IsZero() {
		return nil, apperror.NewValidation("issue date is required").WithDetail("field", "issueDate")
	}

	rw := cartera.NewReceivedWithholding(saleID, customerID, r.Number, r.AccessKey, issueDate)
	for i, line := range r.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		base, err := ParseAmount(field+".base", line.Base)
		if err != nil {
			return nil, err
		}
		pct, err := ParseAmount(field+".percentage", line.Percentage)
		if err != nil {
			return nil, err
		}
		rw.AddLine(line.TaxCode, base, pct)
	}
	return rw, nil
}

type ReceivedWithholdingListQuery struct {
	ListQuery
	SaleID string `form:"saleId"`
	State  string `form:"state"`
}

func (q ReceivedWithholdingListQuery) ToFilter() (cartera.ReceivedFilter, error) {
	f := cartera.ReceivedFilter{ListFilter: q.ListQuery.ToFilter(), State: cartera.ReceivedState(q.State)}
	var err error
	f.SaleID, err = ParseOptionalID("saleId", q.SaleID)
	return f, err
}

// ReasonRequest carries a mandatory reason.
type ReasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}
