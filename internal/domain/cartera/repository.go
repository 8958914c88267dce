package cartera

import (
	"context"

	"osiris/internal/core/id"
	"osiris/internal/domain"
)

// Repository persists accounts, their payments and received withholdings.
// Lock methods hold the row until the surrounding transaction ends.
type Repository interface {
	CreateAccount(ctx context.Context, a *Account) error
	UpdateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, accountID id.ID) (*Account, error)
	LockAccount(ctx context.Context, accountID id.ID) (*Account, error)
	// LockAccountByDocument returns a NotFound error when the document has no account.
	LockAccountByDocument(ctx context.Context, kind Kind, documentID id.ID) (*Account, error)
	GetAccountByDocument(ctx context.Context, kind Kind, documentID id.ID) (*Account, error)
	ListAccounts(ctx context.Context, f AccountFilter) (domain.ListResult[*Account], error)

	AddPayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, accountID id.ID) ([]Payment, error)

	CreateReceived(ctx context.Context, r *ReceivedWithholding) error
	UpdateReceived(ctx context.Context, r *ReceivedWithholding) error
	GetReceived(ctx context.Context, receivedID id.ID) (*ReceivedWithholding, error)
	LockReceived(ctx context.Context, receivedID id.ID) (*ReceivedWithholding, error)
	// ReceivedNumberTaken reports an active receipt of the customer with that number.
	ReceivedNumberTaken(ctx context.Context, customerID id.ID, number string) (bool, error)
	ListReceived(ctx context.Context, f ReceivedFilter) (domain.ListResult[*ReceivedWithholding], error)
}
