package invoices

import "context"

// Repo persists invoice records.
type Repo interface {
	Save(ctx context.Context, inv Invoice) (Invoice, error)
	FindByID(ctx context.Context, id string) (Invoice, error)
	FindByCustomer(ctx context.Context, customerID string) ([]Invoice, error)
	Delete(ctx context.Context, inv Invoice) error
}
