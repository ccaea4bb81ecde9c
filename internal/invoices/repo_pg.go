package invoices

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const invoiceColumns = `id, customer_id, creation_date, local_staging_path, blob_key, uploaded, page_count, created_at, updated_at`

// Save upserts the invoice keyed by id. Concurrent writers resolve last-write-wins.
func (r *PGRepo) Save(ctx context.Context, inv Invoice) (Invoice, error) {
	const query = `
INSERT INTO invoices (` + invoiceColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    customer_id = EXCLUDED.customer_id,
    local_staging_path = EXCLUDED.local_staging_path,
    blob_key = EXCLUDED.blob_key,
    uploaded = EXCLUDED.uploaded,
    page_count = EXCLUDED.page_count,
    updated_at = EXCLUDED.updated_at`

	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = inv.CreatedAt
	}

	_, err := r.DB.ExecContext(ctx, query,
		inv.ID,
		inv.CustomerID,
		inv.CreationDate,
		nullString(inv.LocalStagingPath),
		nullString(inv.BlobKey),
		inv.Uploaded,
		inv.PageCount,
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// FindByID returns the invoice for id.
func (r *PGRepo) FindByID(ctx context.Context, id string) (Invoice, error) {
	const query = `
SELECT ` + invoiceColumns + `
FROM invoices
WHERE id = $1
LIMIT 1`

	inv, err := scanInvoice(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

// FindByCustomer lists a customer's invoices ordered newest-first.
func (r *PGRepo) FindByCustomer(ctx context.Context, customerID string) ([]Invoice, error) {
	const query = `
SELECT ` + invoiceColumns + `
FROM invoices
WHERE customer_id = $1
ORDER BY created_at DESC, id`

	rows, err := r.DB.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Delete removes the invoice record.
func (r *PGRepo) Delete(ctx context.Context, inv Invoice) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, inv.ID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (Invoice, error) {
	var (
		inv         Invoice
		stagingPath sql.NullString
		blobKey     sql.NullString
	)
	if err := row.Scan(
		&inv.ID,
		&inv.CustomerID,
		&inv.CreationDate,
		&stagingPath,
		&blobKey,
		&inv.Uploaded,
		&inv.PageCount,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	); err != nil {
		return Invoice{}, err
	}
	inv.LocalStagingPath = stagingPath.String
	inv.BlobKey = blobKey.String
	inv.CreationDate = truncateDate(inv.CreationDate)
	return inv, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Repo = (*PGRepo)(nil)
