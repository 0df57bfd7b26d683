package db

import (
	"context"

	"invoicely/internal/types"
)

// InvoiceRepo is the per-user cloud invoice collection.
type InvoiceRepo struct {
	db DBTX
}

// NewInvoiceRepo creates an InvoiceRepo.
func NewInvoiceRepo(db DBTX) *InvoiceRepo {
	return &InvoiceRepo{db: db}
}

// InsertIfAbsent writes inv unless a row with the same ID exists. inserted
// reports whether this call created the row.
func (r *InvoiceRepo) InsertIfAbsent(ctx context.Context, inv types.CloudInvoice) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO cloud_invoices (id, owner_id, local_id, number, customer, total_cents, currency, created_at, migrated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		inv.ID, inv.OwnerID, inv.LocalID, inv.Number, inv.Customer, inv.TotalCents, inv.Currency,
		inv.CreatedAt, inv.MigratedAt,
	)
	if err != nil {
		return false, mapDBError("failed to insert cloud invoice", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountByOwner returns the number of cloud invoices owned by ownerID.
func (r *InvoiceRepo) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM cloud_invoices WHERE owner_id = $1`, ownerID).Scan(&n); err != nil {
		return 0, mapDBError("failed to count cloud invoices", err)
	}
	return n, nil
}

// ListByOwner returns ownerID's invoices, oldest first.
func (r *InvoiceRepo) ListByOwner(ctx context.Context, ownerID string) ([]types.CloudInvoice, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, owner_id, local_id, number, customer, total_cents, currency, created_at, migrated_at
		 FROM cloud_invoices WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, mapDBError("failed to list cloud invoices", err)
	}
	defer rows.Close()

	var out []types.CloudInvoice
	for rows.Next() {
		var inv types.CloudInvoice
		if err := rows.Scan(&inv.ID, &inv.OwnerID, &inv.LocalID, &inv.Number, &inv.Customer,
			&inv.TotalCents, &inv.Currency, &inv.CreatedAt, &inv.MigratedAt); err != nil {
			return nil, mapDBError("failed to scan cloud invoice", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, mapDBError("failed to iterate cloud invoices", err)
	}
	return out, nil
}
