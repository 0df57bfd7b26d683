package db

import (
	"context"

	"invoicely/internal/types"
)

// BusinessRepo stores one business profile per owner.
type BusinessRepo struct {
	db DBTX
}

// NewBusinessRepo creates a BusinessRepo.
func NewBusinessRepo(db DBTX) *BusinessRepo {
	return &BusinessRepo{db: db}
}

// PutBusinessInfo upserts ownerID's business profile.
func (r *BusinessRepo) PutBusinessInfo(ctx context.Context, ownerID string, info types.BusinessInfo) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO business_profiles (owner_id, name, email, phone, address, tax_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (owner_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			address = EXCLUDED.address,
			tax_id = EXCLUDED.tax_id,
			updated_at = NOW()`,
		ownerID, info.Name, info.Email, info.Phone, info.Address, info.TaxID,
	)
	if err != nil {
		return mapDBError("failed to store business info", err)
	}
	return nil
}

// GetBusinessInfo returns ownerID's business profile or nil.
func (r *BusinessRepo) GetBusinessInfo(ctx context.Context, ownerID string) (*types.BusinessInfo, error) {
	var info types.BusinessInfo
	err := r.db.QueryRow(ctx,
		`SELECT name, email, phone, address, tax_id FROM business_profiles WHERE owner_id = $1`, ownerID,
	).Scan(&info.Name, &info.Email, &info.Phone, &info.Address, &info.TaxID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, mapDBError("failed to load business info", err)
	}
	return &info, nil
}
