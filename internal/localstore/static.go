package localstore

import (
	"context"
	"slices"

	"invoicely/internal/types"
)

// StaticSource serves a device history that was uploaded rather than read
// from disk. It satisfies the same source contract as Store.
type StaticSource struct {
	Invoices []types.LocalInvoice
	Business *types.BusinessInfo
}

// NewStaticSource copies invoices so later mutation by the caller has no effect.
func NewStaticSource(invoices []types.LocalInvoice, business *types.BusinessInfo) *StaticSource {
	var b *types.BusinessInfo
	if business != nil {
		c := *business
		b = &c
	}
	return &StaticSource{Invoices: slices.Clone(invoices), Business: b}
}

func (s *StaticSource) ListInvoices(_ context.Context) ([]types.LocalInvoice, error) {
	return slices.Clone(s.Invoices), nil
}

func (s *StaticSource) BusinessInfo(_ context.Context) (*types.BusinessInfo, error) {
	return s.Business, nil
}
