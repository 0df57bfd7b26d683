package db

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"invoicely/internal/types"
)

// MemoryStore is an in-process implementation of the profile, invoice and
// business stores with the same CAS semantics as the PostgreSQL repositories.
// It backs STORE_DRIVER=memory and tests.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	profiles map[string]*types.CloudProfile
	invoices map[string]types.CloudInvoice
	business map[string]types.BusinessInfo
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		profiles: make(map[string]*types.CloudProfile),
		invoices: make(map[string]types.CloudInvoice),
		business: make(map[string]types.BusinessInfo),
	}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*types.CloudProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundProfile, "entitlement profile not found", nil)
	}
	return p.Clone(), nil
}

func (m *MemoryStore) Create(_ context.Context, p *types.CloudProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.UserID]; ok {
		return types.NewAppError(types.ErrCodeConflictExists, "entitlement profile already exists", nil)
	}
	p.Version = 1
	p.UpdatedAt = p.CreatedAt
	m.profiles[p.UserID] = p.Clone()
	return nil
}

func (m *MemoryStore) CompareAndSwap(_ context.Context, p *types.CloudProfile, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.profiles[p.UserID]
	if !ok || cur.Version != expectedVersion {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "entitlement profile was modified concurrently", nil)
	}

	next := p.Clone()
	next.Migration.Completed = cur.Migration.Completed || p.Migration.Completed
	next.Migration.BusinessInfoCopied = cur.Migration.BusinessInfoCopied || p.Migration.BusinessInfoCopied
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	next.UpdatedAt = m.now().UTC()
	m.profiles[p.UserID] = next

	p.Version = next.Version
	p.UpdatedAt = next.UpdatedAt
	return nil
}

func (m *MemoryStore) ListDueForRecheck(_ context.Context, now time.Time, window time.Duration, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(window)

	var due []*types.CloudProfile
	for _, p := range m.profiles {
		if p.Tier != types.TierPro || p.NextBillingDate == nil {
			continue
		}
		if p.SubscriptionStatus != types.SubStatusPastDue && p.SubscriptionStatus != types.SubStatusCanceled {
			continue
		}
		if p.NextBillingDate.After(cutoff) {
			continue
		}
		due = append(due, p)
	}
	slices.SortFunc(due, func(a, b *types.CloudProfile) int {
		if c := a.NextBillingDate.Compare(*b.NextBillingDate); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})

	ids := make([]string, 0, min(len(due), limit))
	for _, p := range due {
		if len(ids) == limit {
			break
		}
		ids = append(ids, p.UserID)
	}
	return ids, nil
}

func (m *MemoryStore) FindBySubscriptionID(_ context.Context, subscriptionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if subscriptionID != "" && p.StripeSubscriptionID == subscriptionID {
			return p.UserID, nil
		}
	}
	return "", types.NewAppError(types.ErrCodeNotFoundProfile, "no profile linked to subscription", nil)
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) InsertIfAbsent(_ context.Context, inv types.CloudInvoice) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.ID]; ok {
		return false, nil
	}
	m.invoices[inv.ID] = inv
	return true, nil
}

func (m *MemoryStore) CountByOwner(_ context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, inv := range m.invoices {
		if inv.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]types.CloudInvoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.CloudInvoice
	for _, inv := range m.invoices {
		if inv.OwnerID == ownerID {
			out = append(out, inv)
		}
	}
	slices.SortFunc(out, func(a, b types.CloudInvoice) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *MemoryStore) PutBusinessInfo(_ context.Context, ownerID string, info types.BusinessInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.business[ownerID] = info
	return nil
}

func (m *MemoryStore) GetBusinessInfo(_ context.Context, ownerID string) (*types.BusinessInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.business[ownerID]
	if !ok {
		return nil, nil
	}
	return &info, nil
}
