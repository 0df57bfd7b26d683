package entitlement

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"invoicely/internal/db"
	"invoicely/internal/notices"
	"invoicely/internal/types"
)

// Mid-month, away from both period boundaries.
var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

const testFreeCeiling = types.DefaultMaxFreeInvoices

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

// mutableClock lets a test move time forward between calls.
type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func ptrTime(t time.Time) *time.Time { return &t }

// seedProfile writes p into store, bypassing the domain logic.
func seedProfile(store *db.MemoryStore, p *types.CloudProfile) {
	_ = store.Create(context.Background(), p)
}

func proProfile(userID string, status types.SubscriptionStatus, nextBilling time.Time) *types.CloudProfile {
	p := types.NewDefaultProfile(userID, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), testNow)
	p.Tier = types.TierPro
	p.SubscriptionStatus = status
	p.StripeCustomerID = "cus_1"
	p.StripeSubscriptionID = "sub_" + userID
	p.NextBillingDate = ptrTime(nextBilling)
	return p
}

type fakeProvider struct {
	mu    sync.Mutex
	sub   *types.ProviderSubscription
	err   error
	calls int
}

func (f *fakeProvider) GetSubscription(_ context.Context, id string) (*types.ProviderSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	s := *f.sub
	s.ID = id
	return &s, nil
}

// flakyStore wraps the memory store with injectable failures.
type flakyStore struct {
	*db.MemoryStore
	getErr         error
	casErr         error
	alwaysConflict bool
	casCalls       atomic.Int64
}

func (f *flakyStore) Get(ctx context.Context, userID string) (*types.CloudProfile, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.MemoryStore.Get(ctx, userID)
}

func (f *flakyStore) CompareAndSwap(ctx context.Context, p *types.CloudProfile, v int64) error {
	f.casCalls.Add(1)
	if f.alwaysConflict {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "conflict", nil)
	}
	if f.casErr != nil {
		return f.casErr
	}
	return f.MemoryStore.CompareAndSwap(ctx, p, v)
}

// memCache is an in-memory LocalCache.
type memCache struct {
	mu    sync.Mutex
	snaps map[string]types.Entitlement
	flags map[string]bool
}

func newMemCache() *memCache {
	return &memCache{snaps: map[string]types.Entitlement{}, flags: map[string]bool{}}
}

func (c *memCache) LoadSnapshot(_ context.Context, userID string) (*types.Entitlement, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.snaps[userID]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (c *memCache) SaveSnapshot(_ context.Context, e *types.Entitlement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[e.UserID] = *e
	return nil
}

func (c *memCache) MigrationCompleted(_ context.Context, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags[userID], nil
}

func (c *memCache) MarkMigrationCompleted(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags[userID] = true
	return nil
}

// failingInvoices fails InsertIfAbsent for the listed local IDs.
type failingInvoices struct {
	*db.MemoryStore
	mu   sync.Mutex
	fail map[string]bool
}

func (f *failingInvoices) InsertIfAbsent(ctx context.Context, inv types.CloudInvoice) (bool, error) {
	f.mu.Lock()
	bad := f.fail[inv.LocalID]
	f.mu.Unlock()
	if bad {
		return false, types.NewAppError(types.ErrCodeNetworkUnavailable, "write timed out", nil)
	}
	return f.MemoryStore.InsertIfAbsent(ctx, inv)
}

func (f *failingInvoices) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	notices []string
}

func (r *recordingPublisher) Publish(_ context.Context, n notices.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n.UserID)
	return nil
}
