package entitlement

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicely/internal/db"
	"invoicely/internal/localstore"
	"invoicely/internal/types"
)

// fiveLocalInvoices has two invoices in the current period.
func fiveLocalInvoices() []types.LocalInvoice {
	dates := []time.Time{
		time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
	}
	out := make([]types.LocalInvoice, len(dates))
	for i, d := range dates {
		out[i] = types.LocalInvoice{
			ID:         fmt.Sprintf("local-%d", i+1),
			Number:     fmt.Sprintf("INV-%03d", i+1),
			Customer:   "Acme",
			TotalCents: 1000,
			Currency:   "USD",
			CreatedAt:  d,
		}
	}
	return out
}

func newTestMigrator(store *db.MemoryStore, invoices InvoiceCollection, cache LocalCache) *MigrationCoordinator {
	return NewMigrationCoordinator(MigrationConfig{
		Profiles: store,
		Invoices: invoices,
		Business: store,
		Cache:    cache,
		Clock:    fixedClock(testNow),
	})
}

func TestMigrate_SeedsUsageFromCurrentPeriod(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	src := localstore.NewStaticSource(fiveLocalInvoices(), &types.BusinessInfo{Name: "Acme Design"})
	m := newTestMigrator(store, store, newMemCache())

	res, err := m.Migrate(ctx, "u", src)
	require.NoError(t, err)
	assert.Equal(t, 5, res.InvoicesMigrated)
	assert.True(t, res.BusinessInfoMigrated)
	assert.True(t, res.Completed)

	n, _ := store.CountByOwner(ctx, "u")
	assert.Equal(t, 5, n)

	p, _ := store.Get(ctx, "u")
	assert.Equal(t, 2, p.InvoicesThisPeriod)
	assert.True(t, p.Migration.Completed)
	assert.Len(t, p.Migration.CopiedIDs, 5)

	info, _ := store.GetBusinessInfo(ctx, "u")
	require.NotNil(t, info)
	assert.Equal(t, "Acme Design", info.Name)
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	src := localstore.NewStaticSource(fiveLocalInvoices(), nil)
	// No cache, so the second run must rely on the cloud flag.
	m := newTestMigrator(store, store, nil)

	_, err := m.Migrate(ctx, "u", src)
	require.NoError(t, err)

	res, err := m.Migrate(ctx, "u", src)
	require.NoError(t, err)
	assert.True(t, res.AlreadyCompleted)

	n, _ := store.CountByOwner(ctx, "u")
	assert.Equal(t, 5, n)
	p, _ := store.Get(ctx, "u")
	assert.Equal(t, 2, p.InvoicesThisPeriod)
	assert.Equal(t, 1, p.Migration.Attempts)
}

func TestMigrate_PartialFailureResumes(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	invoices := &failingInvoices{MemoryStore: store, fail: map[string]bool{"local-5": true}}
	src := localstore.NewStaticSource(fiveLocalInvoices(), nil)
	m := newTestMigrator(store, invoices, nil)

	res, err := m.Migrate(ctx, "u", src)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeMigrationPartialFailure))
	require.NotNil(t, res)
	assert.Equal(t, 4, res.InvoicesMigrated)
	assert.Equal(t, 1, res.Outstanding)
	assert.False(t, res.Completed)

	p, _ := store.Get(ctx, "u")
	assert.Equal(t, 1, p.InvoicesThisPeriod)
	assert.False(t, p.Migration.Completed)

	invoices.heal()
	res, err = m.Migrate(ctx, "u", src)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InvoicesMigrated)
	assert.True(t, res.Completed)

	n, _ := store.CountByOwner(ctx, "u")
	assert.Equal(t, 5, n)
	p, _ = store.Get(ctx, "u")
	assert.Equal(t, 2, p.InvoicesThisPeriod)
	assert.Equal(t, 2, p.Migration.Attempts)
}

func TestMigrate_NoticeAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	invoices := &failingInvoices{MemoryStore: store, fail: map[string]bool{"local-1": true}}
	pub := &recordingPublisher{}
	m := NewMigrationCoordinator(MigrationConfig{
		Profiles: store,
		Invoices: invoices,
		Business: store,
		Notices:  pub,
		Clock:    fixedClock(testNow),
		Policy:   Policy{MigrationNoticeThreshold: 2},
	})
	src := localstore.NewStaticSource(fiveLocalInvoices(), nil)

	_, err := m.Migrate(ctx, "u", src)
	require.Error(t, err)
	assert.Empty(t, pub.notices)

	_, err = m.Migrate(ctx, "u", src)
	require.Error(t, err)
	assert.Equal(t, []string{"u"}, pub.notices)
}

func TestMigrate_ClampsSeededUsageToCeiling(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	var local []types.LocalInvoice
	for i := range 6 {
		local = append(local, types.LocalInvoice{
			ID: fmt.Sprintf("l%d", i), CreatedAt: testNow.Add(-time.Duration(i) * time.Hour),
		})
	}
	m := newTestMigrator(store, store, nil)

	_, err := m.Migrate(ctx, "u", localstore.NewStaticSource(local, nil))
	require.NoError(t, err)
	p, _ := store.Get(ctx, "u")
	assert.Equal(t, 3, p.InvoicesThisPeriod)
}

func TestMigrate_SkipsInvalidLocalRecords(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	local := append(fiveLocalInvoices(), types.LocalInvoice{ID: "", CreatedAt: testNow})
	m := newTestMigrator(store, store, nil)

	res, err := m.Migrate(ctx, "u", localstore.NewStaticSource(local, nil))
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 5, res.InvoicesMigrated)
}

func TestMigrate_ConcurrentRunsDoNotDuplicate(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	m := NewMigrationCoordinator(MigrationConfig{
		Profiles: store, Invoices: store, Business: store,
		Clock: fixedClock(testNow), Policy: Policy{CASMaxAttempts: 20},
	})
	src := localstore.NewStaticSource(fiveLocalInvoices(), nil)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Migrate(ctx, "u", src)
		}()
	}
	wg.Wait()

	n, _ := store.CountByOwner(ctx, "u")
	assert.Equal(t, 5, n)
	p, _ := store.Get(ctx, "u")
	assert.Equal(t, 2, p.InvoicesThisPeriod)
	assert.True(t, p.Migration.Completed)
	assert.Len(t, p.Migration.CopiedIDs, 5)
}

func TestCloudInvoiceID_Deterministic(t *testing.T) {
	assert.Equal(t, CloudInvoiceID("u", "a"), CloudInvoiceID("u", "a"))
	assert.NotEqual(t, CloudInvoiceID("u", "a"), CloudInvoiceID("v", "a"))
}
