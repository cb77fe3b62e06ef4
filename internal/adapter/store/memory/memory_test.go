package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motionlabs/meterd/internal/module/ledger"
)

func TestCreateAndGet(t *testing.T) {
	store := New()
	ctx := context.Background()

	account := ledger.NewAccount("alice@example.com")
	require.NoError(t, store.Create(ctx, account))

	got, err := store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
	assert.Equal(t, ledger.TierFree, got.PlanTier)
	assert.False(t, got.CreatedAt.IsZero())

	assert.ErrorIs(t, store.Create(ctx, account), ledger.ErrAccountExists)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestFindByAttribute(t *testing.T) {
	store := New()
	ctx := context.Background()

	account := ledger.NewAccount("bob@example.com")
	account.IPAddress = "192.0.2.1"
	account.ExternalID = "ext-9"
	require.NoError(t, store.Create(ctx, account))

	// An account whose attributes are unset must not match empty lookups.
	blank := ledger.NewAccount("carol@example.com")
	require.NoError(t, store.Create(ctx, blank))

	got, err := store.FindByAttribute(ctx, ledger.AttributeIPAddress, "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	got, err = store.FindByAttribute(ctx, ledger.AttributeExternalID, "ext-9")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	_, err = store.FindByAttribute(ctx, ledger.AttributeIPAddress, "")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = store.FindByAttribute(ctx, ledger.AttributeIPAddress, "203.0.113.200")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestApplyMutates(t *testing.T) {
	store := New()
	ctx := context.Background()

	account := ledger.NewAccount("dave@example.com")
	require.NoError(t, store.Create(ctx, account))

	updated, err := store.Apply(ctx, account.ID, func(a *ledger.Account) error {
		a.UsedCredits = 4
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.UsedCredits)

	got, err := store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.UsedCredits)
}

func TestApplyMutateErrorLeavesStateUntouched(t *testing.T) {
	store := New()
	ctx := context.Background()

	account := ledger.NewAccount("eve@example.com")
	require.NoError(t, store.Create(ctx, account))

	_, err := store.Apply(ctx, account.ID, func(a *ledger.Account) error {
		a.UsedCredits = 999
		return ledger.ErrLimitExceeded
	})
	assert.ErrorIs(t, err, ledger.ErrLimitExceeded)

	got, err := store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UsedCredits)
}

func TestGetReturnsCopy(t *testing.T) {
	store := New()
	ctx := context.Background()

	account := ledger.NewAccount("frank@example.com")
	require.NoError(t, store.Create(ctx, account))

	got, err := store.Get(ctx, account.ID)
	require.NoError(t, err)
	got.UsedCredits = 42

	reread, err := store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reread.UsedCredits)
}

func TestApplySerializesConcurrentIncrements(t *testing.T) {
	store := New()
	ctx := context.Background()

	account := ledger.NewAccount("grace@example.com")
	account.MaxCredits = 1000
	require.NoError(t, store.Create(ctx, account))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Apply(ctx, account.ID, func(a *ledger.Account) error {
				a.UsedCredits++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.UsedCredits)
}
