package tiered

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/toxbook/pkg/billing"
	"github.com/mihaimyh/toxbook/storage/memory"
)

// failingStore fails every write and delegates reads.
type failingStore struct {
	*memory.Storage
	err error
}

func (f *failingStore) SetCustomerLink(context.Context, *billing.CustomerLink) error {
	return f.err
}

func TestNew(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New()})
		assert.NoError(t, err)
		assert.NotNil(t, storage)
		assert.NoError(t, storage.Close())
	})

	t.Run("nil hot storage", func(t *testing.T) {
		storage, err := New(Config{Cold: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
		assert.Contains(t, err.Error(), "hot and cold storage are required")
	})

	t.Run("nil cold storage", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
	})

	t.Run("default sync buffer size", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncBackfill: true})
		require.NoError(t, err)
		defer storage.Close()
		assert.Equal(t, 1000, cap(storage.syncQueue))
	})
}

func TestStorage_ReadThroughBackfillsHot(t *testing.T) {
	hot, cold := memory.New(), memory.New()
	storage, _ := New(Config{Hot: hot, Cold: cold})
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, cold.SetCustomerLink(ctx, &billing.CustomerLink{OwnerID: "u", CustomerID: "cus_1"}))

	got, err := storage.GetCustomerLink(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", got.CustomerID)

	cached, err := hot.GetCustomerLink(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", cached.CustomerID)
}

func TestStorage_HotHitSkipsCold(t *testing.T) {
	hot, cold := memory.New(), memory.New()
	storage, _ := New(Config{Hot: hot, Cold: cold})
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, hot.SetCustomerLink(ctx, &billing.CustomerLink{OwnerID: "u", CustomerID: "cus_hot"}))
	require.NoError(t, cold.SetCustomerLink(ctx, &billing.CustomerLink{OwnerID: "u", CustomerID: "cus_cold"}))

	got, err := storage.GetCustomerLink(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "cus_hot", got.CustomerID)
}

func TestStorage_MissEverywhere(t *testing.T) {
	storage, _ := New(Config{Hot: memory.New(), Cold: memory.New()})
	defer storage.Close()

	_, err := storage.GetCustomerLink(context.Background(), "u")
	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)
}

func TestStorage_WriteThrough(t *testing.T) {
	hot, cold := memory.New(), memory.New()
	storage, _ := New(Config{Hot: hot, Cold: cold})
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, storage.SetCustomerLink(ctx, &billing.CustomerLink{OwnerID: "u", CustomerID: "cus_1"}))
	assert.Equal(t, 1, hot.Len())
	assert.Equal(t, 1, cold.Len())
}

func TestStorage_ColdFailureSkipsHot(t *testing.T) {
	hot := memory.New()
	coldErr := errors.New("cold down")
	storage, _ := New(Config{Hot: hot, Cold: &failingStore{Storage: memory.New(), err: coldErr}})
	defer storage.Close()

	err := storage.SetCustomerLink(context.Background(), &billing.CustomerLink{OwnerID: "u", CustomerID: "cus_1"})
	assert.ErrorIs(t, err, coldErr)
	assert.Equal(t, 0, hot.Len())
}

func TestStorage_HotFailureReported(t *testing.T) {
	var reported []error
	hotErr := errors.New("cache down")
	cold := memory.New()
	storage, _ := New(Config{
		Hot:               &failingStore{Storage: memory.New(), err: hotErr},
		Cold:              cold,
		AsyncErrorHandler: func(err error) { reported = append(reported, err) },
	})
	defer storage.Close()

	err := storage.SetCustomerLink(context.Background(), &billing.CustomerLink{OwnerID: "u", CustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, 1, cold.Len())
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], hotErr)
}

func TestStorage_AsyncBackfill(t *testing.T) {
	hot, cold := memory.New(), memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold, AsyncBackfill: true})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cold.SetCustomerLink(ctx, &billing.CustomerLink{OwnerID: "u", CustomerID: "cus_1"}))
	_, err = storage.GetCustomerLink(ctx, "u")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return hot.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, storage.Close())
	assert.NoError(t, storage.Close())
}

func TestStorage_AsyncQueueFull(t *testing.T) {
	var mu sync.Mutex
	var reported []error
	hot, cold := memory.New(), memory.New()
	storage := &Storage{
		hot:       hot,
		cold:      cold,
		conf:      Config{AsyncBackfill: true, AsyncErrorHandler: func(err error) { mu.Lock(); reported = append(reported, err); mu.Unlock() }},
		syncQueue: make(chan func() error, 1),
		shutdown:  make(chan struct{}),
	}
	// No worker is running, so the second backfill finds the queue full.
	ctx := context.Background()
	require.NoError(t, cold.SetCustomerLink(ctx, &billing.CustomerLink{OwnerID: "u", CustomerID: "cus_1"}))
	_, _ = storage.GetCustomerLink(ctx, "u")
	_, _ = storage.GetCustomerLink(ctx, "u")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "sync queue full")
}
