package messaging_test

import (
	"context"
	"testing"
	"time"

	"github.com/kyungseok/purchase-saga/common/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryKV_AcquireLock(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(kv *messaging.InMemoryKV)
		key      string
		ttl      time.Duration
		expected bool
	}{
		{
			name:     "first acquire succeeds",
			key:      "user:1",
			ttl:      time.Minute,
			expected: true,
		},
		{
			name: "second acquire while held fails",
			setup: func(kv *messaging.InMemoryKV) {
				ok, err := kv.AcquireLock(context.Background(), "user:1", time.Minute)
				require.NoError(t, err)
				require.True(t, ok)
			},
			key:      "user:1",
			ttl:      time.Minute,
			expected: false,
		},
		{
			name: "acquire succeeds again after release",
			setup: func(kv *messaging.InMemoryKV) {
				ok, err := kv.AcquireLock(context.Background(), "user:1", time.Minute)
				require.NoError(t, err)
				require.True(t, ok)
				require.NoError(t, kv.ReleaseLock(context.Background(), "user:1"))
			},
			key:      "user:1",
			ttl:      time.Minute,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := messaging.NewInMemoryKV()
			if tt.setup != nil {
				tt.setup(kv)
			}
			ok, err := kv.AcquireLock(context.Background(), tt.key, tt.ttl)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestInMemoryKV_LockExpiry(t *testing.T) {
	kv := messaging.NewInMemoryKV()
	ctx := context.Background()

	ok, err := kv.AcquireLock(ctx, "user:1", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = kv.AcquireLock(ctx, "user:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock should be re-acquirable")
}

func TestInMemoryKV_Reservation(t *testing.T) {
	kv := messaging.NewInMemoryKV()
	ctx := context.Background()

	_, found, err := kv.GetReservation(ctx, "balance_reserve:u1:o1")
	require.NoError(t, err)
	assert.False(t, found, "missing reservation should not be found")

	require.NoError(t, kv.SetReservation(ctx, "balance_reserve:u1:o1", []byte(`{"amount":100}`), time.Minute))

	value, found, err := kv.GetReservation(ctx, "balance_reserve:u1:o1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `{"amount":100}`, string(value))

	require.NoError(t, kv.DeleteReservation(ctx, "balance_reserve:u1:o1"))

	_, found, err = kv.GetReservation(ctx, "balance_reserve:u1:o1")
	require.NoError(t, err)
	assert.False(t, found, "deleted reservation should not be found")
}

func TestInMemoryKV_ReservationExpiry(t *testing.T) {
	kv := messaging.NewInMemoryKV()
	ctx := context.Background()

	require.NoError(t, kv.SetReservation(ctx, "balance_reserve:u1:o1", []byte("x"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, found, err := kv.GetReservation(ctx, "balance_reserve:u1:o1")
	require.NoError(t, err)
	assert.False(t, found, "expired reservation should read as absent")
}

func TestInMemoryKV_IncrDecr(t *testing.T) {
	kv := messaging.NewInMemoryKV()
	ctx := context.Background()

	v, err := kv.Incr(ctx, "slots:u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = kv.Incr(ctx, "slots:u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	v, err = kv.Decr(ctx, "slots:u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
