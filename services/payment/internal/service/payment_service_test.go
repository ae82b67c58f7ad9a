package service

import (
	"context"
	"testing"
	"time"

	"github.com/kyungseok/purchase-saga/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservationKey(t *testing.T) {
	assert.Equal(t, "balance_reserve:u1:o1", reservationKey("u1", "o1"))
}

func TestCallGateway_AlwaysSucceeds(t *testing.T) {
	s := &paymentService{successRate: 1, simulatedLatency: time.Millisecond}
	result, err := s.callGateway(context.Background(), "order-1", 1000)
	require.NoError(t, err)
	assert.Contains(t, result.TransactionID, "PG-TXN-order-1-")
}

func TestCallGateway_AlwaysDeclines(t *testing.T) {
	s := &paymentService{successRate: 0, simulatedLatency: time.Millisecond}
	_, err := s.callGateway(context.Background(), "order-1", 1000)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePaymentDeclined, errors.CodeOf(err))
}

func TestCallGateway_ContextCancelled(t *testing.T) {
	s := &paymentService{successRate: 1, simulatedLatency: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.callGateway(ctx, "order-1", 1000)
	require.Error(t, err)
	assert.Equal(t, context.Canceled, err)
}
