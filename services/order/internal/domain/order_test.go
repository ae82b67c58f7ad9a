package domain_test

import (
	"testing"

	"github.com/kyungseok/purchase-saga/services/order/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestOrder_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name     string
		from     domain.OrderStatus
		to       domain.OrderStatus
		expected bool
	}{
		{name: "pending to processing", from: domain.OrderStatusPending, to: domain.OrderStatusProcessing, expected: true},
		{name: "pending to failed", from: domain.OrderStatusPending, to: domain.OrderStatusFailed, expected: true},
		{name: "pending to cancelled", from: domain.OrderStatusPending, to: domain.OrderStatusCancelled, expected: true},
		{name: "pending to completed is not allowed directly", from: domain.OrderStatusPending, to: domain.OrderStatusCompleted, expected: false},
		{name: "processing to confirmed", from: domain.OrderStatusProcessing, to: domain.OrderStatusConfirmed, expected: true},
		{name: "processing to failed", from: domain.OrderStatusProcessing, to: domain.OrderStatusFailed, expected: true},
		{name: "confirmed to completed", from: domain.OrderStatusConfirmed, to: domain.OrderStatusCompleted, expected: true},
		{name: "confirmed to failed", from: domain.OrderStatusConfirmed, to: domain.OrderStatusFailed, expected: true},
		{name: "completed is terminal", from: domain.OrderStatusCompleted, to: domain.OrderStatusFailed, expected: false},
		{name: "cancelled is terminal", from: domain.OrderStatusCancelled, to: domain.OrderStatusProcessing, expected: false},
		{name: "failed is terminal", from: domain.OrderStatusFailed, to: domain.OrderStatusProcessing, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &domain.Order{Status: tt.from}
			assert.Equal(t, tt.expected, order.CanTransitionTo(tt.to))
		})
	}
}

func TestOrder_TransitionTo(t *testing.T) {
	t.Run("valid transition updates status", func(t *testing.T) {
		order := &domain.Order{Status: domain.OrderStatusPending}
		ok := order.TransitionTo(domain.OrderStatusProcessing)
		assert.True(t, ok)
		assert.Equal(t, domain.OrderStatusProcessing, order.Status)
		assert.False(t, order.UpdatedAt.IsZero())
	})

	t.Run("invalid transition leaves status untouched", func(t *testing.T) {
		order := &domain.Order{Status: domain.OrderStatusCompleted}
		ok := order.TransitionTo(domain.OrderStatusProcessing)
		assert.False(t, ok)
		assert.Equal(t, domain.OrderStatusCompleted, order.Status)
		assert.True(t, order.UpdatedAt.IsZero())
	})
}
