package domain_test

import (
	"testing"

	"github.com/kyungseok/purchase-saga/services/item/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestItemReservation_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   domain.ReservationStatus
		expected bool
	}{
		{name: "reserved is not terminal", status: domain.ReservationStatusReserved, expected: false},
		{name: "confirmed is terminal", status: domain.ReservationStatusConfirmed, expected: true},
		{name: "cancelled is terminal", status: domain.ReservationStatusCancelled, expected: true},
		{name: "expired is terminal", status: domain.ReservationStatusExpired, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &domain.ItemReservation{Status: tt.status}
			assert.Equal(t, tt.expected, r.IsTerminal())
		})
	}
}
