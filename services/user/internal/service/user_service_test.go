package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservationKey(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		orderID  string
		expected string
	}{
		{name: "basic ids", userID: "u1", orderID: "o1", expected: "balance_reserve:u1:o1"},
		{name: "empty order id", userID: "u1", orderID: "", expected: "balance_reserve:u1:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, reservationKey(tt.userID, tt.orderID))
		})
	}
}
