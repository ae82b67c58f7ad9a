package service

import (
	"testing"
	"time"

	"github.com/kyungseok/purchase-saga/common/events"
	"github.com/kyungseok/purchase-saga/services/coupon/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestValidateCoupon(t *testing.T) {
	future := time.Now().Add(24 * time.Hour)
	past := time.Now().Add(-24 * time.Hour)

	tests := []struct {
		name           string
		coupon         *domain.UserCoupon
		evt            events.CouponValidationRequestedEvent
		expectedReason string
	}{
		{
			name:   "coupon not found",
			coupon: nil,
			evt:    events.CouponValidationRequestedEvent{UserID: "u1", TotalAmount: 10000},
			expectedReason: "coupon-not-found",
		},
		{
			name: "not owned by requesting user",
			coupon: &domain.UserCoupon{
				UserID: "someone-else", IsActive: true, ExpiresAt: future, MinOrderAmount: 0,
			},
			evt:            events.CouponValidationRequestedEvent{UserID: "u1", TotalAmount: 10000},
			expectedReason: "coupon-not-owned",
		},
		{
			name: "already used",
			coupon: &domain.UserCoupon{
				UserID: "u1", Used: true, IsActive: true, ExpiresAt: future,
			},
			evt:            events.CouponValidationRequestedEvent{UserID: "u1", TotalAmount: 10000},
			expectedReason: "coupon-already-used",
		},
		{
			name: "inactive",
			coupon: &domain.UserCoupon{
				UserID: "u1", IsActive: false, ExpiresAt: future,
			},
			evt:            events.CouponValidationRequestedEvent{UserID: "u1", TotalAmount: 10000},
			expectedReason: "coupon-inactive",
		},
		{
			name: "expired",
			coupon: &domain.UserCoupon{
				UserID: "u1", IsActive: true, ExpiresAt: past,
			},
			evt:            events.CouponValidationRequestedEvent{UserID: "u1", TotalAmount: 10000},
			expectedReason: "coupon-expired",
		},
		{
			name: "below minimum order amount",
			coupon: &domain.UserCoupon{
				UserID: "u1", IsActive: true, ExpiresAt: future, MinOrderAmount: 50000,
			},
			evt:            events.CouponValidationRequestedEvent{UserID: "u1", TotalAmount: 10000},
			expectedReason: "below-minimum-order-amount",
		},
		{
			name: "passes all checks",
			coupon: &domain.UserCoupon{
				UserID: "u1", IsActive: true, ExpiresAt: future, MinOrderAmount: 5000, DiscountPercent: 10,
			},
			evt:            events.CouponValidationRequestedEvent{UserID: "u1", TotalAmount: 10000},
			expectedReason: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, errs := validateCoupon(tt.coupon, tt.evt)
			assert.Equal(t, tt.expectedReason, reason)
			if tt.expectedReason != "" {
				assert.NotEmpty(t, errs)
			} else {
				assert.Empty(t, errs)
			}
		})
	}
}

func TestDiscountCalculation(t *testing.T) {
	tests := []struct {
		name               string
		totalAmount        int64
		discountPercent    int
		expectedDiscount   int64
		expectedFinalPrice int64
	}{
		{name: "10 percent off", totalAmount: 10000, discountPercent: 10, expectedDiscount: 1000, expectedFinalPrice: 9000},
		{name: "no discount", totalAmount: 5000, discountPercent: 0, expectedDiscount: 0, expectedFinalPrice: 5000},
		{name: "full discount capped at total", totalAmount: 5000, discountPercent: 100, expectedDiscount: 5000, expectedFinalPrice: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discount := tt.totalAmount * int64(tt.discountPercent) / 100
			if discount > tt.totalAmount {
				discount = tt.totalAmount
			}
			final := tt.totalAmount - discount
			assert.Equal(t, tt.expectedDiscount, discount)
			assert.Equal(t, tt.expectedFinalPrice, final)
		})
	}
}
