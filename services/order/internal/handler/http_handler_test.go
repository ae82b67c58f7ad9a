package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kyungseok/purchase-saga/common/events"
	"github.com/kyungseok/purchase-saga/services/order/internal/domain"
	"github.com/kyungseok/purchase-saga/services/order/internal/handler"
	"github.com/kyungseok/purchase-saga/services/order/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockOrderService is a testify/mock implementation of service.OrderService
// used to unit test the HTTP layer without a database.
type mockOrderService struct {
	mock.Mock
}

func (m *mockOrderService) CreateOrder(ctx context.Context, cmd service.CreateOrderCommand) (*domain.Order, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderService) HandleCouponValidated(ctx context.Context, evt events.CouponValidatedEvent) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockOrderService) HandleCouponValidationFailed(ctx context.Context, evt events.CouponValidationFailedEvent) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockOrderService) HandlePaymentProcessed(ctx context.Context, evt events.PaymentProcessedEvent) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockOrderService) HandleUserValidationFailed(ctx context.Context, evt events.UserValidationFailedEvent) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockOrderService) HandleInventoryReservationFailed(ctx context.Context, evt events.InventoryReservationFailedEvent) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockOrderService) HandleItemReservationFailed(ctx context.Context, evt events.ItemReservationFailedEvent) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockOrderService) HandlePaymentFailed(ctx context.Context, evt events.PaymentFailedEvent) error {
	return m.Called(ctx, evt).Error(0)
}

func TestHTTPHandler_CreateOrder(t *testing.T) {
	t.Run("valid request returns created order", func(t *testing.T) {
		svc := new(mockOrderService)
		expected := &domain.Order{ID: "order-1", UserID: "u1", ItemID: "i1", Status: domain.OrderStatusPending}
		svc.On("CreateOrder", mock.Anything, mock.MatchedBy(func(cmd service.CreateOrderCommand) bool {
			return cmd.UserID == "u1" && cmd.ItemID == "i1" && cmd.Quantity == 2
		})).Return(expected, nil)

		h := handler.NewHTTPHandler(svc, zap.NewNop())

		body, _ := json.Marshal(handler.CreateOrderRequest{UserID: "u1", ItemID: "i1", Quantity: 2})
		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		h.CreateOrder(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		var got domain.Order
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "order-1", got.ID)
		svc.AssertExpectations(t)
	})

	t.Run("service error returns bad request", func(t *testing.T) {
		svc := new(mockOrderService)
		svc.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, assertAnError())

		h := handler.NewHTTPHandler(svc, zap.NewNop())

		body, _ := json.Marshal(handler.CreateOrderRequest{UserID: "u1", ItemID: "i1", Quantity: 1})
		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		h.CreateOrder(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong method is rejected", func(t *testing.T) {
		svc := new(mockOrderService)
		h := handler.NewHTTPHandler(svc, zap.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		rec := httptest.NewRecorder()

		h.CreateOrder(rec, req)

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHTTPHandler_GetOrder(t *testing.T) {
	t.Run("existing order returns 200", func(t *testing.T) {
		svc := new(mockOrderService)
		expected := &domain.Order{ID: "order-1", Status: domain.OrderStatusCompleted}
		svc.On("GetOrder", mock.Anything, "order-1").Return(expected, nil)

		h := handler.NewHTTPHandler(svc, zap.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/orders/order-1", nil)
		rec := httptest.NewRecorder()

		h.GetOrder(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("missing order returns 404", func(t *testing.T) {
		svc := new(mockOrderService)
		svc.On("GetOrder", mock.Anything, "missing").Return(nil, assertAnError())

		h := handler.NewHTTPHandler(svc, zap.NewNop())

		req := httptest.NewRequest(http.MethodGet, "/orders/missing", nil)
		rec := httptest.NewRecorder()

		h.GetOrder(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func assertAnError() error {
	return context.DeadlineExceeded
}
