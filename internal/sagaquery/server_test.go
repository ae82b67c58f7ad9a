package sagaquery_test

import (
	"context"
	"testing"
	"time"

	"github.com/kyungseok/purchase-saga/internal/sagaquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type mockStatusReader struct {
	mock.Mock
}

func (m *mockStatusReader) FindSagaStatus(ctx context.Context, orderID string) (*sagaquery.SagaStatus, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sagaquery.SagaStatus), args.Error(1)
}

func mustRequest(t *testing.T, orderID string) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(map[string]interface{}{"orderId": orderID})
	require.NoError(t, err)
	return req
}

func TestGetSagaStatus(t *testing.T) {
	t.Run("missing orderId is rejected", func(t *testing.T) {
		reader := new(mockStatusReader)
		srv := sagaquery.NewServer(reader, zap.NewNop())

		_, err := srv.GetSagaStatus(context.Background(), &structpb.Struct{})
		require.Error(t, err)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("unknown order returns not found", func(t *testing.T) {
		reader := new(mockStatusReader)
		reader.On("FindSagaStatus", mock.Anything, "missing").Return(nil, nil)
		srv := sagaquery.NewServer(reader, zap.NewNop())

		_, err := srv.GetSagaStatus(context.Background(), mustRequest(t, "missing"))
		require.Error(t, err)
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("known order returns status fields", func(t *testing.T) {
		reader := new(mockStatusReader)
		now := time.Now()
		reader.On("FindSagaStatus", mock.Anything, "order-1").Return(&sagaquery.SagaStatus{
			OrderID:     "order-1",
			UserID:      "u1",
			ItemID:      "i1",
			Quantity:    2,
			TotalAmount: 10000,
			FinalAmount: 9000,
			Status:      "COMPLETED",
			CreatedAt:   now,
			UpdatedAt:   now,
		}, nil)
		srv := sagaquery.NewServer(reader, zap.NewNop())

		resp, err := srv.GetSagaStatus(context.Background(), mustRequest(t, "order-1"))
		require.NoError(t, err)
		fields := resp.GetFields()
		assert.Equal(t, "order-1", fields["orderId"].GetStringValue())
		assert.Equal(t, "COMPLETED", fields["status"].GetStringValue())
		assert.Equal(t, float64(9000), fields["finalAmount"].GetNumberValue())
	})
}
