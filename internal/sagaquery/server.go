package sagaquery

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// SagaQueryServer는 한 메서드짜리 읽기 전용 introspection 서비스다.
// 요청/응답 메시지는 structpb.Struct로 둔다 — 필드 하나 추가할 때마다
// .proto를 고치고 재생성해야 하는 fragile한 손수 작성 생성 코드 대신,
// 이미 proto.Message를 구현하는 구조화된 타입을 그대로 와이어에
// 태운다.
type SagaQueryServer interface {
	GetSagaStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type sagaQueryServer struct {
	reader StatusReader
	logger *zap.Logger
}

// NewServer sagaquery gRPC 서버 구현 생성
func NewServer(reader StatusReader, logger *zap.Logger) SagaQueryServer {
	return &sagaQueryServer{reader: reader, logger: logger}
}

func (s *sagaQueryServer) GetSagaStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderIDVal, ok := req.GetFields()["orderId"]
	if !ok || orderIDVal.GetStringValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "orderId is required")
	}
	orderID := orderIDVal.GetStringValue()

	saga, err := s.reader.FindSagaStatus(ctx, orderID)
	if err != nil {
		s.logger.Error("failed to read saga status", zap.String("orderId", orderID), zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to read saga status")
	}
	if saga == nil {
		return nil, status.Error(codes.NotFound, "saga not found")
	}

	return structpb.NewStruct(map[string]interface{}{
		"orderId":        saga.OrderID,
		"userId":         saga.UserID,
		"itemId":         saga.ItemID,
		"quantity":       float64(saga.Quantity),
		"totalAmount":    float64(saga.TotalAmount),
		"discountAmount": float64(saga.DiscountAmount),
		"finalAmount":    float64(saga.FinalAmount),
		"userCouponId":   saga.UserCouponID,
		"status":         saga.Status,
		"failureReason":  saga.FailureReason,
		"createdAt":      saga.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		"updatedAt":      saga.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// RegisterSagaQueryServer는 손으로 작성한 grpc.ServiceDesc를 등록한다
// (protoc-gen-go-grpc 없이, 위 구조체 기반 메시지 계약에 맞춘 것이다).
func RegisterSagaQueryServer(s *grpc.Server, srv SagaQueryServer) {
	s.RegisterService(&sagaQueryServiceDesc, srv)
}

var sagaQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: "purchasesaga.SagaQuery",
	HandlerType: (*SagaQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetSagaStatus",
			Handler:    getSagaStatusHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sagaquery.proto",
}

func getSagaStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SagaQueryServer).GetSagaStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/purchasesaga.SagaQuery/GetSagaStatus",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SagaQueryServer).GetSagaStatus(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
