package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kyungseok/purchase-saga/services/order/internal/service"
	"go.uber.org/zap"
)

// HTTPHandler는 주문 생성/조회용 외부 진입점이다. 사가 자체는 이 뒤에서
// 이벤트로 전개되며, 이 핸들러는 최초 커맨드만 동기적으로 받는다.
type HTTPHandler struct {
	orderService service.OrderService
	logger       *zap.Logger
}

// NewHTTPHandler HTTP 핸들러 생성
func NewHTTPHandler(orderService service.OrderService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{orderService: orderService, logger: logger}
}

// CreateOrderRequest 주문 생성 요청
type CreateOrderRequest struct {
	UserID         string  `json:"userId"`
	ItemID         string  `json:"itemId"`
	Quantity       int     `json:"quantity"`
	UserCouponID   *string `json:"userCouponId,omitempty"`
	IdempotencyKey string  `json:"idempotencyKey,omitempty"`
}

// ErrorResponse 에러 응답
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	cmd := service.CreateOrderCommand{
		UserID:         req.UserID,
		ItemID:         req.ItemID,
		Quantity:       req.Quantity,
		UserCouponID:   req.UserCouponID,
		IdempotencyKey: req.IdempotencyKey,
	}

	order, err := h.orderService.CreateOrder(r.Context(), cmd)
	if err != nil {
		h.logger.Error("failed to create order", zap.Error(err))
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, order)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	orderID := strings.TrimPrefix(r.URL.Path, "/orders/")
	if orderID == "" {
		h.respondError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.orderService.GetOrder(r.Context(), orderID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "order not found")
		return
	}

	h.respondJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *HTTPHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{Error: message})
}
