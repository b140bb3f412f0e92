package handler

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/inventory/internal/core/domain"
	"github.com/rl1809/inventory/internal/core/service"
	"github.com/rl1809/inventory/internal/metrics"
)

const inventoryServiceName = "inventory.v1.InventoryService"

// InventoryServer is the gRPC surface. Messages are google.protobuf.Struct
// so clients need no generated stubs:
//
//	GetItem        {id}                    -> item fields
//	AdjustQuantity {id, delta}             -> {success, qty} | {success:false, error}
//	Buy            {lines: [{id, qty}]}    -> {success, total_price} | {success:false, error, item_id}
type InventoryServer interface {
	GetItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	AdjustQuantity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Buy(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var InventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: inventoryServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetItem", Handler: unaryHandler("GetItem", InventoryServer.GetItem)},
		{MethodName: "AdjustQuantity", Handler: unaryHandler("AdjustQuantity", InventoryServer.AdjustQuantity)},
		{MethodName: "Buy", Handler: unaryHandler("Buy", InventoryServer.Buy)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventory/v1/inventory.proto",
}

func RegisterInventoryServer(s grpc.ServiceRegistrar, srv InventoryServer) {
	s.RegisterService(&InventoryServiceDesc, srv)
}

func unaryHandler(method string, call func(InventoryServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + inventoryServiceName + "/" + method

	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InventoryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(InventoryServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type GRPCHandler struct {
	ledger   *service.Ledger
	purchase *service.PurchaseService
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewGRPCHandler(ledger *service.Ledger, purchase *service.PurchaseService, m *metrics.Metrics, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{ledger: ledger, purchase: purchase, metrics: m, logger: logger}
}

func (h *GRPCHandler) GetItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	item, err := h.ledger.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "Item not found")
		}
		return nil, grpcError(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"id":          item.ID,
		"name":        item.Name,
		"variant":     item.Variant,
		"sku":         item.SKU,
		"qty":         item.Qty,
		"description": item.Description,
		"price":       item.Price.InexactFloat64(),
		"version":     item.Version,
	})
}

func (h *GRPCHandler) AdjustQuantity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	id := fields["id"].GetStringValue()
	delta, ok := wholeNumber(fields["delta"])
	if id == "" || !ok {
		return nil, status.Error(codes.InvalidArgument, "id and an integral delta are required")
	}

	adj, err := h.ledger.AdjustQuantity(ctx, id, delta)
	if err != nil {
		if domain.IsBusinessFailure(err) {
			_, message := statusFor(err)
			return failure(message, id)
		}
		return nil, grpcError(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"success": true,
		"qty":     adj.NewQty,
	})
}

func (h *GRPCHandler) Buy(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	values := req.GetFields()["lines"].GetListValue().GetValues()
	lines := make([]domain.PurchaseLine, 0, len(values))
	for _, v := range values {
		line := v.GetStructValue().GetFields()
		qty, ok := wholeNumber(line["qty"])
		if !ok {
			return nil, status.Error(codes.InvalidArgument, "qty must be an integer")
		}
		lines = append(lines, domain.PurchaseLine{ItemID: line["id"].GetStringValue(), Qty: qty})
	}

	requestID := req.GetFields()["request_id"].GetStringValue()
	result, err := h.purchase.BuyOnce(ctx, requestID, lines)
	if err != nil {
		return nil, grpcError(err)
	}

	if !result.Success {
		_, message := statusFor(result.Err)
		return failure(message, result.FailedItemID)
	}

	return structpb.NewStruct(map[string]interface{}{
		"success":     true,
		"total_price": result.TotalPrice.InexactFloat64(),
	})
}

// UnaryInterceptor counts and logs every call.
func (h *GRPCHandler) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)

		code := status.Code(err)
		h.metrics.GRPCRequestsTotal.WithLabelValues(info.FullMethod, code.String()).Inc()
		if code != codes.OK {
			h.logger.Warn("gRPC request failed",
				zap.String("method", info.FullMethod),
				zap.String("code", code.String()),
				zap.Error(err),
			)
		}
		return resp, err
	}
}

func failure(message, itemID string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"success": false,
		"error":   message,
		"item_id": itemID,
	})
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidPurchaseLine), errors.Is(err, domain.ErrInvalidItem):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, "duplicate request")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, "inventory store unavailable, retry later")
	case errors.Is(err, domain.ErrWriteConflict):
		return status.Error(codes.Aborted, "item was modified concurrently")
	}
	return status.Error(codes.Internal, "internal error")
}

func wholeNumber(v *structpb.Value) (int, bool) {
	if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
		return 0, false
	}
	n := v.GetNumberValue()
	if n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}
