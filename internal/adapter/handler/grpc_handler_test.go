package handler

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const bufSize = 1024 * 1024

func newGRPCClient(t *testing.T, f *fixture) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	h := NewGRPCHandler(f.ledger, f.purchase, f.metrics, zap.NewNop())
	server := grpc.NewServer(grpc.UnaryInterceptor(h.UnaryInterceptor()))
	RegisterInventoryServer(server, h)

	go server.Serve(lis)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, req map[string]interface{}) (*structpb.Struct, error) {
	t.Helper()

	in, err := structpb.NewStruct(req)
	require.NoError(t, err)

	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), "/"+inventoryServiceName+"/"+method, in, out)
	return out, err
}

func TestGRPC_GetItem(t *testing.T) {
	f := newFixture(t, nil)
	conn := newGRPCClient(t, f)
	id := f.seed(t, "Shirt", 4, "19.99")

	resp, err := invoke(t, conn, "GetItem", map[string]interface{}{"id": id})
	require.NoError(t, err)

	fields := resp.GetFields()
	assert.Equal(t, id, fields["id"].GetStringValue())
	assert.Equal(t, "Shirt", fields["name"].GetStringValue())
	assert.Equal(t, 4.0, fields["qty"].GetNumberValue())
	assert.Equal(t, 19.99, fields["price"].GetNumberValue())

	_, err = invoke(t, conn, "GetItem", map[string]interface{}{"id": "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = invoke(t, conn, "GetItem", map[string]interface{}{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_AdjustQuantity(t *testing.T) {
	f := newFixture(t, nil)
	conn := newGRPCClient(t, f)
	id := f.seed(t, "Shirt", 2, "10")

	resp, err := invoke(t, conn, "AdjustQuantity", map[string]interface{}{"id": id, "delta": -2})
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["success"].GetBoolValue())
	assert.Equal(t, 0.0, resp.GetFields()["qty"].GetNumberValue())

	resp, err = invoke(t, conn, "AdjustQuantity", map[string]interface{}{"id": id, "delta": -1})
	require.NoError(t, err)
	assert.False(t, resp.GetFields()["success"].GetBoolValue())
	assert.Equal(t, "Not enough inventory. Only 0 items left for Shirt", resp.GetFields()["error"].GetStringValue())
	assert.Equal(t, 0, f.qty(t, id))

	_, err = invoke(t, conn, "AdjustQuantity", map[string]interface{}{"id": id, "delta": 1.5})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(t, conn, "AdjustQuantity", map[string]interface{}{"id": id, "delta": "1"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_Buy(t *testing.T) {
	f := newFixture(t, nil)
	conn := newGRPCClient(t, f)
	a := f.seed(t, "Shirt", 5, "15")
	b := f.seed(t, "Hat", 0, "5")

	resp, err := invoke(t, conn, "Buy", map[string]interface{}{
		"lines": []interface{}{
			map[string]interface{}{"id": a, "qty": 2},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["success"].GetBoolValue())
	assert.Equal(t, 30.0, resp.GetFields()["total_price"].GetNumberValue())
	assert.Equal(t, 3, f.qty(t, a))

	resp, err = invoke(t, conn, "Buy", map[string]interface{}{
		"lines": []interface{}{
			map[string]interface{}{"id": b, "qty": 1},
		},
	})
	require.NoError(t, err)
	assert.False(t, resp.GetFields()["success"].GetBoolValue())
	assert.Equal(t, b, resp.GetFields()["item_id"].GetStringValue())

	_, err = invoke(t, conn, "Buy", map[string]interface{}{
		"lines": []interface{}{
			map[string]interface{}{"id": a, "qty": 0},
		},
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, 3, f.qty(t, a))
}

func TestGRPC_BuyDuplicateRequest(t *testing.T) {
	f := newFixture(t, &claims{keys: make(map[string]bool)})
	conn := newGRPCClient(t, f)
	a := f.seed(t, "Shirt", 5, "15")

	req := map[string]interface{}{
		"request_id": "order-7",
		"lines": []interface{}{
			map[string]interface{}{"id": a, "qty": 1},
		},
	}

	_, err := invoke(t, conn, "Buy", req)
	require.NoError(t, err)

	_, err = invoke(t, conn, "Buy", req)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
	assert.Equal(t, 4, f.qty(t, a))
}

func TestGRPC_RequestsAreCounted(t *testing.T) {
	f := newFixture(t, nil)
	conn := newGRPCClient(t, f)

	_, err := invoke(t, conn, "GetItem", map[string]interface{}{"id": "missing"})
	require.Error(t, err)

	method := "/" + inventoryServiceName + "/GetItem"
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GRPCRequestsTotal.WithLabelValues(method, codes.NotFound.String())))
}

func TestGRPCError(t *testing.T) {
	assert.Equal(t, codes.Canceled, status.Code(grpcError(context.Canceled)))
	assert.Equal(t, codes.Internal, status.Code(grpcError(assert.AnError)))
}
