package rpc

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/chazu/kairos/vm"
)

// ServiceName is the fully qualified name of the host call service.
const ServiceName = "kairos.rpc.v1.HostService"

// ProcedureCall is the path of the single unary procedure.
const ProcedureCall = "/" + ServiceName + "/Call"

// NewHandler returns the path and handler that serve reg over the Connect,
// gRPC and gRPC-Web protocols. Mount it on a mux; gRPC clients additionally
// need HTTP/2 (h2c on plaintext listeners).
func NewHandler(reg *Registry, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
	h := connect.NewUnaryHandler(
		ProcedureCall,
		func(ctx context.Context, req *connect.Request[CallRequest]) (*connect.Response[CallResponse], error) {
			log.Debugf("call %s (%d args) via %s", req.Msg.Target, len(req.Msg.Args), req.Peer().Protocol)
			resp := reg.Dispatch(ctx, *req.Msg)
			return connect.NewResponse(&resp), nil
		},
		opts...,
	)
	return ProcedureCall, h
}

// ConnectBridge sends calls to a remote HostService over the Connect
// protocol.
type ConnectBridge struct {
	client *connect.Client[CallRequest, CallResponse]
}

// NewConnectBridge creates a bridge to the service at baseURL
// (e.g. "http://localhost:7070").
func NewConnectBridge(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ConnectBridge {
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &ConnectBridge{
		client: connect.NewClient[CallRequest, CallResponse](
			httpClient,
			strings.TrimRight(baseURL, "/")+ProcedureCall,
			opts...,
		),
	}
}

// Invoke implements vm.Bridge.
func (b *ConnectBridge) Invoke(ctx context.Context, target string, args []vm.Value) (vm.Value, error) {
	req, err := NewCallRequest(target, args)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, unreachable(ctx, req.Target, err)
	}
	return resp.Msg.Result()
}
