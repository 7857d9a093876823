package rpc

import (
	"context"
	"fmt"

	"github.com/chazu/kairos/vm"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GRPCBridge sends calls to a remote HostService over gRPC, using the CBOR
// codec in place of protobuf.
type GRPCBridge struct {
	conn *grpc.ClientConn
}

// DialGRPC creates a bridge to the service at target ("host:port"). The
// connection is plaintext unless opts supply credentials.
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPCBridge, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", target, err)
	}
	return &GRPCBridge{conn: conn}, nil
}

// Invoke implements vm.Bridge.
func (b *GRPCBridge) Invoke(ctx context.Context, target string, args []vm.Value) (vm.Value, error) {
	req, err := NewCallRequest(target, args)
	if err != nil {
		return nil, err
	}
	var resp CallResponse
	if err := b.conn.Invoke(ctx, ProcedureCall, &req, &resp, grpc.ForceCodec(Codec{})); err != nil {
		return nil, unreachable(ctx, req.Target, err)
	}
	return resp.Result()
}

// Close tears down the connection.
func (b *GRPCBridge) Close() error {
	return b.conn.Close()
}
