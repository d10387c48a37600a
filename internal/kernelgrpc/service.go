// Package kernelgrpc exposes kernel launching over a gRPC unix socket so a
// single gateway process can own kernels for many clients.
package kernelgrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName   = "kernelx.gateway.v1.KernelGateway"
	methodPing    = "/" + serviceName + "/Ping"
	methodKill    = "/" + serviceName + "/Kill"
	methodChannel = "/" + serviceName + "/Channel"
)

// GatewayServer is the server side of the kernel gateway service.
//
// Channel is a bidirectional stream of protocol messages encoded as
// google.protobuf.Struct. The first client frame is a hello carrying
// kernel_name, working_dir and session_id; the server answers with a frame
// holding kernel_id before relaying kernel traffic.
type GatewayServer interface {
	Ping(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Kill(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Channel(grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GatewayServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPing}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GatewayServer).Ping(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func killHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GatewayServer).Kill(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodKill}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GatewayServer).Kill(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func channelHandler(srv any, stream grpc.ServerStream) error {
	return srv.(GatewayServer).Channel(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: pingHandler},
		{MethodName: "Kill", Handler: killHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       channelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "kernelx/gateway/v1/gateway.proto",
}

// RegisterGatewayServer registers srv on s.
func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&serviceDesc, srv)
}
