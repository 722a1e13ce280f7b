package ipc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service exposing the index.
const ServiceName = "seeks.lsh.Index"

// Method names.
const (
	MethodAdd      = "Add"
	MethodRemove   = "Remove"
	MethodQuery    = "Query"
	MethodStats    = "Stats"
	MethodDistance = "Distance"
)

// IndexServer is the server API of the index service. Requests and
// responses are generic structs keyed by snake_case field names.
type IndexServer interface {
	Add(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Remove(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Distance(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(IndexServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler(method string, call unaryCall) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IndexServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(IndexServer), ctx, req.(*structpb.Struct))
		})
	}
}

var indexServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IndexServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodAdd, Handler: unaryHandler(MethodAdd, IndexServer.Add)},
		{MethodName: MethodRemove, Handler: unaryHandler(MethodRemove, IndexServer.Remove)},
		{MethodName: MethodQuery, Handler: unaryHandler(MethodQuery, IndexServer.Query)},
		{MethodName: MethodStats, Handler: unaryHandler(MethodStats, IndexServer.Stats)},
		{MethodName: MethodDistance, Handler: unaryHandler(MethodDistance, IndexServer.Distance)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "seeks/lsh/index",
}

// RegisterIndexServer registers srv on s.
func RegisterIndexServer(s grpc.ServiceRegistrar, srv IndexServer) {
	s.RegisterService(&indexServiceDesc, srv)
}
