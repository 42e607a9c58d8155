package adminapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Introspector supplies the state an admin client can ask a node for.
// Every method exchanges a structpb.Struct rather than a generated
// message type, so the service needs no protoc step: structpb.Struct
// already implements proto.Message and marshals any JSON-shaped value.
type Introspector interface {
	Routes(ctx context.Context) (*structpb.Struct, error)
	Registry(ctx context.Context) (*structpb.Struct, error)
	RaftStatus(ctx context.Context) (*structpb.Struct, error)
}

func unaryHandler(call func(Introspector, context.Context) (*structpb.Struct, error), fullMethod string) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		introspector := srv.(Introspector)
		if interceptor == nil {
			return call(introspector, ctx)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, _ interface{}) (interface{}, error) {
			return call(introspector, ctx)
		}
		return interceptor(ctx, in, info, handler)
	}
}

// adminServiceDesc describes the cell.admin.v1.Admin service by hand,
// standing in for what protoc-gen-go-grpc would otherwise generate from
// a .proto file.
var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: "cell.admin.v1.Admin",
	HandlerType: (*Introspector)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Routes",
			Handler: unaryHandler(func(i Introspector, ctx context.Context) (*structpb.Struct, error) {
				return i.Routes(ctx)
			}, "/cell.admin.v1.Admin/Routes"),
		},
		{
			MethodName: "Registry",
			Handler: unaryHandler(func(i Introspector, ctx context.Context) (*structpb.Struct, error) {
				return i.Registry(ctx)
			}, "/cell.admin.v1.Admin/Registry"),
		},
		{
			MethodName: "RaftStatus",
			Handler: unaryHandler(func(i Introspector, ctx context.Context) (*structpb.Struct, error) {
				return i.RaftStatus(ctx)
			}, "/cell.admin.v1.Admin/RaftStatus"),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cell/admin.proto",
}

// RegisterAdminServer registers srv as the cell.admin.v1.Admin service.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv Introspector) {
	s.RegisterService(&adminServiceDesc, srv)
}
