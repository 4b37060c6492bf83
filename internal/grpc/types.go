package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified name of the experiment results service.
	ServiceName = "chicken.export.v1.ExperimentSink"
	// SubmitMethod is the full RPC path used by clients to submit a document.
	SubmitMethod = "/" + ServiceName + "/Submit"
)

// ExperimentSinkServer accepts finished experiment documents encoded as protobuf Structs.
// The reply carries the identifier the collector stored the submission under.
type ExperimentSinkServer interface {
	Submit(ctx context.Context, document *structpb.Struct) (*structpb.Struct, error)
}

// RegisterExperimentSinkServer attaches the sink implementation to a gRPC server.
func RegisterExperimentSinkServer(registrar grpc.ServiceRegistrar, server ExperimentSinkServer) {
	registrar.RegisterService(&ExperimentSinkServiceDesc, server)
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExperimentSinkServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExperimentSinkServer).Submit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ExperimentSinkServiceDesc describes the unary results service without generated stubs.
var ExperimentSinkServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExperimentSinkServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chicken/export/v1/sink.proto",
}
