package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "speedscope.v1.MeasurementService"

// SubmitMethod is the full method name of MeasurementService.Submit.
const SubmitMethod = "/" + ServiceName + "/Submit"

// MeasurementServiceClient is the client API for MeasurementService.
type MeasurementServiceClient interface {
	Submit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type measurementServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewMeasurementServiceClient returns a client bound to cc.
func NewMeasurementServiceClient(cc grpc.ClientConnInterface) MeasurementServiceClient {
	return &measurementServiceClient{cc: cc}
}

func (c *measurementServiceClient) Submit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SubmitMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// MeasurementServiceServer is the server API for MeasurementService.
type MeasurementServiceServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedMeasurementServiceServer can be embedded for forward
// compatibility.
type UnimplementedMeasurementServiceServer struct{}

func (UnimplementedMeasurementServiceServer) Submit(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Submit not implemented")
}

// RegisterMeasurementServiceServer registers srv on s.
func RegisterMeasurementServiceServer(s grpc.ServiceRegistrar, srv MeasurementServiceServer) {
	s.RegisterService(&MeasurementServiceDesc, srv)
}

func submitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeasurementServiceServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SubmitMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MeasurementServiceServer).Submit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// MeasurementServiceDesc is the grpc.ServiceDesc for MeasurementService.
var MeasurementServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MeasurementServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler:    submitHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "speedscope/v1/measurement.proto",
}
