package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "recordbase.v1.RecordService"

	ConnectMethod = "/" + ServiceName + "/Connect"
	MergeMethod   = "/" + ServiceName + "/Merge"
	GetMethod     = "/" + ServiceName + "/Get"
)

// Metadata keys
const (
	AuthorizationHeader = "authorization"
	SessionHeader       = "x-recordbase-session"
	RequestIDHeader     = "x-request-id"
)

// RecordServiceServer is the server API for RecordService
type RecordServiceServer interface {
	Connect(context.Context, *ConnectRequest) (*ConnectResponse, error)
	Merge(context.Context, *MergeRequest) (*RecordResponse, error)
	Get(context.Context, *GetRequest) (*RecordResponse, error)
}

// UnimplementedRecordServiceServer can be embedded to satisfy the interface
type UnimplementedRecordServiceServer struct{}

func (UnimplementedRecordServiceServer) Connect(context.Context, *ConnectRequest) (*ConnectResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Connect not implemented")
}

func (UnimplementedRecordServiceServer) Merge(context.Context, *MergeRequest) (*RecordResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Merge not implemented")
}

func (UnimplementedRecordServiceServer) Get(context.Context, *GetRequest) (*RecordResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}

// RegisterRecordServiceServer registers srv on s
func RegisterRecordServiceServer(s grpc.ServiceRegistrar, srv RecordServiceServer) {
	s.RegisterService(&RecordServiceDesc, srv)
}

func connectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ConnectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecordServiceServer).Connect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ConnectMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RecordServiceServer).Connect(ctx, req.(*ConnectRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func mergeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(MergeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecordServiceServer).Merge(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MergeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RecordServiceServer).Merge(ctx, req.(*MergeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecordServiceServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RecordServiceServer).Get(ctx, req.(*GetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RecordServiceDesc describes RecordService for grpc.Server
var RecordServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RecordServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Connect", Handler: connectHandler},
		{MethodName: "Merge", Handler: mergeHandler},
		{MethodName: "Get", Handler: getHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "recordbase/v1/record_service.proto",
}

// RecordServiceClient is the client API for RecordService
type RecordServiceClient interface {
	Connect(ctx context.Context, in *ConnectRequest, opts ...grpc.CallOption) (*ConnectResponse, error)
	Merge(ctx context.Context, in *MergeRequest, opts ...grpc.CallOption) (*RecordResponse, error)
	Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*RecordResponse, error)
}

type recordServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRecordServiceClient creates a client stub. Every call forces the wire codec.
func NewRecordServiceClient(cc grpc.ClientConnInterface) RecordServiceClient {
	return &recordServiceClient{cc: cc}
}

func (c *recordServiceClient) Connect(ctx context.Context, in *ConnectRequest, opts ...grpc.CallOption) (*ConnectResponse, error) {
	out := new(ConnectResponse)
	if err := c.cc.Invoke(ctx, ConnectMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *recordServiceClient) Merge(ctx context.Context, in *MergeRequest, opts ...grpc.CallOption) (*RecordResponse, error) {
	out := new(RecordResponse)
	if err := c.cc.Invoke(ctx, MergeMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *recordServiceClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*RecordResponse, error) {
	out := new(RecordResponse)
	if err := c.cc.Invoke(ctx, GetMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
}
