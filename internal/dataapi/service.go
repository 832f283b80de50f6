package dataapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name. Requests and
// responses are google.protobuf.Struct documents, so SDKs need no generated
// stubs beyond the well-known types.
const ServiceName = "engage.v1.DataPlane"

// Full method names, as seen by interceptors and metrics.
const (
	MethodCreateSession      = "/" + ServiceName + "/CreateSession"
	MethodEngageEvent        = "/" + ServiceName + "/EngageEvent"
	MethodCanShowInteraction = "/" + ServiceName + "/CanShowInteraction"
	MethodGetInteraction     = "/" + ServiceName + "/GetInteraction"
	MethodUpdateContext      = "/" + ServiceName + "/UpdateContext"
	MethodGetState           = "/" + ServiceName + "/GetState"
	MethodResetState         = "/" + ServiceName + "/ResetState"
	MethodDeleteSession      = "/" + ServiceName + "/DeleteSession"
)

// DataPlaneServer is the server side of engage.v1.DataPlane.
type DataPlaneServer interface {
	CreateSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EngageEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CanShowInteraction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetInteraction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateContext(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResetState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(DataPlaneServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DataPlaneServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DataPlaneServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes engage.v1.DataPlane for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DataPlaneServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSession", Handler: unaryHandler(MethodCreateSession, DataPlaneServer.CreateSession)},
		{MethodName: "EngageEvent", Handler: unaryHandler(MethodEngageEvent, DataPlaneServer.EngageEvent)},
		{MethodName: "CanShowInteraction", Handler: unaryHandler(MethodCanShowInteraction, DataPlaneServer.CanShowInteraction)},
		{MethodName: "GetInteraction", Handler: unaryHandler(MethodGetInteraction, DataPlaneServer.GetInteraction)},
		{MethodName: "UpdateContext", Handler: unaryHandler(MethodUpdateContext, DataPlaneServer.UpdateContext)},
		{MethodName: "GetState", Handler: unaryHandler(MethodGetState, DataPlaneServer.GetState)},
		{MethodName: "ResetState", Handler: unaryHandler(MethodResetState, DataPlaneServer.ResetState)},
		{MethodName: "DeleteSession", Handler: unaryHandler(MethodDeleteSession, DataPlaneServer.DeleteSession)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "engage/v1/data_plane.proto",
}

// RegisterDataPlaneServer attaches srv to s.
func RegisterDataPlaneServer(s grpc.ServiceRegistrar, srv DataPlaneServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client is a thin client for engage.v1.DataPlane.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes fullMethod, one of the Method constants, with a Struct request.
func (c *Client) Call(ctx context.Context, fullMethod string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CallMap builds the request from a plain map. Values must be representable
// by structpb.NewStruct.
func (c *Client) CallMap(ctx context.Context, fullMethod string, in map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out, err := c.Call(ctx, fullMethod, req, opts...)
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
