package wire

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/feed"
)

const (
	ServiceName   = "fleetwatch.v1.Telemetry"
	PublishMethod = "/" + ServiceName + "/Publish"
	WatchMethod   = "/" + ServiceName + "/Watch"

	// APIKeyMetadata carries the ingest key on Publish calls.
	APIKeyMetadata = "x-api-key"
	// AuthorizationMetadata carries "Bearer <jwt>" on Watch calls.
	AuthorizationMetadata = "authorization"
)

// WithBearerToken attaches a dashboard token for Watch.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, AuthorizationMetadata, "Bearer "+token)
}

// TelemetryServer is implemented by the server package.
type TelemetryServer interface {
	Publish(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Watch(req *structpb.Struct, stream grpc.ServerStream) error
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "fleetwatch/v1/telemetry.proto",
}

func RegisterTelemetryServer(s grpc.ServiceRegistrar, srv TelemetryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PublishMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TelemetryServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TelemetryServer).Watch(in, stream)
}

// Publish sends one event and returns the ID the server assigned.
func Publish(ctx context.Context, cc grpc.ClientConnInterface, ev events.Event, opts ...grpc.CallOption) (int64, error) {
	in, err := ToStruct(ev)
	if err != nil {
		return 0, err
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, PublishMethod, in, out, opts...); err != nil {
		return 0, err
	}
	var reply PublishReply
	if err := FromStruct(out, &reply); err != nil {
		return 0, err
	}
	return reply.ID, nil
}

// WatchStream is the client side of Watch.
type WatchStream struct {
	stream grpc.ClientStream
}

// Watch opens a live feed on the server.
func Watch(ctx context.Context, cc grpc.ClientConnInterface, req WatchRequest, opts ...grpc.CallOption) (*WatchStream, error) {
	in, err := ToStruct(req)
	if err != nil {
		return nil, err
	}
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], WatchMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{stream: stream}, nil
}

// Recv returns the next delivery, or io.EOF once the server ends the stream.
func (w *WatchStream) Recv() (feed.Delivery, error) {
	msg := new(structpb.Struct)
	if err := w.stream.RecvMsg(msg); err != nil {
		if errors.Is(err, io.EOF) {
			return feed.Delivery{}, io.EOF
		}
		return feed.Delivery{}, err
	}
	var d feed.Delivery
	if err := FromStruct(msg, &d); err != nil {
		return feed.Delivery{}, err
	}
	return d, nil
}
