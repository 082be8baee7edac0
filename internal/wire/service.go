package wire

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name under which
// the Connect stream is registered, mirroring the teacher's
// "pb.AgentHub" naming convention adapted to this repo's module path.
const ServiceName = "openagents.network.AgentLink"

// AgentLinkServer is implemented by the streaming transport; each
// accepted connection gets its own Connect call for the lifetime of
// the agent's session.
type AgentLinkServer interface {
	Connect(stream AgentLink_ConnectServer) error
}

// AgentLink_ConnectServer is the server-side handle on one agent's
// bidirectional Envelope stream.
type AgentLink_ConnectServer interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ServerStream
}

type agentLinkConnectServer struct {
	grpc.ServerStream
}

func (x *agentLinkConnectServer) Send(m *Envelope) error { return x.ServerStream.SendMsg(m) }

func (x *agentLinkConnectServer) Recv() (*Envelope, error) {
	m := new(Envelope)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(AgentLinkServer).Connect(&agentLinkConnectServer{ServerStream: stream})
}

// ServiceDesc is registered with grpc.Server.RegisterService in place
// of a protoc-generated _ServiceDesc, since no .proto for this
// service was checked into the retrieved pack.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AgentLinkServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "internal/wire/agentlink.go",
}

// AgentLinkClient dials the Connect stream from an agent process.
type AgentLinkClient interface {
	Connect(ctx context.Context, opts ...grpc.CallOption) (AgentLink_ConnectClient, error)
}

type agentLinkClient struct {
	cc grpc.ClientConnInterface
}

// NewAgentLinkClient wraps an established grpc.ClientConn.
func NewAgentLinkClient(cc grpc.ClientConnInterface) AgentLinkClient {
	return &agentLinkClient{cc: cc}
}

func (c *agentLinkClient) Connect(ctx context.Context, opts ...grpc.CallOption) (AgentLink_ConnectClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/Connect", opts...)
	if err != nil {
		return nil, err
	}
	return &agentLinkConnectClient{stream}, nil
}

// AgentLink_ConnectClient is the client-side handle on the stream.
type AgentLink_ConnectClient interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ClientStream
}

type agentLinkConnectClient struct {
	grpc.ClientStream
}

func (x *agentLinkConnectClient) Send(m *Envelope) error { return x.ClientStream.SendMsg(m) }

func (x *agentLinkConnectClient) Recv() (*Envelope, error) {
	m := new(Envelope)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
