package grpcstream

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/wire"
)

// Client is a minimal agent-side handle on the Connect stream; no test
// or program in this module calls Dial. A full
// agent SDK is out of scope (spec.md Non-goals); this exists so the
// transport's wire protocol is exercised from both ends.
type Client struct {
	conn   *grpc.ClientConn
	stream wire.AgentLink_ConnectClient
}

// Dial connects to addr and sends the initial registration envelope.
func Dial(ctx context.Context, addr, agentID string, capabilities, subscriptions []string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wire.Codec)),
	)
	if err != nil {
		return nil, fmt.Errorf("grpcstream: dial %s: %w", addr, err)
	}

	link := wire.NewAgentLinkClient(conn)
	stream, err := link.Connect(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := stream.Send(&wire.Envelope{
		Kind:          wire.KindRegister,
		AgentID:       agentID,
		Capabilities:  capabilities,
		Subscriptions: subscriptions,
	}); err != nil {
		conn.Close()
		return nil, err
	}
	ack, err := stream.Recv()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if ack.Kind != wire.KindAck {
		conn.Close()
		return nil, fmt.Errorf("grpcstream: registration rejected: %s", ack.ErrorMessage)
	}
	return &Client{conn: conn, stream: stream}, nil
}

// Send publishes an event to the network.
func (c *Client) Send(e *event.Event) error {
	return c.stream.Send(&wire.Envelope{Kind: wire.KindEvent, Event: e})
}

// Heartbeat sends a liveness envelope.
func (c *Client) Heartbeat() error {
	return c.stream.Send(&wire.Envelope{Kind: wire.KindHeartbeat})
}

// Recv blocks for the next inbound envelope from the network.
func (c *Client) Recv() (*wire.Envelope, error) {
	return c.stream.Recv()
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
