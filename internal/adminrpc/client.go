package adminrpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls a remote AdminService, dialed over the forced JSON codec so
// it can talk to Server without any generated stub.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the admin gRPC service at addr, instrumented the same
// way discovery.ServiceConnection instruments every other inter-service
// call in this system: an otelgrpc stats handler so a trace started at the
// retailer-facing edge carries through into cmd/admin.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("adminrpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	fullMethod := "/" + ServiceName + "/" + method
	if err := c.conn.Invoke(ctx, fullMethod, req, resp); err != nil {
		return fmt.Errorf("adminrpc: %s: %w", method, err)
	}
	return nil
}

func (c *Client) ListEscalated(ctx context.Context) (*ListEscalatedResponse, error) {
	resp := new(ListEscalatedResponse)
	if err := c.invoke(ctx, "ListEscalated", &ListEscalatedRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetVendorSnapshot(ctx context.Context, vendorID string) (*VendorSnapshotResponse, error) {
	resp := new(VendorSnapshotResponse)
	if err := c.invoke(ctx, "GetVendorSnapshot", &VendorSnapshotRequest{VendorID: vendorID}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) RecomputeVendorScore(ctx context.Context, vendorID string) (*VendorSnapshotResponse, error) {
	resp := new(VendorSnapshotResponse)
	if err := c.invoke(ctx, "RecomputeVendorScore", &VendorSnapshotRequest{VendorID: vendorID}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Requeue(ctx context.Context, itemID string) (*RequeueResponse, error) {
	resp := new(RequeueResponse)
	if err := c.invoke(ctx, "Requeue", &RequeueRequest{ItemID: itemID}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
