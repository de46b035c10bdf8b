package remote

import (
	"context"
	"fmt"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/san-kum/cadsim/internal/bundle"
	"github.com/san-kum/cadsim/internal/dynamo"
)

// Client sends bundles to one worker. It implements bundle.Runner.
type Client struct {
	addr  string
	token string
	conn  *grpc.ClientConn
	calls atomic.Int64
}

func Dial(addr, token string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial worker %s: %w", addr, err)
	}
	return &Client{addr: addr, token: token, conn: conn}, nil
}

func (c *Client) Addr() string { return c.addr }

// RunBundle executes payload on the worker. Failures are reported as
// *dynamo.TransportError.
func (c *Client) RunBundle(ctx context.Context, payload []byte, params bundle.RemoteParams) ([]byte, error) {
	task := fmt.Sprintf("%s#%d", c.addr, c.calls.Add(1))
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}

	req := &ExecuteRequest{Task: task, Bundle: payload, Params: params}
	resp := dynamicpb.NewMessage(responseType)
	if err := c.conn.Invoke(ctx, executeMethod, req.toProto(), resp); err != nil {
		return nil, &dynamo.TransportError{Provider: c.addr, Task: task, Err: err}
	}
	return responseFromProto(resp).Outcomes, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
