package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Fanin.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Fanin.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Fanin.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateBatch starts a batch over items.
func (c *Client) CreateBatch(req CreateBatchRequest) (*CreateBatchResponse, error) {
	var resp CreateBatchResponse
	if err := c.client.Call("Fanin.CreateBatch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Batch returns one batch, optionally with per-item detail.
func (c *Client) Batch(batchID string, items bool) (*BatchResponse, error) {
	var resp BatchResponse
	if err := c.client.Call("Fanin.Batch", BatchRequest{BatchID: batchID, Items: items}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchList returns batches optionally filtered by statuses.
func (c *Client) BatchList(statuses []string) (*BatchListResponse, error) {
	var resp BatchListResponse
	if err := c.client.Call("Fanin.BatchList", BatchListRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Await blocks until the batch finishes or timeout elapses.
func (c *Client) Await(batchID string, timeout time.Duration) (*AwaitResponse, error) {
	var resp AwaitResponse
	req := AwaitRequest{BatchID: batchID, TimeoutSeconds: timeout.Seconds()}
	if err := c.client.Call("Fanin.Await", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Signal delivers a completion signal.
func (c *Client) Signal(req SignalRequest) (*SignalResponse, error) {
	var resp SignalResponse
	if err := c.client.Call("Fanin.Signal", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkDone reports that the worker finished an item.
func (c *Client) WorkDone(req WorkDoneRequest) (*SignalResponse, error) {
	var resp SignalResponse
	if err := c.client.Call("Fanin.WorkDone", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Fanin.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
