// Package dpi is a line-delimited-JSON TCP client for the DPI
// controller peer (spec.md §6). Grounded on tsaBE.py's
// sendToDPIController — dial, send one JSON object terminated by a
// newline, read one JSON object back, close; no retry, no persistent
// connection. The encode/decode-over-io.ReadWriteCloser shape follows
// digitalocean-go-openvswitch/ovsdb/internal/jsonrpc.Conn.
package dpi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/newtron-network/tsa/internal/metrics"
	"github.com/newtron-network/tsa/internal/util"
)

// maxResponseBytes bounds a single DPI controller response, matching
// tsaBE.py's recv(1024).
const maxResponseBytes = 1024

// Request is the envelope sent to the DPI controller.
type Request struct {
	Command   string      `json:"command"`
	Arguments interface{} `json:"arguments"`
}

// Response is the envelope the DPI controller returns.
type Response struct {
	ReturnValue string `json:"return value"`
	Data        string `json:"data"`
}

// Succeeded reports whether the DPI controller reported success.
func (r Response) Succeeded() bool {
	return r.ReturnValue == "success"
}

// Client dials the DPI controller fresh for every call.
type Client struct {
	addr    string
	timeout time.Duration
}

// New returns a Client that dials addr (host:port) with the given
// per-call timeout.
func New(addr string, timeout time.Duration) *Client {
	return &Client{addr: addr, timeout: timeout}
}

// Call sends req and returns the DPI controller's response. Each call
// opens a new connection and closes it before returning, exactly as
// tsaBE.py's sendToDPIController does — the DPI controller is treated
// as a single synchronous peer, never a connection pool.
func (c *Client) Call(ctx context.Context, req Request) (res Response, err error) {
	defer func() {
		metrics.ObserveDPICall(req.Command, err == nil && res.Succeeded())
	}()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return Response{}, util.NewDownstreamError("dpi-controller", req.Command, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else if c.timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("dpi: encoding request: %w", err)
	}
	payload = append(payload, '\n')

	if _, err := conn.Write(payload); err != nil {
		return Response{}, util.NewDownstreamError("dpi-controller", req.Command, err)
	}

	buf := make([]byte, maxResponseBytes)
	n, err := conn.Read(buf)
	if err != nil {
		return Response{}, util.NewDownstreamError("dpi-controller", req.Command, err)
	}

	if err := json.Unmarshal(buf[:n], &res); err != nil {
		return Response{}, fmt.Errorf("dpi: decoding response: %w", err)
	}

	util.WithField("command", req.Command).Debugf("dpi controller replied: %+v", res)
	return res, nil
}
