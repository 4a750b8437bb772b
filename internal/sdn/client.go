// Package sdn is a REST client for the OpenFlow SDN controller: topology
// snapshots, flow-table inspection, and flow-entry add/delete. Grounded
// on tsaBE.py's urllib2 calls (spec.md §6) for wire shapes, and on the
// teacher's device-call logging idiom (util.WithDevice(...).Warnf) for
// structure; retry/backoff is grounded on the doublezero control plane's
// use of github.com/cenkalti/backoff/v4 for transient infra calls.
package sdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/newtron-network/tsa/internal/util"
)

// Switch is one entry of GET /v1.0/topology/switches.
type Switch struct {
	Dpid  string `json:"dpid"`
	Ports []Port `json:"ports"`
}

// Port is one entry of a switch's port list.
type Port struct {
	Name   string `json:"name"`
	PortNo int    `json:"port_no"`
}

// LinkEndpoint is one side of a topology link.
type LinkEndpoint struct {
	Dpid   string `json:"dpid"`
	PortNo int    `json:"port_no"`
}

// Link is one entry of GET /v1.0/topology/links.
type Link struct {
	Src LinkEndpoint `json:"src"`
	Dst LinkEndpoint `json:"dst"`
}

// FlowEntry is one entry returned by GET /stats/flow/<dpid>.
type FlowEntry struct {
	Match   map[string]interface{} `json:"match"`
	Actions []string                `json:"actions"`
}

// Client talks to the SDN controller's REST API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
}

// New returns a Client pointed at baseURL (e.g. "http://127.0.0.1:8080"),
// using timeout as the per-call deadline.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 3,
	}
}

// ListSwitches fetches GET /v1.0/topology/switches.
func (c *Client) ListSwitches(ctx context.Context) ([]Switch, error) {
	var out []Switch
	err := c.getJSON(ctx, "/v1.0/topology/switches", &out)
	return out, err
}

// ListLinks fetches GET /v1.0/topology/links.
func (c *Client) ListLinks(ctx context.Context) ([]Link, error) {
	var out []Link
	err := c.getJSON(ctx, "/v1.0/topology/links", &out)
	return out, err
}

// FlowStats fetches GET /stats/flow/<dpid_decimal> for the switch whose
// hex dpid is dpidHex, and returns its flow entries.
func (c *Client) FlowStats(ctx context.Context, dpidHex string) ([]FlowEntry, error) {
	dec, err := dpidHexToDecimal(dpidHex)
	if err != nil {
		return nil, fmt.Errorf("flow stats: %w", err)
	}

	var raw map[string][]FlowEntry
	if err := c.getJSON(ctx, "/stats/flow/"+dec, &raw); err != nil {
		return nil, err
	}
	return raw[dec], nil
}

// FlowMod is the body of a flowentry add/delete request. Dpid is the
// lowercase hex form used everywhere else in this codebase; it is
// converted to the decimal string the controller's REST API expects
// just before the request is sent.
type FlowMod struct {
	Dpid     string              `json:"-"`
	Priority string              `json:"priority,omitempty"`
	Match    map[string]string   `json:"match"`
	Actions  []map[string]string `json:"actions,omitempty"`
}

// wireFlowMod is FlowMod's on-the-wire shape, with Dpid already
// converted to decimal.
type wireFlowMod struct {
	Dpid     string              `json:"dpid"`
	Priority string              `json:"priority,omitempty"`
	Match    map[string]string   `json:"match"`
	Actions  []map[string]string `json:"actions,omitempty"`
}

func (mod FlowMod) toWire() (wireFlowMod, error) {
	dec, err := dpidHexToDecimal(mod.Dpid)
	if err != nil {
		return wireFlowMod{}, err
	}
	return wireFlowMod{Dpid: dec, Priority: mod.Priority, Match: mod.Match, Actions: mod.Actions}, nil
}

// AddFlowEntry POSTs to /stats/flowentry/add.
func (c *Client) AddFlowEntry(ctx context.Context, mod FlowMod) error {
	wire, err := mod.toWire()
	if err != nil {
		return fmt.Errorf("add flow entry: %w", err)
	}
	return c.postJSON(ctx, "/stats/flowentry/add", wire)
}

// DeleteFlowEntry POSTs to /stats/flowentry/delete.
func (c *Client) DeleteFlowEntry(ctx context.Context, mod FlowMod) error {
	wire, err := mod.toWire()
	if err != nil {
		return fmt.Errorf("delete flow entry: %w", err)
	}
	return c.postJSON(ctx, "/stats/flowentry/delete", wire)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.withRetry(ctx, "GET "+path, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // retryable: connection-level failure
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error: %s", resp.Status)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("client error: %s", resp.Status))
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	return c.withRetry(ctx, "POST "+path, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error: %s", resp.Status)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("client error: %s", resp.Status))
		}
		return nil
	})
}

// withRetry wraps op with a short exponential backoff, bounded to a
// handful of attempts — a failed SDN call must surface quickly as a
// DownstreamFailure (spec.md §7), never stall the single in-flight
// command indefinitely.
func (c *Client) withRetry(ctx context.Context, label string, op func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	err := backoff.Retry(func() error {
		err := op()
		if err != nil {
			util.WithField("call", label).Debugf("sdn call attempt failed: %v", err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return util.NewDownstreamError("sdn-controller", label, err)
	}
	return nil
}

// dpidHexToDecimal converts a lowercase hex dpid string (e.g.
// "000000000000000b") to its decimal string form, as required by the
// /stats/flow/<dpid_decimal> endpoint.
func dpidHexToDecimal(dpidHex string) (string, error) {
	v, err := strconv.ParseUint(dpidHex, 16, 64)
	if err != nil {
		return "", fmt.Errorf("invalid dpid %q: %w", dpidHex, err)
	}
	return strconv.FormatUint(v, 10), nil
}
