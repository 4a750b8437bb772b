package server

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newTestEnv spins up a fake SDN controller (HTTP) and a fake DPI
// controller (line-delimited-JSON TCP) backing a two-switch topology
// (a1 <-> b2) with middlebox m1 attached to a1 and sender host h1
// attached to b2 — just enough for ensureReady to succeed and for a
// policy chain from h1 to m1 to compile over a single hop.
func newTestEnv(t *testing.T) *Server {
	t.Helper()

	sdnMux := newHTTPMux(t)
	dpiAddr := newFakeDPI(t)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tsaConfigFile.txt")
	cfg := "1 a1 aa:aa:aa:aa:aa:aa\n\n1 b2 bb:bb:bb:bb:bb:bb\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(Config{
		ListenAddr: "127.0.0.1:0",
		SDNBaseURL: sdnMux,
		DPIAddr:    dpiAddr,
		ConfigPath: cfgPath,
		SDNTimeout: 2 * time.Second,
		DPITimeout: 2 * time.Second,
	}, nil)
	return s
}

func TestHandleConnectionUnknownCommand(t *testing.T) {
	s := newTestEnv(t)
	res, shouldExit := sendCommand(t, s, "boguscommand", "")
	if shouldExit {
		t.Fatal("unknown command must not trigger shutdown")
	}
	if res.ReturnValue != statusFailed || res.Data != "Illegal command" {
		t.Fatalf("got %+v, want failed/Illegal command", res)
	}
}

func TestHandleConnectionExit(t *testing.T) {
	s := newTestEnv(t)
	res, shouldExit := sendCommand(t, s, cmdExit, "")
	if !shouldExit {
		t.Fatal("exit command must report shouldExit=true")
	}
	if res.ReturnValue != statusSuccess {
		t.Fatalf("exit response = %+v, want success", res)
	}
}

func TestHandleConnectionNotReadyBeforeRegistryLoads(t *testing.T) {
	s := New(Config{
		ListenAddr: "127.0.0.1:0",
		SDNBaseURL: "http://127.0.0.1:1", // unreachable: ensureReady must fail
		DPIAddr:    "127.0.0.1:1",
		ConfigPath: filepath.Join(t.TempDir(), "missing.txt"),
		SDNTimeout: 100 * time.Millisecond,
		DPITimeout: 100 * time.Millisecond,
	}, nil)

	res, shouldExit := sendCommand(t, s, cmdAddPolicyChain, "h1,m1 {tp_dst=80}")
	if shouldExit {
		t.Fatal("not-ready failure must not trigger shutdown")
	}
	if res.ReturnValue != statusFailed || res.Data != "Please run pingall" {
		t.Fatalf("got %+v, want failed/Please run pingall", res)
	}
}

func TestHandleConnectionAddPolicyChainSucceeds(t *testing.T) {
	s := newTestEnv(t)

	res, shouldExit := sendCommand(t, s, cmdAddPolicyChain, "h1,m1 {tp_dst=80}")
	if shouldExit {
		t.Fatal("addpolicychain must not trigger shutdown")
	}
	if res.ReturnValue != statusSuccess {
		t.Fatalf("addpolicychain failed: %+v", res)
	}

	if s.store.Len() != 1 {
		t.Fatalf("store has %d live chains, want 1", s.store.Len())
	}
}

func TestHandleConnectionAddPolicyChainDuplicateFails(t *testing.T) {
	s := newTestEnv(t)

	if res, _ := sendCommand(t, s, cmdAddPolicyChain, "h1,m1 {tp_dst=80}"); res.ReturnValue != statusSuccess {
		t.Fatalf("first add failed: %+v", res)
	}
	res, _ := sendCommand(t, s, cmdAddPolicyChain, "h1,m1 {tp_dst=80}")
	if res.ReturnValue != statusFailed {
		t.Fatalf("second add = %+v, want failed (duplicate key)", res)
	}
}

func TestHandleConnectionAddThenRemovePolicyChain(t *testing.T) {
	s := newTestEnv(t)

	if res, _ := sendCommand(t, s, cmdAddPolicyChain, "h1,m1 {tp_dst=80}"); res.ReturnValue != statusSuccess {
		t.Fatalf("add failed: %+v", res)
	}
	res, _ := sendCommand(t, s, cmdRemovePolicyChain, "h1,m1 {tp_dst=80}")
	if res.ReturnValue != statusSuccess {
		t.Fatalf("remove failed: %+v", res)
	}
	if s.store.Len() != 0 {
		t.Fatalf("store has %d live chains after remove, want 0", s.store.Len())
	}
}

func TestHandleConnectionMalformedJSON(t *testing.T) {
	s := newTestEnv(t)

	client, srv := net.Pipe()
	defer client.Close()

	done := make(chan bool, 1)
	go func() { done <- s.handleConnection(context.Background(), srv) }()

	if _, err := client.Write([]byte("not json\n")); err != nil {
		t.Fatal(err)
	}
	var res response
	if err := json.NewDecoder(client).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.ReturnValue != statusFailed || res.Data != "Illegal command" {
		t.Fatalf("got %+v, want failed/Illegal command", res)
	}
	if <-done {
		t.Fatal("malformed request must not trigger shutdown")
	}
}

// sendCommand drives one full handleConnection round trip over an
// in-memory net.Pipe, returning the decoded response and whether
// shutdown was requested.
func sendCommand(t *testing.T, s *Server, command, args string) (response, bool) {
	t.Helper()

	client, srv := net.Pipe()
	defer client.Close()

	done := make(chan bool, 1)
	go func() { done <- s.handleConnection(context.Background(), srv) }()

	payload, err := json.Marshal(request{Command: command, Arguments: args})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Write(payload); err != nil {
		t.Fatal(err)
	}

	var res response
	if err := json.NewDecoder(client).Decode(&res); err != nil {
		t.Fatal(err)
	}
	return res, <-done
}
