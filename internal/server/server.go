// Package server is the line-delimited-JSON TCP command server (C9),
// grounded on tsaBE.py's runServer dispatch loop: one connection
// accepted at a time, one request read per connection, the whole
// request lowercased before parsing, and a single reply written back
// before the next accept (spec.md §4.9, §5).
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/tsa/internal/alloc"
	"github.com/newtron-network/tsa/internal/audit"
	"github.com/newtron-network/tsa/internal/chainstore"
	"github.com/newtron-network/tsa/internal/compiler"
	"github.com/newtron-network/tsa/internal/dpi"
	"github.com/newtron-network/tsa/internal/flowrule"
	"github.com/newtron-network/tsa/internal/graph"
	"github.com/newtron-network/tsa/internal/metrics"
	"github.com/newtron-network/tsa/internal/registry"
	"github.com/newtron-network/tsa/internal/sdn"
	"github.com/newtron-network/tsa/internal/topology"
	"github.com/newtron-network/tsa/internal/util"
)

// maxRequestBytes bounds a single incoming request, per spec.md §4.9
// ("up to 8 KiB"); tsaBE.py's recv(8096) is the same bound rounded to
// a power of two.
const maxRequestBytes = 8 * 1024

// Peer-facing command names (spec.md §6).
const (
	cmdAddPolicyChain         = "addpolicychain"
	cmdRemovePolicyChain      = "removepolicychain"
	cmdPrintDPIController     = "printdpicontroller"
	cmdPrintDPIControllerFull = "printdpicontrollerfull"
	cmdUnregisterMiddlebox    = "unregistermiddleboxcommand"
	cmdReplaceDPIInstance     = "replacedpiinstancecommand"
	cmdExit                   = "exit"
)

// DPI-controller-facing command names the server issues outbound
// (spec.md §6).
const (
	dpiCmdAddPolicyChain         = "addpolicychaincommand"
	dpiCmdRemovePolicyChain      = "removepolicychaincommand"
	dpiCmdPrintStatus            = "printdpicontrollerstatuscommand"
	dpiCmdPrintFullStatus        = "printdpicontrollerfullstatuscommand"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

// request is the peer JSON envelope (spec.md §6).
type request struct {
	Command   string      `json:"command"`
	Arguments interface{} `json:"arguments"`
}

// response is the peer JSON envelope returned to the caller.
type response struct {
	ReturnValue string `json:"return value"`
	Data        string `json:"data"`
}

func ok(data string) response  { return response{ReturnValue: statusSuccess, Data: data} }
func failed(data string) response { return response{ReturnValue: statusFailed, Data: data} }

// Config is everything Server needs to construct its collaborators.
type Config struct {
	ListenAddr    string
	SDNBaseURL    string
	DPIAddr       string
	ConfigPath    string
	SDNTimeout    time.Duration
	DPITimeout    time.Duration
}

// Server owns the listen socket and every in-process collaborator: the
// topology graph, the attachment registry, the policy-chain store and
// allocators, and the compiler built over them. It serializes command
// handling behind a single mutex — exactly one command is in flight at
// a time (spec.md §5), so none of its collaborators need their own
// locking discipline beyond defense in depth.
type Server struct {
	cfg Config

	sdnClient *sdn.Client
	dpiClient *dpi.Client
	installer *flowrule.Installer
	store     *chainstore.Store
	vlans     *alloc.VLANAllocator
	pcids     *alloc.PCIDAllocator
	audit     audit.Logger

	mu       sync.Mutex
	graph    *graph.Graph
	registry *registry.Registry
	compiler *compiler.Compiler
}

// New constructs a Server. It does not yet load topology — that
// happens lazily on the first command, matching tsaBE.py's isReady
// check inside the accept loop. auditLogger may be nil, in which case
// command auditing is skipped entirely.
func New(cfg Config, auditLogger audit.Logger) *Server {
	sdnClient := sdn.New(cfg.SDNBaseURL, cfg.SDNTimeout)
	return &Server{
		cfg:       cfg,
		sdnClient: sdnClient,
		dpiClient: dpi.New(cfg.DPIAddr, cfg.DPITimeout),
		installer: flowrule.New(sdnClient),
		store:     chainstore.New(),
		vlans:     alloc.NewVLANAllocator(),
		pcids:     alloc.NewPCIDAllocator(),
		audit:     auditLogger,
		graph:     graph.New(),
		registry:  registry.New(),
	}
}

// logAudit records one handled command, if an audit logger is
// configured. A nil logger (the default in tests and simple setups)
// makes this a no-op.
func (s *Server) logAudit(peer, command, args string, start time.Time, res response) {
	if s.audit == nil {
		return
	}
	ev := audit.NewEvent(peer, command, args).WithDuration(time.Since(start))
	if res.ReturnValue == statusSuccess {
		ev.WithSuccess()
	} else {
		ev.WithError(fmt.Errorf("%s", res.Data))
	}
	if err := s.audit.Log(ev); err != nil {
		util.Warnf("audit: failed to log command %q: %v", command, err)
	}
}

// ListenAndServe accepts connections on cfg.ListenAddr until ctx is
// canceled or the "exit" command is received on some connection.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.ListenAddr, err)
	}
	defer ln.Close()

	util.WithField("addr", s.cfg.ListenAddr).Info("command server listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}

		shouldExit := s.handleConnection(ctx, conn)
		if shouldExit {
			return nil
		}
	}
}

// handleConnection reads exactly one request from conn, dispatches it,
// and writes exactly one response — matching tsaBE.py's
// one-recv-per-connection contract. It reports whether the "exit"
// command was received.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) (shouldExit bool) {
	defer conn.Close()

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return false
	}

	raw := strings.ToLower(string(buf[:n]))

	var req request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		writeResponse(conn, failed("Illegal command"))
		return false
	}

	args, _ := req.Arguments.(string)
	peer := conn.RemoteAddr().String()
	start := time.Now()

	if err := s.ensureReady(ctx); err != nil {
		res := failed("Please run pingall")
		s.logAudit(peer, req.Command, args, start, res)
		writeResponse(conn, res)
		return false
	}

	if req.Command == cmdExit {
		res := ok("")
		s.logAudit(peer, req.Command, args, start, res)
		writeResponse(conn, res)
		return true
	}

	res := s.dispatch(ctx, req.Command, args)
	metrics.ObserveCommand(req.Command, time.Since(start), res.ReturnValue == statusSuccess)
	metrics.SetLiveChains(s.store.Len())
	s.logAudit(peer, req.Command, args, start, res)
	writeResponse(conn, res)
	return false
}

func writeResponse(conn net.Conn, res response) {
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	payload = append(payload, '\n')
	conn.Write(payload)
}

// ensureReady loads the topology graph and attachment registry if
// they are not already populated — tsaBE.py refreshes the mapping
// lazily on the first request that needs it rather than on a timer.
func (s *Server) ensureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registry.Ready() {
		return nil
	}

	g, err := topology.Load(ctx, s.sdnClient)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	r, err := registry.Load(ctx, s.sdnClient, s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	s.graph = g
	s.registry = r
	s.compiler = compiler.New(g, r, s.installer, s.store, s.vlans)

	if !r.Ready() {
		return fmt.Errorf("%w", util.ErrNotReady)
	}
	return nil
}

// dispatch routes a single command to its handler. Every branch
// returns a response; nothing here may panic or propagate an error
// back to the connection loop (spec.md §7: "no error escapes the
// server loop").
func (s *Server) dispatch(ctx context.Context, command, args string) response {
	util.WithCommand(command).Info("processing command")

	switch command {
	case cmdAddPolicyChain:
		return s.handleAddPolicyChain(ctx, args)
	case cmdRemovePolicyChain:
		return s.handleRemovePolicyChain(ctx, args)
	case cmdUnregisterMiddlebox:
		return s.handleUnregisterMiddlebox(ctx, args)
	case cmdReplaceDPIInstance:
		return s.handleReplaceDPIInstance(ctx, args)
	case cmdPrintDPIController:
		s.dpiClient.Call(ctx, dpi.Request{Command: dpiCmdPrintStatus, Arguments: map[string]string{}})
		return ok("")
	case cmdPrintDPIControllerFull:
		s.dpiClient.Call(ctx, dpi.Request{Command: dpiCmdPrintFullStatus, Arguments: map[string]string{}})
		return ok("")
	default:
		util.WithCommand(command).Warn("illegal command")
		return failed("Illegal command")
	}
}

func (s *Server) handleAddPolicyChain(ctx context.Context, args string) response {
	sender, chain, fields, err := parsePolicyChainArgs(args)
	if err != nil {
		util.Logger.Debugf("addpolicychain parse error: %v", err)
		return failed(fmt.Sprintf("Failed to add policy chain: %s.", args))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pcid := s.pcids.Peek()
	dpiArgs := map[string]string{
		"policy chain": strings.Join(chain, ","),
		"pcid":         strconv.Itoa(pcid),
	}
	result, err := s.dpiClient.Call(ctx, dpi.Request{Command: dpiCmdAddPolicyChain, Arguments: dpiArgs})
	if err != nil || !result.Succeeded() {
		return failed(fmt.Sprintf("Failed to add policy chain: %s.", args))
	}

	resolvedChain := util.SplitCommaSeparated(result.Data)
	key, err := s.compiler.InstallChain(ctx, sender, chain, resolvedChain, fields)
	if err != nil {
		util.Logger.Warnf("addpolicychain compile error: %v", err)
		return failed(fmt.Sprintf("Failed to add policy chain: %s.", args))
	}

	pcid = s.pcids.Allocate()
	s.store.SetPCID(pcid, key)

	rec, _ := s.store.Get(key)
	return ok(fmt.Sprintf("Policy chain: %s was added successfully. vlanId is: %d, pcid is: %d", args, rec.VLAN, pcid))
}

func (s *Server) handleRemovePolicyChain(ctx context.Context, args string) response {
	sender, chain, fields, err := parsePolicyChainArgs(args)
	if err != nil {
		return failed("Failed to remove policy chain.")
	}

	key, err := chainstore.GenerateKey(sender, chain, fields)
	if err != nil {
		return failed("Failed to remove policy chain.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.store.Get(key); ok {
		pcid, _ := s.store.PCIDForKey(key)
		notifyArgs := map[string]string{
			"policy chain": strings.Join(rec.Chain, ","),
			"pcid":         strconv.Itoa(pcid),
		}
		// Best-effort: a DPI controller failure here does not block the
		// removal, matching tsaBE.py's removePolicyChain (its own
		// success check on this call is left disabled pending DPI
		// instance lifecycle support).
		if _, err := s.dpiClient.Call(ctx, dpi.Request{Command: dpiCmdRemovePolicyChain, Arguments: notifyArgs}); err != nil {
			util.Logger.Debugf("dpi controller notify on remove failed: %v", err)
		}
	}

	if err := s.compiler.Uninstall(ctx, key); err != nil {
		return failed("Failed to remove policy chain.")
	}
	return ok(fmt.Sprintf("Policy chain: %s was removed successfully.", args))
}

func (s *Server) handleUnregisterMiddlebox(ctx context.Context, args string) response {
	mbName := strings.TrimSpace(args)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.compiler.UnregisterMiddlebox(ctx, mbName); err != nil {
		return failed(err.Error())
	}
	return ok("")
}

func (s *Server) handleReplaceDPIInstance(ctx context.Context, args string) response {
	newInstance, pcid, err := parseReplaceDPIInstanceArgs(args)
	if err != nil {
		return failed("Failed to replace dpi instance.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.compiler.ReplaceDPIInstance(ctx, pcid, newInstance); err != nil {
		return failed("Failed to replace dpi instance.")
	}
	return ok("")
}
