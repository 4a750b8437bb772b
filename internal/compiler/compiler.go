// Package compiler turns a policy-chain declaration into an ordered
// sequence of flow-entry installs, and reverses that sequence on
// uninstall/unregister/replace. Grounded on tsaBE.py's
// installPolicyChainRules / installPolicyChainBetweenTwoMiddleboxes /
// installRulesToDpiInstance / unregisterMiddlebox / replaceDPIInstance
// (spec.md §4.5-§4.8).
package compiler

import (
	"context"
	"fmt"

	"github.com/newtron-network/tsa/internal/alloc"
	"github.com/newtron-network/tsa/internal/chainstore"
	"github.com/newtron-network/tsa/internal/flowrule"
	"github.com/newtron-network/tsa/internal/graph"
	"github.com/newtron-network/tsa/internal/metrics"
	"github.com/newtron-network/tsa/internal/registry"
	"github.com/newtron-network/tsa/internal/util"
)

// Compiler owns the graph, attachment registry, flow installer, and
// chain store needed to compile and rewrite policy chains. A single
// Compiler is shared by the command server, which serializes every
// call into it (spec.md §5: one command in flight at a time).
type Compiler struct {
	graph     *graph.Graph
	registry  *registry.Registry
	installer *flowrule.Installer
	store     *chainstore.Store
	vlans     *alloc.VLANAllocator
}

// New returns a Compiler wired to its collaborators.
func New(g *graph.Graph, r *registry.Registry, installer *flowrule.Installer, store *chainstore.Store, vlans *alloc.VLANAllocator) *Compiler {
	return &Compiler{graph: g, registry: r, installer: installer, store: store, vlans: vlans}
}

// InstallChain compiles a fresh policy chain and allocates a new VLAN
// id for it. keyChain is the user-declared middlebox list (the chain
// section of the canonical key never includes the DPI instance);
// fullChain is the DPI-controller-resolved chain actually installed
// (DPI instance prepended) — tsaBE.py's handleAddPolicyCommand
// generates the key from preparedPolicyChain but installs
// newPolicyChain, and the two diverge exactly at position 0. It
// returns the canonical chain key.
func (c *Compiler) InstallChain(ctx context.Context, senderHost string, keyChain, fullChain []string, fields []chainstore.MatchField) (string, error) {
	vlan, err := c.vlans.Allocate()
	if err != nil {
		return "", fmt.Errorf("compiler: %w", err)
	}
	metrics.SetAllocatedVLANs(vlan)

	key, err := chainstore.GenerateKey(senderHost, keyChain, fields)
	if err != nil {
		return "", fmt.Errorf("compiler: %w", err)
	}
	if _, exists := c.store.Get(key); exists {
		return "", fmt.Errorf("compiler: policy chain %q: %w", key, util.ErrAlreadyExists)
	}

	return c.installChainWithVLAN(ctx, key, senderHost, fullChain, fields, vlan)
}

// installChainWithVLAN installs fullChain under the already-computed
// key and vlan — shared by InstallChain (fresh VLAN) and the
// unregister/replace rewrites (reused VLAN, and in the unregister
// case a key that was derived from the old one rather than generated
// from scratch).
func (c *Compiler) installChainWithVLAN(ctx context.Context, key, senderHost string, fullChain []string, fields []chainstore.MatchField, vlan int) (string, error) {
	if len(fullChain) == 0 {
		return "", fmt.Errorf("compiler: policy chain must name at least one middlebox")
	}

	c.store.Put(key, &chainstore.Record{Chain: append([]string(nil), fullChain...), VLAN: vlan})
	c.store.AppendTrail(key, chainstore.SenderSentinel(senderHost))

	if err := c.installChainSegments(ctx, key, senderHost, fullChain, fields, vlan); err != nil {
		return "", err
	}
	return key, nil
}

// installChainSegments installs the sender-to-first-middlebox segment
// and every middlebox-to-middlebox segment, appending each switch it
// touches to key's trail as soon as the install succeeds (spec.md
// §4.5: the trail only ever records successful installs).
func (c *Compiler) installChainSegments(ctx context.Context, key, senderHost string, chain []string, fields []chainstore.MatchField, vlan int) error {
	senderAtt, ok := c.registry.Hosts[senderHost]
	if !ok {
		return fmt.Errorf("compiler: unknown sender host %q", senderHost)
	}

	attachments := make([]registry.Attachment, len(chain))
	for i, name := range chain {
		att, ok := c.registry.Middleboxes[name]
		if !ok {
			return fmt.Errorf("compiler: unknown middlebox %q", name)
		}
		attachments[i] = att
	}

	path, ok := c.path(senderAtt.Dpid, attachments[0].Dpid)
	if !ok {
		return fmt.Errorf("compiler: no path from sender %q to middlebox %q", senderHost, chain[0])
	}
	if err := c.installSegment(ctx, key, path, senderAtt.Port, attachments[0].Port, vlan, fields, false); err != nil {
		return err
	}

	for i := 0; i < len(chain)-1; i++ {
		c.store.AppendTrail(key, chainstore.MiddleboxSentinel(chain[i]))

		path, ok := c.path(attachments[i].Dpid, attachments[i+1].Dpid)
		if !ok {
			return fmt.Errorf("compiler: no path from middlebox %q to middlebox %q", chain[i], chain[i+1])
		}
		popOnLast := i == len(chain)-2
		if err := c.installSegment(ctx, key, path, attachments[i].Port, attachments[i+1].Port, vlan, nil, popOnLast); err != nil {
			return err
		}
	}
	return nil
}

// installSegment walks path switch by switch, installing a VlanPush on
// the first hop when fields is non-nil, a VlanPop on the last hop when
// popOnLast, and a plain VlanMatch everywhere else — mirroring
// tsaBE.py's installRulesToDpiInstance / installPolicyChainBetweenTwoMiddleboxes,
// including the single-switch special case where push/pop and the
// terminal hop collapse onto the same flow entry.
//
// A per-switch install failure is logged by the installer and skipped;
// it does not stop the walk and does not append to the trail (spec.md
// §4.5, §7: "Install failures... do not abort the compilation, and do
// not roll back already-installed entries"). Only a structural problem
// (no path at all) is a hard error — that is checked by the caller
// before installSegment is ever reached.
func (c *Compiler) installSegment(ctx context.Context, key string, path []string, srcPort, dstPort, vlan int, fields []chainstore.MatchField, popOnLast bool) error {
	if len(path) == 0 {
		return fmt.Errorf("compiler: empty path while installing segment")
	}

	for i, dpid := range path {
		inPort := srcPort
		if i > 0 {
			if p, ok := c.graph.PortToNeighbor(dpid, path[i-1]); ok {
				inPort = p
			}
		}
		outPort := dstPort
		if i < len(path)-1 {
			if p, ok := c.graph.PortToNeighbor(dpid, path[i+1]); ok {
				outPort = p
			}
		}

		var err error
		switch {
		case i == 0 && fields != nil:
			err = c.installer.InstallVlanPush(ctx, dpid, vlan, outPort, inPort, fields)
		case i == len(path)-1 && popOnLast:
			err = c.installer.InstallVlanPop(ctx, dpid, vlan, outPort, inPort)
		default:
			err = c.installer.InstallVlanMatch(ctx, dpid, vlan, outPort, inPort)
		}
		if err != nil {
			continue
		}
		c.store.AppendTrail(key, dpid)
	}
	return nil
}

func (c *Compiler) path(src, dst string) ([]string, bool) {
	p := c.graph.FindPath(src, dst)
	return p, p != nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
