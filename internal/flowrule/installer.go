// Package flowrule implements the rule-installer primitives (spec.md
// §4.5): plain VLAN match, VLAN push+match, VLAN pop+match, and the two
// delete forms. Match/action vocabulary (SET_VLAN_VID, STRIP_VLAN,
// OUTPUT) is grounded on digitalocean-go-openvswitch/ovs's action
// constant naming; request shapes follow tsaBE.py's installVlanRule /
// installRuleWithVlanPush / installRuleWithVlanPop /
// uninstallRuleForMatchfields / uninstallVlanRule verbatim.
package flowrule

import (
	"context"
	"strconv"

	"github.com/newtron-network/tsa/internal/chainstore"
	"github.com/newtron-network/tsa/internal/metrics"
	"github.com/newtron-network/tsa/internal/sdn"
	"github.com/newtron-network/tsa/internal/util"
)

// DefaultPriority is the fixed priority used for every install, per
// spec.md §4.5 — this system performs no flow-rule conflict resolution
// beyond it (explicit Non-goal).
const DefaultPriority = 60000

// Installer issues flow-entry add/delete requests against the SDN
// controller.
type Installer struct {
	client *sdn.Client
}

// New returns an Installer backed by client.
func New(client *sdn.Client) *Installer {
	return &Installer{client: client}
}

// fullMatchFields expands user match fields with the derived additions
// spec.md §3 requires: transport-port fields imply nw_proto=6,
// dl_type=2048; network-address fields imply dl_type=2048.
func fullMatchFields(fields []chainstore.MatchField) map[string]string {
	match := make(map[string]string, len(fields)+1)
	for _, f := range fields {
		match[f.Name] = f.Value
		switch f.Name {
		case "tp_src", "tp_dst":
			match["nw_proto"] = "6"
			match["dl_type"] = "2048"
		case "nw_src", "nw_dst":
			match["dl_type"] = "2048"
		}
	}
	return match
}

// InstallVlanMatch installs a plain VLAN-match-and-output rule: match
// {dl_vlan, in_port?}, action OUTPUT(outPort). inPort < 0 omits the
// in_port match.
func (i *Installer) InstallVlanMatch(ctx context.Context, dpidHex string, vlan, outPort, inPort int) error {
	match := map[string]string{"dl_vlan": strconv.Itoa(vlan)}
	if inPort >= 0 {
		match["in_port"] = strconv.Itoa(inPort)
	}

	err := i.add(ctx, dpidHex, match, []map[string]string{
		{"type": "OUTPUT", "port": strconv.Itoa(outPort)},
	})
	metrics.ObserveFlowInstall("vlan_match", err == nil)
	return err
}

// InstallVlanPush installs match=fields (with derived additions) plus
// in_port?, actions [SET_VLAN_VID(vlan), OUTPUT(outPort)].
func (i *Installer) InstallVlanPush(ctx context.Context, dpidHex string, vlan, outPort, inPort int, fields []chainstore.MatchField) error {
	match := fullMatchFields(fields)
	if inPort >= 0 {
		match["in_port"] = strconv.Itoa(inPort)
	}

	err := i.add(ctx, dpidHex, match, []map[string]string{
		{"type": "SET_VLAN_VID", "vlan_vid": strconv.Itoa(vlan)},
		{"type": "OUTPUT", "port": strconv.Itoa(outPort)},
	})
	metrics.ObserveFlowInstall("vlan_push", err == nil)
	return err
}

// InstallVlanPop installs match {dl_vlan, in_port}, actions
// [STRIP_VLAN, OUTPUT(outPort)] — used on the terminal switch of the
// last middlebox-to-middlebox hop so traffic exits the fabric
// untagged.
func (i *Installer) InstallVlanPop(ctx context.Context, dpidHex string, vlan, outPort, inPort int) error {
	match := map[string]string{
		"dl_vlan":  strconv.Itoa(vlan),
		"in_port":  strconv.Itoa(inPort),
	}

	err := i.add(ctx, dpidHex, match, []map[string]string{
		{"type": "STRIP_VLAN"},
		{"type": "OUTPUT", "port": strconv.Itoa(outPort)},
	})
	metrics.ObserveFlowInstall("vlan_pop", err == nil)
	return err
}

// DeleteByMatchFields deletes every flow on dpidHex whose match
// intersects fields (plus derived additions and in_port when given).
// Used for the first trail entry on uninstall (spec.md §4.8).
func (i *Installer) DeleteByMatchFields(ctx context.Context, dpidHex string, fields []chainstore.MatchField, inPort int) error {
	match := fullMatchFields(fields)
	if inPort >= 0 {
		match["in_port"] = strconv.Itoa(inPort)
	}
	err := i.del(ctx, dpidHex, match)
	metrics.ObserveFlowDelete("match_fields", err == nil)
	return err
}

// DeleteByVLAN deletes every flow on dpidHex matching dl_vlan=vlan.
// inPort <= 0 means "omit in_port", matching tsaBE.py's
// uninstallVlanRule sentinel convention for its inPort argument.
func (i *Installer) DeleteByVLAN(ctx context.Context, dpidHex string, vlan, inPort int) error {
	match := map[string]string{"dl_vlan": strconv.Itoa(vlan)}
	if inPort > 0 {
		match["in_port"] = strconv.Itoa(inPort)
	}
	err := i.del(ctx, dpidHex, match)
	metrics.ObserveFlowDelete("vlan", err == nil)
	return err
}

func (i *Installer) add(ctx context.Context, dpidHex string, match map[string]string, actions []map[string]string) error {
	err := i.client.AddFlowEntry(ctx, sdn.FlowMod{
		Dpid:     dpidHex,
		Priority: strconv.Itoa(DefaultPriority),
		Match:    match,
		Actions:  actions,
	})
	if err != nil {
		util.WithDpid(dpidHex).Warnf("failed to install flow entry: %v", err)
	}
	return err
}

func (i *Installer) del(ctx context.Context, dpidHex string, match map[string]string) error {
	err := i.client.DeleteFlowEntry(ctx, sdn.FlowMod{Dpid: dpidHex, Match: match})
	if err != nil {
		util.WithDpid(dpidHex).Warnf("failed to delete flow entry: %v", err)
	}
	return err
}
