// Package registry maps middleboxes and sender hosts to the switch
// port they attach to, grounded on tsaBE.py's fillMBToSwitchMapping /
// fillMBToSwitchForSpecificMB (spec.md §4.3).
package registry

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/newtron-network/tsa/internal/sdn"
	"github.com/newtron-network/tsa/internal/util"
)

// Attachment is the point where a name attaches to the fabric.
type Attachment struct {
	Dpid string
	Port int
}

// Registry holds the middlebox/host attachment tables.
type Registry struct {
	Middleboxes map[string]Attachment
	Hosts       map[string]Attachment
	ready       bool
}

// New returns an empty, not-ready registry.
func New() *Registry {
	return &Registry{
		Middleboxes: make(map[string]Attachment),
		Hosts:       make(map[string]Attachment),
	}
}

// Ready reports whether at least one middlebox and one sender host have
// been resolved (spec.md §4.3: "the server defers policy commands
// until at least one middlebox and one sender host entry exist").
func (r *Registry) Ready() bool {
	return r.ready
}

// configEntry is one parsed line of the configuration file, before it
// is resolved to a switch attachment.
type configEntry struct {
	id     string
	switchName string
	mac    string
}

// Load reads configPath and resolves every entry against the SDN
// controller's topology and flow-table state. Entries that cannot be
// resolved are skipped (logged), not fatal — matching the Python
// source's best-effort fill.
func Load(ctx context.Context, client *sdn.Client, configPath string) (*Registry, error) {
	middleboxLines, hostLines, err := parseConfigFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading attachment registry: %w", err)
	}

	switches, err := client.ListSwitches(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading attachment registry: %w", err)
	}

	r := New()

	for _, e := range middleboxLines {
		name := "m" + e.id
		att, ok := resolveAttachment(ctx, client, switches, e.switchName, e.mac)
		if !ok {
			util.WithField("middlebox", name).Warn("could not resolve middlebox attachment; registry not ready")
			continue
		}
		r.Middleboxes[name] = att
	}

	for _, e := range hostLines {
		name := "h" + e.id
		att, ok := resolveAttachment(ctx, client, switches, e.switchName, e.mac)
		if !ok {
			util.WithField("host", name).Warn("could not resolve host attachment; registry not ready")
			continue
		}
		r.Hosts[name] = att
	}

	util.WithFields(map[string]interface{}{
		"middleboxes": len(r.Middleboxes),
		"hosts":       len(r.Hosts),
	}).Debug("attachment registry resolved")

	if len(r.Middleboxes) == 0 || len(r.Hosts) == 0 {
		util.Logger.Warn("attachment registry is not ready: please run pingall")
		return r, nil
	}

	r.ready = true
	return r, nil
}

// parseConfigFile reads the two-section config format documented in
// spec.md §6: middlebox lines, a blank line, then sender-host lines.
// `#`-prefixed lines are comments.
func parseConfigFile(path string) (middleboxes, hosts []configEntry, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	inHosts := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			inHosts = true
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}

		fields := strings.Fields(trimmed)
		if len(fields) != 3 {
			continue
		}
		entry := configEntry{id: fields[0], switchName: fields[1], mac: fields[2]}
		if inHosts {
			hosts = append(hosts, entry)
		} else {
			middleboxes = append(middleboxes, entry)
		}
	}
	return middleboxes, hosts, scanner.Err()
}

// resolveAttachment finds the dpid whose first port name has prefix
// "switchName-", then queries that switch's flow table for the entry
// matching dl_dst=mac and extracts the OUTPUT action's port.
func resolveAttachment(ctx context.Context, client *sdn.Client, switches []sdn.Switch, switchName, mac string) (Attachment, bool) {
	for _, sw := range switches {
		if len(sw.Ports) == 0 {
			continue
		}
		prefix, ok := portSwitchNamePrefix(sw.Ports[0].Name)
		if !ok || prefix != switchName {
			continue
		}

		entries, err := client.FlowStats(ctx, sw.Dpid)
		if err != nil {
			util.WithDpid(sw.Dpid).Warnf("flow stats lookup failed: %v", err)
			return Attachment{}, false
		}

		for _, entry := range entries {
			if dst, _ := entry.Match["dl_dst"].(string); dst == mac {
				port, ok := parseOutputActionPort(entry.Actions)
				if !ok {
					continue
				}
				return Attachment{Dpid: sw.Dpid, Port: port}, true
			}
		}
	}
	return Attachment{}, false
}

// portSwitchNamePrefix extracts the switch name from a port name like
// "s1-eth1", mirroring tsaBE.py's greedy regex r'(.*)-' (everything up
// to the last hyphen).
func portSwitchNamePrefix(portName string) (string, bool) {
	idx := strings.LastIndex(portName, "-")
	if idx < 0 {
		return "", false
	}
	return portName[:idx], true
}

// parseOutputActionPort extracts the port number from an action string
// like "OUTPUT:3" by skipping the first 7 characters, per spec.md §6.
func parseOutputActionPort(actions []string) (int, bool) {
	if len(actions) == 0 || len(actions[0]) <= 7 {
		return 0, false
	}
	port, err := strconv.Atoi(actions[0][7:])
	if err != nil {
		return 0, false
	}
	return port, true
}
