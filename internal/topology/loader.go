// Package topology builds the switch graph from the SDN controller's
// topology snapshot, grounded on tsaBE.py's buildGraph/
// removeOneDirectionLinks.
package topology

import (
	"context"
	"fmt"

	"github.com/newtron-network/tsa/internal/graph"
	"github.com/newtron-network/tsa/internal/sdn"
	"github.com/newtron-network/tsa/internal/util"
)

// Load fetches the switch and link lists from the SDN controller, builds
// a fresh graph, and prunes half-links (spec.md §4.2).
func Load(ctx context.Context, client *sdn.Client) (*graph.Graph, error) {
	switches, err := client.ListSwitches(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading topology: %w", err)
	}

	g := graph.New()
	for _, sw := range switches {
		g.AddNode(sw.Dpid)
	}

	links, err := client.ListLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading topology: %w", err)
	}

	for _, link := range links {
		g.AddEdge(link.Src.Dpid, link.Src.PortNo, link.Dst.Dpid, link.Dst.PortNo)
	}

	g.PruneHalfLinks()

	util.WithFields(map[string]interface{}{
		"switches": len(switches),
		"links":    len(links),
	}).Info("topology loaded")

	return g, nil
}
