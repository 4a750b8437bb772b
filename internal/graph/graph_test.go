package graph

import (
	"reflect"
	"testing"
)

func buildLinear(t *testing.T) *Graph {
	t.Helper()
	g := New()
	for _, d := range []string{"s1", "s2", "s3"} {
		g.AddNode(d)
	}
	g.AddEdge("s1", 1, "s2", 1)
	g.AddEdge("s2", 2, "s3", 1)
	return g
}

func TestFindPathLinear(t *testing.T) {
	g := buildLinear(t)
	got := g.FindPath("s1", "s3")
	want := []string{"s1", "s2", "s3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FindPath() = %v, want %v", got, want)
	}
}

func TestFindPathSameNode(t *testing.T) {
	g := buildLinear(t)
	got := g.FindPath("s2", "s2")
	want := []string{"s2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FindPath() = %v, want %v", got, want)
	}
}

func TestFindPathNoRoute(t *testing.T) {
	g := New()
	g.AddNode("s1")
	g.AddNode("s2")
	if got := g.FindPath("s1", "s2"); got != nil {
		t.Fatalf("FindPath() = %v, want nil", got)
	}
}

func TestFindPathRepeatable(t *testing.T) {
	g := buildLinear(t)
	first := g.FindPath("s1", "s3")
	second := g.FindPath("s1", "s3")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("FindPath() is not repeatable: %v != %v", first, second)
	}
}

func TestAddEdgeIdempotent(t *testing.T) {
	g := New()
	g.AddNode("s1")
	g.AddNode("s2")
	g.AddEdge("s1", 1, "s2", 1)
	g.AddEdge("s1", 1, "s2", 1)
	if n := len(g.Neighbors("s1")); n != 1 {
		t.Fatalf("Neighbors(s1) has %d entries, want 1", n)
	}
}

func TestPruneHalfLinks(t *testing.T) {
	g := New()
	g.AddNode("s1")
	g.AddNode("s2")
	g.AddEdge("s1", 1, "s2", 1)

	// Simulate a phantom one-direction link: s1 claims a neighbor s3
	// that never reciprocates.
	g.AddNode("s3")
	g.nodes["s1"].neighbors = append(g.nodes["s1"].neighbors, Neighbor{Port: 9, Dpid: "s3"})

	g.PruneHalfLinks()

	neighbors := g.Neighbors("s1")
	for _, n := range neighbors {
		if n.Dpid == "s3" {
			t.Fatalf("PruneHalfLinks() left a one-direction link to s3")
		}
	}
	if len(neighbors) != 1 {
		t.Fatalf("Neighbors(s1) = %v, want only s2", neighbors)
	}
}

func TestPortToNeighbor(t *testing.T) {
	g := buildLinear(t)
	port, ok := g.PortToNeighbor("s1", "s2")
	if !ok || port != 1 {
		t.Fatalf("PortToNeighbor(s1, s2) = (%d, %v), want (1, true)", port, ok)
	}
	if _, ok := g.PortToNeighbor("s1", "s3"); ok {
		t.Fatalf("PortToNeighbor(s1, s3) should not exist")
	}
}
