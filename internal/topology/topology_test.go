package topology

import "testing"

func TestCanSend_NoEdge(t *testing.T) {
	top := New()
	if top.CanSend("human", "bee-1") {
		t.Fatal("expected no route without an explicit edge")
	}
}

func TestCanSend_HumanNotPrivileged(t *testing.T) {
	top := New()
	top.AddEdge("human", "bee-1", false)
	// Reverse direction was never added: must still be false. This is the
	// "no universal reachability" property (spec.md §8.2).
	if top.CanSend("bee-1", "human") {
		t.Fatal("human must not be treated as universally reachable")
	}
	if !top.CanSend("human", "bee-1") {
		t.Fatal("expected explicit edge to be respected")
	}
}

func TestAddEdge_Idempotent(t *testing.T) {
	top := New()
	top.AddEdge("a", "b", false)
	top.AddEdge("a", "b", false)
	if !top.CanSend("a", "b") {
		t.Fatal("expected edge to exist")
	}
	if top.CanSend("b", "a") {
		t.Fatal("unidirectional add must not create a reverse edge")
	}
}

func TestAddEdge_Bidirectional(t *testing.T) {
	top := New()
	top.AddEdge("a", "b", true)
	if !top.CanSend("a", "b") || !top.CanSend("b", "a") {
		t.Fatal("expected both directions after bidirectional add")
	}
	if !top.IsBidirectional("a", "b") {
		t.Fatal("expected IsBidirectional true")
	}
}

func TestRemoveEdge(t *testing.T) {
	top := New()
	top.AddEdge("a", "b", true)
	top.RemoveEdge("a", "b", false)
	if top.CanSend("a", "b") {
		t.Fatal("expected a->b removed")
	}
	if !top.CanSend("b", "a") {
		t.Fatal("expected b->a to survive unidirectional removal")
	}
}

func TestSetBidirectional(t *testing.T) {
	top := New()
	top.AddEdge("a", "b", false)
	top.SetBidirectional("a", "b", true)
	if !top.CanSend("b", "a") {
		t.Fatal("expected reverse edge after SetBidirectional(true)")
	}
	top.SetBidirectional("a", "b", false)
	if top.CanSend("b", "a") {
		t.Fatal("expected reverse edge removed after SetBidirectional(false)")
	}
	if !top.CanSend("a", "b") {
		t.Fatal("forward edge must survive SetBidirectional(false)")
	}
}

func TestMerge_BidirectionalDisplaySource(t *testing.T) {
	top := New()
	top.AddEdge("human", "bee-1", true)
	entries := top.Merge()
	if len(entries) != 1 {
		t.Fatalf("expected 1 merged entry, got %d", len(entries))
	}
	e := entries[0]
	if !e.Bidirectional {
		t.Fatal("expected bidirectional entry")
	}
	if e.Source != "bee-1" || e.Target != "human" {
		t.Fatalf("expected source=bee-1 (lexicographic min), got source=%s target=%s", e.Source, e.Target)
	}
}

func TestMerge_UnidirectionalNotCollapsed(t *testing.T) {
	top := New()
	top.AddEdge("a", "b", false)
	entries := top.Merge()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Bidirectional {
		t.Fatal("expected non-bidirectional entry")
	}
}

func TestDetectCycles(t *testing.T) {
	top := New()
	top.AddEdge("a", "b", false)
	top.AddEdge("b", "c", false)
	top.AddEdge("c", "a", false)
	top.AddEdge("x", "y", false)

	cycles := top.DetectCycles()
	want := map[string]bool{"a": true, "b": true, "c": true}
	if len(cycles) != 3 {
		t.Fatalf("expected 3 nodes in cycle, got %v", cycles)
	}
	for _, n := range cycles {
		if !want[n] {
			t.Fatalf("unexpected node %s reported in cycle", n)
		}
	}
}

func TestDetectCycles_NoCycle(t *testing.T) {
	top := New()
	top.AddEdge("a", "b", false)
	top.AddEdge("b", "c", false)
	if cycles := top.DetectCycles(); len(cycles) != 0 {
		t.Fatalf("expected no cycles, got %v", cycles)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	top := New()
	top.AddEdge("a", "b", false)
	snap := top.ptr.Load()

	top.AddEdge("c", "d", false)

	if _, ok := snap.edges[edge{"c", "d"}]; ok {
		t.Fatal("previously observed snapshot must not see later mutations")
	}
}
