package router

import "testing"

func TestTableLookupMiss(t *testing.T) {
	table := NewTable()
	if _, ok := table.Lookup("nobody"); ok {
		t.Fatalf("expected a miss on an empty table")
	}
}

func TestTableSetLocalAndLookup(t *testing.T) {
	table := NewTable()
	table.SetLocal("kupffer", "/run/cell/kupffer.sock")

	route, ok := table.Lookup("kupffer")
	if !ok {
		t.Fatalf("expected a hit")
	}
	if route.Local == nil || route.Local.Path != "/run/cell/kupffer.sock" {
		t.Fatalf("got %+v, want a LocalStream route", route)
	}
}

func TestTableSetColonyAndLookup(t *testing.T) {
	table := NewTable()
	table.SetColony("hepatocyte", []string{"/run/cell/a.sock", "/run/cell/b.sock"})

	route, ok := table.Lookup("hepatocyte")
	if !ok {
		t.Fatalf("expected a hit")
	}
	if route.Colony == nil || len(route.Colony.Paths) != 2 {
		t.Fatalf("got %+v, want a two-member Colony route", route)
	}
}

func TestTableClusterIsIdempotent(t *testing.T) {
	table := NewTable()
	a := table.Cluster("osteoblast")
	b := table.Cluster("osteoblast")
	if a != b {
		t.Fatalf("expected the same RemoteCluster instance on repeated calls")
	}
}

func TestTableClustersOmitsNonClusterRoutes(t *testing.T) {
	table := NewTable()
	table.SetLocal("kupffer", "/run/cell/kupffer.sock")
	table.Cluster("osteoblast")

	clusters := table.Clusters()
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
	if _, ok := clusters["osteoblast"]; !ok {
		t.Fatalf("expected osteoblast cluster present")
	}
}
