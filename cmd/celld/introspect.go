package main

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"cell/internal/adminapi"
	"cell/internal/router"
)

// newAdminServer wires table, the node's admin socket path, introspector,
// and dial (the node's own router.DialAdmin) into a running admin surface.
func newAdminServer(table *router.Table, sockPath string, introspector adminapi.Introspector, dial adminapi.Dialer) *adminapi.Server {
	return adminapi.Open(table, sockPath, introspector, dial)
}

// Routes implements adminapi.Introspector: every cluster route's live
// terminal set, keyed by cell name.
func (n *node) Routes(context.Context) (*structpb.Struct, error) {
	fields := make(map[string]interface{})
	for name, cluster := range n.table.Clusters() {
		terminals := make([]interface{}, 0)
		for _, t := range cluster.All() {
			terminals = append(terminals, map[string]interface{}{
				"id":       t.ID,
				"ip":       t.IP,
				"port":     float64(t.Port),
				"stale":    t.Stale,
				"last_seen": t.LastSeen.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
		}
		fields[name] = terminals
	}
	return structpb.NewStruct(fields)
}

// Registry implements adminapi.Introspector: the persisted mirror's view,
// which may lag the live table by up to one flush interval.
func (n *node) Registry(context.Context) (*structpb.Struct, error) {
	all, err := n.store.LoadAll()
	if err != nil {
		return nil, err
	}
	fields := make(map[string]interface{})
	for name, terminals := range all {
		ids := make([]interface{}, 0, len(terminals))
		for _, t := range terminals {
			ids = append(ids, t.ID)
		}
		fields[name] = ids
	}
	return structpb.NewStruct(fields)
}

// RaftStatus implements adminapi.Introspector. celld itself runs no Raft
// node: consensus is owned per-cell by whatever cell binary the
// Supervisor spawns, not by the node daemon.
func (n *node) RaftStatus(context.Context) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"note": "raft runs inside individual cell processes, not celld itself",
	})
}
