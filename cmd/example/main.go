package main

import (
	"context"
	"fmt"
	"log"
	"os"

	rewritedb "github.com/rewritedb/rewritedb"
	"github.com/rewritedb/rewritedb/internal/config"
	"github.com/rewritedb/rewritedb/pkg/cid"
	"github.com/rewritedb/rewritedb/pkg/logging"
	"github.com/rewritedb/rewritedb/pkg/model"
	"github.com/rewritedb/rewritedb/pkg/rewrite"
	"github.com/rewritedb/rewritedb/pkg/rule"
)

func main() {
	conf := rewritedb.Config{Logger: logging.Default()}

	// An optional config.yaml switches the example to on-disk storage.
	if _, err := os.Stat("config.yaml"); err == nil {
		fileConf, err := config.Load("config.yaml")
		if err != nil {
			log.Fatalf("load config: %s", err)
		}
		conf.Paths = fileConf.Paths
		conf.MinimumFreeGB = fileConf.MinimumFreeGB
		conf.Hash = cid.Algorithm(fileConf.Hash)
	}

	ctx := context.Background()

	db, err := rewritedb.New(conf)
	if err != nil {
		log.Fatalf("init: %s", err)
	}
	if err := db.Start(ctx); err != nil {
		log.Fatalf("start: %s", err)
	}
	defer db.CloseWithoutContext()

	initialRoot, err := seed(ctx, db)
	if err != nil {
		log.Fatalf("seed: %s", err)
	}
	fmt.Printf("seeded graph at root %s\n", initialRoot)

	// Collapse every KNOWS relation into its source vertex.
	dedupe := &rule.Rule{
		Name: "collapse-knows",
		LHS: rule.Pattern{
			Nodes: []rule.PatternNode{
				{Var: "p1", Labels: []string{"Person"}},
				{Var: "p2", Labels: []string{"Person"}},
			},
			Edges: []rule.PatternEdge{
				{Var: "e", Src: "p1", Dst: "p2", Label: "KNOWS"},
			},
		},
		Context: rule.Pattern{
			Nodes: []rule.PatternNode{{Var: "p1", Labels: []string{"Person"}}},
		},
		RHS: rule.Pattern{
			Nodes: []rule.PatternNode{{Var: "p1", Labels: []string{"Person"}}},
		},
	}

	res, err := db.Run(ctx, rewrite.Exhaust{
		Rule:    dedupe,
		Measure: rewrite.EdgeCountNonincreasing,
	})
	if err != nil {
		log.Fatalf("run: %s", err)
	}
	fmt.Printf("applied %d rewrites, new root %s\n", res.Applied, res.Root)

	snap, err := db.Snapshot()
	if err != nil {
		log.Fatalf("snapshot: %s", err)
	}
	vertices, edges, err := snap.Counts()
	if err != nil {
		log.Fatalf("counts: %s", err)
	}
	fmt.Printf("current graph: %d vertices, %d edges\n", vertices, edges)

	// Old roots stay readable: time-travel back to the seeded graph.
	old, err := db.SnapshotAt(initialRoot)
	if err != nil {
		log.Fatalf("snapshot at %s: %s", initialRoot, err)
	}
	vertices, edges, err = old.Counts()
	if err != nil {
		log.Fatalf("counts: %s", err)
	}
	fmt.Printf("graph at old root: %d vertices, %d edges\n", vertices, edges)
}

// seed commits a small social graph and returns the committed root.
func seed(ctx context.Context, db *rewritedb.DB) (cid.Cid, error) {
	tx, err := db.Begin()
	if err != nil {
		return cid.Cid{}, err
	}
	patch := &model.Patch{
		AddVertices: []model.VertexRecord{
			{ID: "alice", Labels: []string{"Person"}, Props: map[string]model.Value{"name": model.S("Alice")}},
			{ID: "bob", Labels: []string{"Person"}, Props: map[string]model.Value{"name": model.S("Bob")}},
			{ID: "carol", Labels: []string{"Person"}, Props: map[string]model.Value{"name": model.S("Carol")}},
		},
		AddEdges: []model.EdgeRecord{
			{ID: "k1", Src: "alice", Dst: "bob", Label: "KNOWS"},
			{ID: "k2", Src: "bob", Dst: "carol", Label: "KNOWS"},
		},
	}
	if err := db.MVCC().Stage(tx, patch); err != nil {
		return cid.Cid{}, err
	}
	return db.MVCC().Commit(ctx, tx)
}
