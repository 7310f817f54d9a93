// Copyright 2024 The Gaia Authors
// This file is part of Gaia.
//
// Gaia is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Gaia is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Gaia. If not, see <http://www.gnu.org/licenses/>.

// Command dtreeinspect dumps and checks a single DTree container (§6,
// §8 scenario 5). There is no persistent storage engine in this module
// (gaia/rpc/fake is purely in-memory, §4.7), so dtreeinspect always
// operates against a fresh local server it seeds itself with --demo
// rather than attaching to a running cluster process; -r/-s/-c then run
// against whatever that seed produced.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gaiadb/gaia"
	"github.com/gaiadb/gaia/dtree"
	"github.com/gaiadb/gaia/rpc/fake"
	"github.com/gaiadb/gaia/txn"
	"github.com/gaiadb/gaia/valbuf"
)

var (
	flagCheck   bool
	flagRaw     bool
	flagSummary bool
	flagDemo    string
)

func main() {
	root := &cobra.Command{
		Use:   "dtreeinspect container_id [object_id]",
		Short: "Inspect and validate a DTree container",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  run,
	}
	root.Flags().BoolVarP(&flagCheck, "check", "c", false, "run the fence-key/sibling invariant checker")
	root.Flags().BoolVarP(&flagRaw, "raw", "r", false, "dump every raw oid in the container")
	root.Flags().BoolVarP(&flagSummary, "summary", "s", false, "print cell-count/height summary per node")
	root.Flags().StringVar(&flagDemo, "demo", "", `seed the container before inspecting: "good" or "corrupt"`)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if !flagCheck && !flagRaw && !flagSummary {
		return fmt.Errorf("at least one of -c, -r, -s is required")
	}
	cid, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return fmt.Errorf("parsing container_id: %w", err)
	}
	var filterOid gaia.Oid
	hasFilter := false
	if len(args) == 2 {
		oid, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("parsing object_id: %w", err)
		}
		filterOid = gaia.Oid(oid)
		hasFilter = true
	}

	ctx := context.Background()
	log := zap.NewNop().Sugar()
	server := fake.NewServer(log, 64)

	deps := txn.Deps{Log: log, Local: server}
	tids := gaia.NewTidAllocator(1, os.Getpid())
	oids := gaia.NewOidAllocator(1, 1)
	rootCid := gaia.EphemeralCid(cid)

	if flagDemo != "" {
		if err := seedDemo(ctx, deps, tids, oids, rootCid, flagDemo); err != nil {
			return fmt.Errorf("seeding demo tree: %w", err)
		}
	}

	if flagRaw || flagSummary {
		if err := printDump(ctx, deps, tids, server, rootCid, flagRaw, flagSummary, hasFilter, filterOid); err != nil {
			return err
		}
	}

	if flagCheck {
		return runCheck(ctx, deps, tids, oids, rootCid)
	}
	return nil
}

// seedDemo builds a small intkey tree via ordinary Cursor.Insert calls
// ("good"); "corrupt" afterward swaps the keys of the root's first two
// cells, leaving them out of order for -c to report.
func seedDemo(ctx context.Context, deps txn.Deps, tids *gaia.TidAllocator, oids *gaia.OidAllocator, rootCid gaia.Cid, kind string) error {
	// Tree bootstrap is out of the core's scope (§1 Non-goals: "process
	// bootstrap" is a collaborator concern) — dtreeinspect's demo mode
	// has to do it itself, the way a SQL front-end's CREATE TABLE would.
	bootstrap := txn.New(deps)
	bootstrap.Start(tids.Next())
	root := gaia.Coid{Cid: rootCid, Oid: 0}
	if err := bootstrap.WriteSuperValue(ctx, root, valbuf.NewLeaf(true, nil)); err != nil {
		return err
	}
	if _, err := bootstrap.TryCommit(ctx); err != nil {
		return err
	}

	tx := txn.New(deps)
	tx.Start(tids.Next())
	c := dtree.New(tx, rootCid, true, nil, oids)
	for i := int64(0); i < 8; i++ {
		if err := c.Insert(ctx, i, nil, 0, []byte(fmt.Sprintf("row-%d", i))); err != nil {
			return err
		}
	}
	if _, err := tx.TryCommit(ctx); err != nil {
		return err
	}

	if kind != "corrupt" {
		return nil
	}

	tx = txn.New(deps)
	tx.Start(tids.Next())
	vb, err := tx.Vsuperget(ctx, root, valbuf.Cell{}, false, nil)
	if err != nil {
		return err
	}
	sv := vb.SV
	if sv.Ncells() < 2 {
		return fmt.Errorf("demo tree has too few cells to corrupt")
	}
	// ListAdd/ListDelRange keep cells sorted, so producing an I2 violation
	// means bypassing them: swap Cells[0] and Cells[1]'s keys directly in
	// the in-memory SuperValue and write the whole node back.
	sv.Cells[0].NKey, sv.Cells[1].NKey = sv.Cells[1].NKey, sv.Cells[0].NKey
	if err := tx.WriteSuperValue(ctx, root, sv); err != nil {
		return err
	}
	_, err = tx.TryCommit(ctx)
	return err
}

// printDump implements -r/-s: -r lists every live oid in the container
// with its cell count and children; -s prints per-node height,
// leaf/intkey flags, and byte size, the way a quick container
// census would in a real cluster's admin tool. With an object_id
// argument it reports on that single oid instead of the whole container.
func printDump(ctx context.Context, deps txn.Deps, tids *gaia.TidAllocator, server *fake.Server, rootCid gaia.Cid, raw, summary, hasFilter bool, filterOid gaia.Oid) error {
	tx := txn.New(deps)
	tx.Start(tids.Next())
	defer tx.Abort(ctx)

	coids := server.CoidsForCid(rootCid)
	if hasFilter {
		coids = []gaia.Coid{{Cid: rootCid, Oid: filterOid}}
	}
	for _, coid := range coids {
		vb, err := tx.Vsuperget(ctx, coid, valbuf.Cell{}, false, nil)
		if err != nil {
			fmt.Printf("%s: read error: %v\n", coid, err)
			continue
		}
		sv := vb.SV
		kind := "inner"
		if sv.IsLeaf() {
			kind = "leaf"
		}
		if raw {
			fmt.Printf("%s %s ncells=%d left=%x right=%x lastptr=%x cells=%v\n",
				coid, kind, sv.Ncells(), sv.LeftPtr(), sv.RightPtr(), sv.LastPtr(), sv.Cells)
		}
		if summary {
			fmt.Printf("%s %s height=%d intkey=%v size=%d\n",
				coid, kind, sv.Height(), sv.IsIntKey(), sv.CellsSize)
		}
	}
	return nil
}

func runCheck(ctx context.Context, deps txn.Deps, tids *gaia.TidAllocator, oids *gaia.OidAllocator, rootCid gaia.Cid) error {
	tx := txn.New(deps)
	tx.Start(tids.Next())
	c := dtree.New(tx, rootCid, true, nil, oids)

	violations, err := c.CheckFences(ctx)
	if err != nil {
		tx.Abort(ctx)
		return err
	}
	tx.Abort(ctx)

	if len(violations) == 0 {
		fmt.Println("ok: no fence-key or sibling invariant violations found")
		return nil
	}
	for _, v := range violations {
		fmt.Println(v.String())
	}
	return fmt.Errorf("%d invariant violation(s) found", len(violations))
}
