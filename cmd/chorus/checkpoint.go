package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/chorusrt/chorus/internal/runner"
)

// runCheckpoint implements `chorus checkpoint -w NAME --save PATH` and
// `chorus checkpoint -w NAME --load PATH`, a standalone entry point to
// the sqlite-backed checkpoint store so a workspace's state can be
// inspected or moved without starting its router and agents.
func runCheckpoint(args []string) error {
	fs := flag.NewFlagSet("checkpoint", flag.ExitOnError)
	workspace := fs.String("w", "", "workspace name")
	save := fs.String("save", "", "checkpoint db path to save the workspace's current state to")
	load := fs.String("load", "", "checkpoint db path to print the workspace's saved state from")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workspace == "" {
		return fmt.Errorf("checkpoint: -w is required")
	}
	if (*save == "") == (*load == "") {
		return fmt.Errorf("checkpoint: exactly one of --save or --load is required")
	}

	path := *save
	if path == "" {
		path = *load
	}
	store, err := runner.OpenCheckpointStore(path)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if *load != "" {
		cp, err := store.Load(ctx, *workspace)
		if err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cp)
	}

	// --save with no running runner has nothing to snapshot beyond an
	// empty checkpoint; this path exists for scripted workflows that
	// later Add the resulting agent list via runner.LoadCheckpoint.
	cp := runner.Checkpoint{WorkspaceName: *workspace}
	if err := store.Save(ctx, cp); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	fmt.Printf("saved empty checkpoint for workspace %s to %s\n", *workspace, path)
	return nil
}
