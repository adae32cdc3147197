// Command chorus hosts the multi-agent coordination runtime described
// in spec §6: create scaffolds a workspace, run starts its agents and
// blocks until a stop condition fires, checkpoint round-trips saved
// state, and agent-host is the re-exec entry point each spawned agent
// process runs under.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "run":
		err = runRun(os.Args[2:])
	case "checkpoint":
		err = runCheckpoint(os.Args[2:])
	case "agent-host":
		err = runAgentHost(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "chorus: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "chorus: %v\n", err)
		os.Exit(exitCodeForError(err))
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage:
  chorus create -w NAME [--template NAME]
  chorus run -w NAME [-i INPUT] [--debug] [--visual] [--visual-port N]
  chorus checkpoint -w NAME --save PATH | --load PATH`)
}
