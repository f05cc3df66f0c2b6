package main

import (
	"os"

	"github.com/dendro-project/compute-resource-daemon/internal/janitor"

	"github.com/dendro-project/compute-resource-daemon/cmd/computeresource/cmd"
)

func main() {
	// The janitor worker is re-exec'd from within this same binary (C7).
	// It is intercepted here, before cobra ever sees argv, since it is
	// never a user-facing subcommand.
	if len(os.Args) >= 3 && os.Args[1] == janitor.WorkerFlag {
		janitor.RunWorker(os.Args[2])
		return
	}

	cmd.Execute()
}
