package main

import (
	"fmt"
	"os"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
