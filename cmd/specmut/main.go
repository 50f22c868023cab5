package main

import (
	"fmt"
	"os"

	"github.com/roach88/specmut/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "specmut: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
