// Package main provides mdibctl, a tool to inspect MDIB snapshots and to run
// a simulated device against a client replica.
package main

import (
	"os"

	"github.com/Draegerwerk/sdc11073-sub000/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, cli.Environ()))
}
