package main

import (
	"io"
	"os"

	"github.com/alecthomas/kong"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// Globals are handed to every command's Run method.
type Globals struct {
	ConfigPath string
	Out        io.Writer
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("flowmesh"),
		kong.Description("Graph-based workflow runtime for AI agent flows."),
		kong.UsageOnError(),
		kongVars(),
	)
	err := kctx.Run(&Globals{ConfigPath: cli.Config, Out: os.Stdout})
	kctx.FatalIfErrorf(err)
}
