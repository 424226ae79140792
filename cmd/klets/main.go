// Command klets runs the citizen question-answering assistant.
//
// Usage:
//
//	klets serve --config klets.yaml
//	klets ask "Wat is een DPIA?"
//	klets sessions list
//	klets sessions delete <id>
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kletsmajoor/klets/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP API server."`
	Ask      AskCmd      `cmd:"" help:"Run a single turn from the command line."`
	Sessions SessionsCmd `cmd:"" help:"Manage stored sessions."`

	Config   string `short:"c" help:"Path to config file." default:"klets.yaml" type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogJSON  bool   `help:"Emit structured JSON logs."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("klets %s\n", version)
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("klets"),
		kong.Description("Klets - AI-assistent voor gemeentelijke vragen"),
		kong.UsageOnError(),
	)

	if err := initLogger(cli.LogLevel, cli.LogJSON); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
