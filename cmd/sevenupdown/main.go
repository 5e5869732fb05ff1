package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Config    string `short:"c" default:"sevenupdown.hcl" help:"Path to HCL configuration file"`
	EnvFile   string `default:".env" help:"Optional .env file loaded before reading the environment"`
	LogLevel  string `short:"l" help:"Log level (overrides config)"`
	LogFormat string `help:"Log format: text or json (overrides config)"`
}

type CLI struct {
	Globals

	Version kong.VersionFlag `short:"v" help:"Show version"`
	Serve   ServeCmd         `cmd:"" default:"1" help:"Run the lobbies and the websocket server"`
	Migrate MigrateCmd       `cmd:"" help:"Apply history store migrations and exit"`
	History HistoryCmd       `cmd:"" help:"Print recent outcomes or a round's settlements"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("sevenupdown"),
		kong.Description("Multi-lobby seven up/down dice server"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
