package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ipfs-publish/cli/output"
)

// ConfigCommand returns the config command, which prints the settings
// serve would run with.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:   "config",
		Usage:  "Show the resolved service configuration",
		Flags:  append(SettingsFlags(), output.FormatFlag),
		Action: configAction,
	}
}

func configAction(c *cli.Context) error {
	r, err := output.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	settings, err := resolveSettings(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfigError)
	}
	return r.Render(NewSettingsView(settings))
}
