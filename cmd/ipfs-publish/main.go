// Package main provides the ipfs-publish entrypoint.
//
// Usage:
//
//	ipfs-publish serve [--config ipfs-publish.yaml] [options]
//	ipfs-publish config [options]
//	ipfs-publish version [--format json|yaml|table]
//
// Exit codes:
//   - 0: clean shutdown
//   - 1: serve failure
//   - 2: invalid configuration
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ipfs-publish/cli/cmd"
	"github.com/pithecene-io/ipfs-publish/types"
)

// commit is set via -ldflags "-X main.commit=...".
var commit = "unknown"

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:           "ipfs-publish",
		Usage:          "Publish uploaded files to IPFS over HTTP",
		Version:        types.Version,
		Writer:         stdout,
		ErrWriter:      stderr,
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.ConfigCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitErrHandler prints err and exits with its cli.ExitCoder code, or 1.
// Messages that only restate the code are not printed.
func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}
	w := io.Writer(os.Stderr)
	if c != nil && c.App != nil && c.App.ErrWriter != nil {
		w = c.App.ErrWriter
	}

	var coder cli.ExitCoder
	if !errors.As(err, &coder) {
		_, _ = fmt.Fprintf(w, "Error: %v\n", err)
		cli.OsExiter(1)
		return
	}

	code := coder.ExitCode()
	if msg := coder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
		_, _ = fmt.Fprintln(w, msg)
	}
	cli.OsExiter(code)
}
