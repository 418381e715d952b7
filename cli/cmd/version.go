package cmd

import (
	"runtime"
	"runtime/debug"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ipfs-publish/cli/output"
	"github.com/pithecene-io/ipfs-publish/types"
)

// VersionResponse describes the running binary.
type VersionResponse struct {
	Version  string `json:"version" yaml:"version"`
	Commit   string `json:"commit" yaml:"commit"`
	Go       string `json:"go" yaml:"go"`
	Platform string `json:"platform" yaml:"platform"`
}

// VersionCommand returns the version command. A commit of "" or "unknown"
// falls back to the VCS revision embedded by the Go toolchain.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: []cli.Flag{output.FormatFlag},
		Action: func(c *cli.Context) error {
			r, err := output.NewRenderer(c)
			if err != nil {
				return cli.Exit(err.Error(), exitConfigError)
			}
			return r.Render(newVersionResponse(commit, debug.ReadBuildInfo))
		},
	}
}

func newVersionResponse(commit string, buildInfo func() (*debug.BuildInfo, bool)) VersionResponse {
	if commit == "" || commit == "unknown" {
		commit = vcsRevision(buildInfo)
	}
	return VersionResponse{
		Version:  types.Version,
		Commit:   commit,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func vcsRevision(buildInfo func() (*debug.BuildInfo, bool)) string {
	info, ok := buildInfo()
	if !ok {
		return "unknown"
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "unknown"
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}
