package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/lumen/cli/render"
	"github.com/justapithecus/lumen/coordinator"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// VersionCommand returns the version command. It reports the agent
// version every session summary is stamped with; it never touches the
// repository.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: []cli.Flag{FormatFlag, NoColorFlag, TUIFlag},
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}

			// TUI not supported for version command
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for version command", 1)
			}

			resp := VersionResponse{
				Version: coordinator.AgentVersion,
				Commit:  commit,
			}

			return r.Render(resp)
		},
	}
}
