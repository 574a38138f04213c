package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/lumen/cli/reader"
	"github.com/justapithecus/lumen/cli/render"
)

// InspectCommand returns the inspect command with subcommands.
// Inspect returns a deep view of a single entity.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a single entity (session)",
		Subcommands: []*cli.Command{
			inspectSessionCommand(),
		},
	}
}

func inspectSessionCommand() *cli.Command {
	return &cli.Command{
		Name:      "session",
		Usage:     "Inspect a session by ID",
		ArgsUsage: "<session-id>",
		Flags:     TUIReadOnlyFlags(),
		Action:    inspectSessionAction,
	}
}

func inspectSessionAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("session-id required", 1)
	}
	sessionID := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	repo, err := openRepo(c)
	if err != nil {
		return err
	}
	defer repo.Close()

	resp, err := reader.InspectSession(repo, sessionID)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI("inspect_session", resp)
	}

	return r.Render(resp)
}
