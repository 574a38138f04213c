package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/lumen/cli/reader"
	"github.com/justapithecus/lumen/cli/render"
)

// StatsCommand returns the stats command with subcommands.
// Stats returns aggregated, derived facts.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregated statistics (sessions, session)",
		Subcommands: []*cli.Command{
			statsSessionsCommand(),
			statsSessionCommand(),
		},
	}
}

func statsSessionsCommand() *cli.Command {
	return &cli.Command{
		Name:   "sessions",
		Usage:  "Show repository-wide session statistics",
		Flags:  TUIReadOnlyFlags(),
		Action: statsSessionsAction,
	}
}

func statsSessionsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	repo, err := openRepo(c)
	if err != nil {
		return err
	}
	defer repo.Close()

	resp := reader.StatsSessions(repo)

	if c.Bool("tui") {
		return r.RenderTUI("stats_sessions", resp)
	}

	return r.Render(resp)
}

func statsSessionCommand() *cli.Command {
	return &cli.Command{
		Name:      "session",
		Usage:     "Show derived statistics for one session (decodes the full packet stream)",
		ArgsUsage: "<session-id>",
		Flags:     TUIReadOnlyFlags(),
		Action:    statsSessionAction,
	}
}

func statsSessionAction(c *cli.Context) error {
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

	resp, err := reader.StatsSession(repo, sessionID)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI("stats_session", resp)
	}

	return r.Render(resp)
}
