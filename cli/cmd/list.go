package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/lumen/cli/reader"
	"github.com/justapithecus/lumen/cli/render"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ListCommand returns the list command with subcommands.
// List returns thin slices, not inspect-level detail.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List entities (sessions)",
		Subcommands: []*cli.Command{
			listSessionsCommand(),
		},
	}
}

func listSessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "List sessions in the local repository",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "state",
				Usage: "Filter by state: running, normal, crashed",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of sessions to return (0 = no limit)",
				Value: 0,
			},
		),
		Action: listSessionsAction,
	}
}

func listSessionsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	// TUI not supported for list commands
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for list commands", 1)
	}

	repo, err := openRepo(c)
	if err != nil {
		return err
	}
	defer repo.Close()

	opts := reader.ListSessionsOptions{
		Status: c.String("state"),
		Limit:  c.Int("limit"),
	}

	results := reader.ListSessions(repo, opts)

	// Warn if output is large and --limit was not specified (TTY only to avoid noise in pipelines)
	if len(results) > listWarningThreshold && opts.Limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(results))
	}

	return r.Render(results)
}
