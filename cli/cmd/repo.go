package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/lumen/cli/reader"
	"github.com/justapithecus/lumen/coordinator"
	"github.com/justapithecus/lumen/repository"
)

// openRepo resolves the --repo/--product flags into an opened, refreshed
// repository. Callers must Close it.
func openRepo(c *cli.Context) (*repository.Repository, error) {
	root := c.String("repo")
	if root == "" {
		root = coordinator.DefaultRepositoryRoot()
	}
	return reader.OpenRepository(root, c.String("product"))
}
