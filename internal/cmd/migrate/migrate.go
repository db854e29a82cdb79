package migrate

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/chirino/resume-chat/internal/config"
	registrymigrate "github.com/chirino/resume-chat/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Store plugins register their migrators in init().
	_ "github.com/chirino/resume-chat/internal/plugin/store/mongo"
	_ "github.com/chirino/resume-chat/internal/plugin/store/postgres"
	_ "github.com/chirino/resume-chat/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the thread and version schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("RESUME_CHAT_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("RESUME_CHAT_DB_KIND"),
				Usage:   "Store backend (" + strings.Join(registrymigrate.Kinds(), "|") + ")",
				Value:   "postgres",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.DatastoreMigrateAtStart = true
			if err := cfg.ApplyEnvOverrides(); err != nil {
				return err
			}
			if !slices.Contains(registrymigrate.Kinds(), cfg.DatastoreType) {
				return fmt.Errorf("no migrations for store %q", cfg.DatastoreType)
			}
			return registrymigrate.RunAll(config.WithContext(ctx, &cfg))
		},
	}
}
