package migrate

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/cmd/cmdutil"
	"github.com/mpapenbr/iracelog-racemodel/pkg/config"
	"github.com/mpapenbr/iracelog-racemodel/pkg/db/migrate"
	"github.com/mpapenbr/iracelog-racemodel/pkg/db/sqlite"
)

func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "performs database migration",
		Long: `Applies the migrations of the artifact store. This is the postgres database
if --db is set, the sqlite file otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return startMigration(cmd.Context())
		},
	}
	return cmd
}

func startMigration(ctx context.Context) error {
	if _, err := cmdutil.SetupLogging(); err != nil {
		return err
	}
	if config.DB == "" {
		log.Info("Migrating sqlite store", log.String("file", config.SQLiteFile))
		db, err := sqlite.Open(ctx, config.SQLiteFile)
		if err != nil {
			return err
		}
		return db.Close()
	}
	if err := cmdutil.WaitForServices(ctx); err != nil {
		log.Error("database not ready", log.ErrorField(err))
		return err
	}
	log.Info("Migrating postgres store")
	return migrate.MigrateDb(config.DB)
}
