package migrate

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/TBoris/gorynych/log"
	"github.com/TBoris/gorynych/pkg/config"
	"github.com/TBoris/gorynych/pkg/db/migrate"
	"github.com/TBoris/gorynych/pkg/utils"
)

func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "performs database migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startMigration()
		},
	}
	return cmd
}

func startMigration() error {
	// wait for database
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}
	postgresAddr := utils.ExtractFromDBURL(config.DB)
	if err = utils.WaitForTCP(postgresAddr, timeout); err != nil {
		log.Fatal("database not ready", log.ErrorField(err))
	}

	log.Info("Migrating database", log.String("url", config.DB))
	return migrate.MigrateDb(config.DB)
}
