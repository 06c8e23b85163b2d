package cmd

import (
	"fmt"
	"strconv"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/materials-commons/mcload/pkg/chunkstore"
	"github.com/materials-commons/mcload/pkg/config"
	"github.com/materials-commons/mcload/pkg/mcdb"
	"github.com/materials-commons/mcload/pkg/mcdb/stor"
	"github.com/materials-commons/mcload/pkg/mcloadd/webapi"
	"github.com/materials-commons/mcload/pkg/merge"
	"github.com/materials-commons/mcload/pkg/sniff"
	"github.com/materials-commons/mcload/pkg/upload"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.LoadSettings(config.GetConfig())
		if err != nil {
			return err
		}

		if err := settings.EnsureDirs(); err != nil {
			return err
		}

		db, err := openDB(settings)
		if err != nil {
			return err
		}

		if err := mcdb.RunMigrations(db); err != nil {
			return fmt.Errorf("unable to migrate database: %w", err)
		}

		stors := stor.NewGormStors(db)
		chunks := chunkstore.New(settings.StagingDir)
		coordinator := upload.NewCoordinator(chunks, merge.New(chunks, settings.FilesDir), stors.FileMappingStor)
		coordinator.MergeTimeout = settings.MergeTimeout

		if pending, err := coordinator.Pending(); err != nil {
			log.Warnf("Unable to scan staging dir %s: %s", chunks.Root(), err)
		} else if len(pending) != 0 {
			log.Infof("%d uploads still waiting on chunks in %s", len(pending), chunks.Root())
		}

		service := upload.NewService(stors.FileMappingStor, sniff.New())
		if missing, err := service.MissingFiles(); err != nil {
			log.Warnf("Unable to check file mappings: %s", err)
		} else {
			for _, fm := range missing {
				log.Warnf("File mapping %d (%s) has no file at %s", fm.ID, fm.Name, fm.Path)
			}
		}

		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		e.Use(middleware.Recover())

		webapi.SetupRoutes(e, webapi.RouteOpts{
			Coordinator:      coordinator,
			Service:          service,
			MaxChunkBytes:    settings.MaxChunkBytes,
			DefaultDelimiter: settings.DefaultDelimiter,
		})

		log.Infof("Staging dir: %s, files dir: %s, db: %s", settings.StagingDir, settings.FilesDir, settings.DBDriver)
		log.Infof("Listening on port %d", settings.Port)

		if err := e.Start(":" + strconv.Itoa(settings.Port)); err != nil {
			log.Fatalf("Unable to start server: %v", err)
		}

		return nil
	},
}

func openDB(settings *config.Settings) (*gorm.DB, error) {
	if settings.DBDriver == config.DBDriverSqlite {
		return mcdb.OpenSqlite(settings.SqliteDSN)
	}

	return mcdb.MustConnectToDB(), nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("staging-dir", "", "directory for chunks of in-flight uploads (env: MCLOAD_STAGING_DIR)")
	serveCmd.Flags().String("files-dir", "", "directory for merged files (env: MCLOAD_FILES_DIR)")
	serveCmd.Flags().String("port", "", "port to listen on (env: MCLOAD_PORT, default 1360)")
	serveCmd.Flags().String("db-driver", "", "mysql or sqlite (env: MCLOAD_DB_DRIVER)")
	serveCmd.Flags().String("sqlite-dsn", "", "sqlite data source (env: MCLOAD_SQLITE_DSN)")

	mustBind(serveCmd, config.KeyStagingDir, "staging-dir")
	mustBind(serveCmd, config.KeyFilesDir, "files-dir")
	mustBind(serveCmd, config.KeyPort, "port")
	mustBind(serveCmd, config.KeyDBDriver, "db-driver")
	mustBind(serveCmd, config.KeySqliteDSN, "sqlite-dsn")
}
