package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"flowcast/internal/api"
	"flowcast/internal/config"
	"flowcast/internal/logging"
	"flowcast/internal/simulation"
	"flowcast/internal/store"
	"flowcast/internal/taskrunner"
)

var (
	// Version, Commit, and BuildDate are set at build time via ldflags.
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	verbose bool
	cfg     *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "flowcast",
	Short: "Flowcast is a probabilistic delivery forecasting service",
	Long: `A forecasting server that answers delivery questions (when, how many, can we
meet the deadline) with Monte-Carlo simulation over throughput history, and
portfolio-level questions with joint simulation, Cost-of-Delay sequencing and
constrained project selection.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(verbose)

		var err error
		cfg, err = config.Load()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}

		log.Info().
			Str("version", Version).
			Str("commit", Commit).
			Str("buildDate", BuildDate).
			Msg("Flowcast starting")
	},
	Run: func(cmd *cobra.Command, args []string) {
		db := mustOpenDB()
		defer db.Close()
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database schema")
		}

		runner := taskrunner.New(taskrunner.Options{
			Workers:   cfg.WorkerPoolSize,
			Highwater: cfg.TaskQueueHighwater,
			ResultTTL: cfg.TaskResultTTL,
		})

		server := api.NewServer(cfg, store.NewRepository(db), simulation.NewEngine(), runner)
		log.Info().Str("port", cfg.Port).Msg("HTTP server starting")
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server exited")
		}
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema and exit",
	Run: func(cmd *cobra.Command, args []string) {
		db := mustOpenDB()
		defer db.Close()
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}
		log.Info().Str("db", cfg.DatabaseURL).Msg("Schema up to date")
	},
}

func mustOpenDB() *store.DB {
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.DatabaseURL).Msg("Failed to open database")
	}
	return db
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.AddCommand(migrateCmd)
}
