package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/IshaVishwakarma/llm-observability/config"
	"github.com/IshaVishwakarma/llm-observability/repositories"
	"github.com/IshaVishwakarma/llm-observability/repositories/sqlstore"
)

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	databaseURL string
	verbose     bool
}

// store is an open record store for the lifetime of one command
type store struct {
	factory *sqlstore.RepositoryFactory
	records repositories.CallRecordRepository
	logger  *zap.Logger
}

func (s *store) Close() error {
	err := s.factory.Close()
	_ = s.logger.Sync()
	return err
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "llmobsctl",
		Short: "Inspect recorded LLM calls",
		Long: `llmobsctl reads the same record store as the observability API and prints
summaries, alerts, recent calls, trends and per-session analytics.

The store is selected with --database-url or the DATABASE_URL environment
variable (postgres://, postgresql://, sqlite:// or file:).`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "record store URL (defaults to $DATABASE_URL)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log store activity to stderr")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newSummaryCmd(opts),
		newAlertsCmd(opts),
		newLogsCmd(opts),
		newTrendCmd(opts),
		newSessionCmd(opts),
		newShowCmd(opts),
	)

	return cmd
}

// openStore connects to the configured store. The schema is only created
// by migrate.
func (o *rootOptions) openStore(ctx context.Context) (*store, error) {
	url := o.databaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return nil, errors.New("no record store configured: pass --database-url or set DATABASE_URL")
	}

	logger := zap.NewNop()
	if o.verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}

	factory, err := sqlstore.NewRepositoryFactory(config.NewDatabaseConfig(url), logger)
	if err != nil {
		return nil, err
	}

	return &store{
		factory: factory,
		records: factory.NewRepositories().CallRecords,
		logger:  logger,
	}, nil
}
