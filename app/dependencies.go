package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/IshaVishwakarma/llm-observability/config"
	"github.com/IshaVishwakarma/llm-observability/internal/observability"
	"github.com/IshaVishwakarma/llm-observability/repositories"
	"github.com/IshaVishwakarma/llm-observability/repositories/sqlstore"
	"github.com/IshaVishwakarma/llm-observability/services/alerts"
	"github.com/IshaVishwakarma/llm-observability/services/analytics"
	"github.com/IshaVishwakarma/llm-observability/services/llm"
	"github.com/IshaVishwakarma/llm-observability/services/providers"
	"github.com/IshaVishwakarma/llm-observability/services/providers/openai"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *sqlstore.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *sqlstore.RepositoryFactory

	// Repositories
	CallRecords repositories.CallRecordRepository

	// Provider Registry
	ProviderRegistry *providers.Registry

	// Metrics is nil when METRICS_ENABLED is false
	Metrics *observability.PrometheusMetrics

	// Services
	LLM       *llm.Service
	Analytics *analytics.Service
	Alerts    *alerts.Evaluator
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize the record store
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewPrometheusMetrics()
	}

	// Initialize provider registry
	if err := deps.initProviders(cfg); err != nil {
		_ = deps.RepoFactory.Close()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initServices(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the store and creates the schema if needed
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := sqlstore.NewRepositoryFactory(cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return err
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()
	d.CallRecords = repos.CallRecords
	d.Logger.Info("repositories initialized")
}

// initProviders registers the OpenAI-compatible adapter for the allowed models
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry, err := NewProviderRegistry(cfg)
	if err != nil {
		return err
	}

	if cfg.Provider.APIKey == "" {
		d.Logger.Warn("provider API key not set, calls will fail upstream and be recorded as errors",
			zap.String("provider", cfg.Provider.Name))
	}
	d.Logger.Info("registered LLM providers",
		zap.Strings("providers", registry.ListProviders()),
		zap.Strings("models", registry.ListModels()))

	d.ProviderRegistry = registry
	return nil
}

// NewProviderRegistry builds a registry holding one adapter that serves
// every allowed model
func NewProviderRegistry(cfg *config.Config) (*providers.Registry, error) {
	providerCfg := providers.DefaultProviderConfig()
	providerCfg.APIKey = cfg.Provider.APIKey
	providerCfg.BaseURL = cfg.Provider.BaseURL
	if cfg.Provider.Timeout > 0 {
		providerCfg.Timeout = cfg.Provider.Timeout
	}
	providerCfg.MaxRetries = cfg.Provider.MaxRetries
	if cfg.Provider.RetryDelay > 0 {
		providerCfg.RetryDelay = cfg.Provider.RetryDelay
	}

	registry := providers.NewRegistry()
	adapter := openai.NewOpenAIAdapter(cfg.Provider.Name, providerCfg, cfg.Models.Allowed)
	if err := registry.RegisterProvider(adapter); err != nil {
		return nil, fmt.Errorf("failed to register provider %s: %w", adapter.Name(), err)
	}
	return registry, nil
}

func (d *Dependencies) initServices(cfg *config.Config) {
	var metrics observability.Metrics = observability.NopMetrics{}
	if d.Metrics != nil {
		metrics = d.Metrics
	}

	d.LLM = llm.NewService(d.ProviderRegistry, d.CallRecords, llm.Options{
		Models:        cfg.Models,
		InsertTimeout: cfg.Database.InsertTimeout,
	}, metrics, d.Logger.Named("llm"))
	d.Analytics = analytics.NewService(d.CallRecords, metrics, d.Logger.Named("analytics"))
	d.Alerts = alerts.NewEvaluator(d.CallRecords, alerts.ThresholdsFromConfig(cfg.Alerts), metrics, d.Logger.Named("alerts"))
}

// Close gracefully shuts down all dependencies. It is safe to call twice.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
		d.DB = nil
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}
