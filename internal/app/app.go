// Package app wires the job-processing engine's components into one
// runnable unit: a single struct built by NewApp that cmd/autobolt-runner
// starts and stops.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/autobolt/runner/internal/advisors"
	"github.com/autobolt/runner/internal/breaker"
	"github.com/autobolt/runner/internal/catalog"
	"github.com/autobolt/runner/internal/common"
	"github.com/autobolt/runner/internal/controlplane"
	"github.com/autobolt/runner/internal/driver"
	"github.com/autobolt/runner/internal/health"
	"github.com/autobolt/runner/internal/interfaces"
	"github.com/autobolt/runner/internal/reporter"
	"github.com/autobolt/runner/internal/resource"
	"github.com/autobolt/runner/internal/retry"
	"github.com/autobolt/runner/internal/runner"
	"github.com/autobolt/runner/internal/scheduler"
)

// App holds every initialised collaborator and the Runner that drives them.
type App struct {
	Config *common.Config
	Logger *common.Logger

	ControlPlane interfaces.ControlPlane
	Catalog *catalog.Catalog
	Health *health.Monitor
	Breakers *breaker.Registry
	Reporter *reporter.Reporter
	Proxy *resource.Proxy
	Driver interfaces.SubmissionDriver
	Advisors interfaces.Advisors

	Runner *runner.Runner

	advisorClient *advisors.Client
}

// NewApp loads configuration, initialises every collaborator, and assembles
// a Runner. configPath, if non-empty, is tried before the environment's
// documented config-file fallbacks.
func NewApp(configPath string) (*App, error) {
	common.LoadVersionFromFile()

	cfg, err:= common.LoadConfig(configPath, "./autobolt.toml", "/etc/autobolt/autobolt.toml")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "autobolt-" + uuid.NewString()[:8]
	}
	if err:= cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger:= common.NewLogger(cfg.Logging.Level)

	breakers:= breaker.NewRegistry(breaker.DefaultThreshold, breaker.DefaultResetTimeout)
	proxy:= resource.NewProxy(cfg.MaxConcurrentAttempts)
	healthMonitor:= health.NewMonitor(logger, proxy)

	cat:= catalog.NewCatalog(logger, healthMonitor)
	catalogPath, err:= catalog.ResolveCatalogPath(cfg.DirectoryListPath, common.DefaultCatalogSearchPaths())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory catalog: %w", err)
	}
	if err:= cat.Load(catalogPath); err != nil {
		return nil, fmt.Errorf("failed to load directory catalog from %s: %w", catalogPath, err)
	}
	logger.Info().Str("path", catalogPath).Int("count", cat.Len()).Msg("directory catalog loaded")

	plane:= controlplane.NewClient(cfg.APIBase, cfg.APIKey, cfg.WorkerID,
		controlplane.WithLogger(logger),
		controlplane.WithRateLimit(controlplane.DefaultRateLimit),
		controlplane.WithRetryPolicy(retry.DefaultAPIPolicy()),
	)

	rep:= reporter.New(plane, logger, cfg.WorkerID)

	localDriver:= driver.NewLocalDriver(driver.WithLogger(logger))
	var submissionDriver interfaces.SubmissionDriver = localDriver

	var alternateDriver interfaces.SubmissionDriver
	if alternateBase:= os.Getenv("AUTOBOLT_ALTERNATE_DRIVER_URL"); alternateBase != "" {
		alternateDriver = driver.NewAlternateDriver(alternateBase, cfg.APIKey, driver.WithAlternateLogger(logger))
	}

	advisorSet, advisorClient:= buildAdvisors(logger)

	schedCfg:= scheduler.Config{
		MaxConcurrentAttempts: cfg.MaxConcurrentAttempts,
		DirDelayMin: cfg.DirDelayMin,
		DirDelayMax: cfg.DirDelayMax,
		AttemptTimeout: cfg.AttemptTimeout,
		AIProbabilityThreshold: cfg.AIProbabilityThreshold,
		EscalationThreshold: int(cfg.EscalationThreshold),
		RetryPolicy: retry.DefaultDirectoryPolicy(),
	}
	sched:= scheduler.New(schedCfg, scheduler.Dependencies{
		Driver: submissionDriver,
		AlternateDriver: alternateDriver,
		Advisors: advisorSet,
		Breaker: breakers,
		Health: healthMonitor,
		Reporter: rep,
		Logger: logger,
		Proxy: proxy,
	})

	r:= runner.New(runner.Config{
		WorkerID: cfg.WorkerID,
		PollInterval: cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, runner.Dependencies{
		ControlPlane: plane,
		Catalog: cat,
		Scheduler: sched,
		Reporter: rep,
		Driver: submissionDriver,
		AlternateDriver: alternateDriver,
		Health: healthMonitor,
		Logger: logger,
	})

	return &App{
		Config: cfg,
		Logger: logger,
		ControlPlane: plane,
		Catalog: cat,
		Health: healthMonitor,
		Breakers: breakers,
		Reporter: rep,
		Proxy: proxy,
		Driver: submissionDriver,
		Advisors: advisorSet,
		Runner: r,
		advisorClient: advisorClient,
	}, nil
}

// buildAdvisors constructs the optional AI advisor set. Absence of a
// GOOGLE_AI_API_KEY degrades to no advisors, per "their absence must not
// break correctness".
func buildAdvisors(logger *common.Logger) (interfaces.Advisors, *advisors.Client) {
	apiKey:= os.Getenv("GOOGLE_AI_API_KEY")
	if apiKey == "" {
		logger.Info().Msg("GOOGLE_AI_API_KEY not set, running without AI advisors")
		return interfaces.Advisors{}, nil
	}

	ctx, cancel:= context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err:= advisors.NewClient(ctx, apiKey, advisors.WithLogger(logger))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialise AI advisor client, running without advisors")
		return interfaces.Advisors{}, nil
	}

	return interfaces.Advisors{
		Oracle: client,
		Customiser: client,
		FieldMapper: client,
	}, client
}

// Close releases resources held by the app's collaborators.
func (a *App) Close() error {
	var firstErr error
	if a.advisorClient != nil {
		if err:= a.advisorClient.Close(); err != nil {
			firstErr = err
		}
	}
	return firstErr
}

func init() {
	rand.Seed(time.Now().UnixNano())
}
