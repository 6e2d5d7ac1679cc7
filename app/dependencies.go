package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/upb/maturity-gateway/config"
	"github.com/upb/maturity-gateway/handlers"
	"github.com/upb/maturity-gateway/internal/auth"
	"github.com/upb/maturity-gateway/internal/observability"
	"github.com/upb/maturity-gateway/middleware"
	"github.com/upb/maturity-gateway/repositories"
	"github.com/upb/maturity-gateway/repositories/postgres"
	"github.com/upb/maturity-gateway/services/audit"
	"github.com/upb/maturity-gateway/services/contentpolicy"
	"github.com/upb/maturity-gateway/services/pipeline"
	"github.com/upb/maturity-gateway/services/sandbox"
	"github.com/upb/maturity-gateway/services/tools"
	"go.uber.org/zap"
)

// tokenLeeway absorbs clock skew between the gateway and the token issuer.
const tokenLeeway = 30 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Projects  repositories.ProjectRepository
	AuditLogs repositories.AuditRepository

	// Services
	AuditService *audit.AuditService
	Metrics      *observability.Metrics
	Roots        *sandbox.Roots
	Policies     *contentpolicy.Set
	Invoker      *tools.Invoker
	Tools        *tools.Registry
	Reports      *pipeline.ReportStore
	Orchestrator *pipeline.Orchestrator

	// HTTP
	HealthHandler    *handlers.HealthHandler
	ToolHandler      *handlers.ToolHandler
	RedactionHandler *handlers.RedactionHandler
	PipelineHandler  *handlers.PipelineHandler
	AuditHandler     *handlers.AuditHandler
	// AuthMiddleware is nil when authentication is disabled.
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize PostgreSQL
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize repositories
	deps.initRepositories()

	// Initialize sandbox, tools, pipeline and audit
	if err := deps.initServices(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize HTTP handlers and auth
	if err := deps.initHTTP(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
		zap.Bool("mcp_enabled", cfg.MCP.Enabled),
		zap.Strings("tools", toolNames(deps.Tools)))
	return deps, nil
}

// initDatabase initializes the PostgreSQL database connection and factory
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Projects = repos.Projects
	d.AuditLogs = repos.AuditLogs

	d.Logger.Info("repositories initialized")
}

// initServices wires the audit worker pool, the sandboxed tool registry and
// the analysis pipeline on top of the repositories.
func (d *Dependencies) initServices(cfg *config.Config) error {
	if cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NewMetrics()
	}

	d.AuditService = audit.NewAuditService(d.AuditLogs, d.Logger, audit.Config{
		BufferSize:    cfg.Audit.BufferSize,
		WorkerCount:   cfg.Audit.WorkerCount,
		InsertTimeout: cfg.Audit.InsertTimeout,
	})
	if err := d.AuditService.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}

	if err := os.MkdirAll(cfg.Sandbox.BasePath, 0o750); err != nil {
		return fmt.Errorf("failed to create data path: %w", err)
	}
	d.Roots = sandbox.NewRoots(cfg.Sandbox.BasePath)

	if cfg.Sandbox.PolicyFile != "" {
		set, err := contentpolicy.LoadSet(cfg.Sandbox.PolicyFile)
		if err != nil {
			return err
		}
		d.Policies = set
		d.Logger.Info("content policies loaded", zap.String("file", cfg.Sandbox.PolicyFile))
	} else {
		d.Policies = contentpolicy.DefaultSet()
	}

	d.Invoker = tools.NewInvoker(d.Roots, d.Policies, d.AuditService, d.Logger,
		tools.WithMetrics(d.Metrics),
		tools.WithPreviewLength(cfg.Sandbox.PreviewLength))

	d.Tools = tools.NewRegistry(d.Invoker, d.Logger)
	serviceCfg := func(url string) tools.ServiceConfig {
		return tools.ServiceConfig{BaseURL: url, Timeout: cfg.Services.Timeout}
	}
	if err := tools.RegisterDefaults(d.Tools, tools.Dependencies{
		Embedder:       tools.NewEmbeddingClient(serviceCfg(cfg.Services.EmbeddingURL)),
		EmbeddingModel: cfg.Services.EmbeddingModel,
		Transcriber:    tools.NewTranscriptionClient(serviceCfg(cfg.Services.TranscriptionURL)),
		Metrics:        d.Metrics,
	}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	callerOpts := []pipeline.CallerOption{pipeline.WithCallerMetrics(d.Metrics)}
	if cfg.MCP.Enabled {
		client := pipeline.NewHTTPMCPClient(pipeline.MCPConfig{
			ServerURL: cfg.MCP.ServerURL,
			Timeout:   cfg.MCP.Timeout,
		})
		callerOpts = append(callerOpts, pipeline.WithMCP(client, d.Invoker))
		d.Logger.Info("mcp enabled for pipeline stages", zap.String("server", cfg.MCP.ServerURL))
	}
	caller := pipeline.NewStageCaller(pipeline.CallerConfig{
		StageURLs:    cfg.Pipeline.StageURLs(),
		StageTimeout: cfg.Pipeline.StageTimeout,
		MCPEnabled:   cfg.MCP.Enabled,
	}, d.Logger, callerOpts...)

	d.Reports = pipeline.NewReportStore(d.Roots, d.Logger)
	d.Orchestrator = pipeline.NewOrchestrator(d.Projects, caller, d.Reports, d.AuditService, d.Metrics, d.Logger)
	if d.RepoFactory != nil {
		d.Orchestrator.WithTransactions(d.RepoFactory.GetTransactionManager())
	}

	return nil
}

// initHTTP builds the handlers and, when enabled, the bearer-token middleware.
func (d *Dependencies) initHTTP(cfg *config.Config) error {
	var db, auditDB *sql.DB
	if d.DB != nil {
		db = d.DB.DB
	}
	if d.RepoFactory != nil {
		if a := d.RepoFactory.GetAuditDB(); a != nil {
			auditDB = a.DB
		}
	}

	d.HealthHandler = handlers.NewHealthHandler(db, auditDB, cfg.Sandbox.BasePath, d.Logger)
	d.ToolHandler = handlers.NewToolHandler(d.Tools, d.Logger)
	d.RedactionHandler = handlers.NewRedactionHandler(d.Metrics, d.Logger)
	d.PipelineHandler = handlers.NewPipelineHandler(d.Orchestrator, d.Reports, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.AuditLogs, d.Logger)

	if !cfg.Auth.Enabled {
		if cfg.IsDevelopment() {
			d.Logger.Info("authentication disabled for development, requests run as anonymous")
		} else {
			d.Logger.Warn("authentication disabled, requests run as anonymous",
				zap.String("environment", cfg.Environment))
		}
		return nil
	}
	validator, err := auth.NewValidator(auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   tokenLeeway,
	})
	if err != nil {
		return err
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("bearer token auth initialized")
	return nil
}

func toolNames(r *tools.Registry) []string {
	if r == nil {
		return nil
	}
	descriptors := r.List()
	names := make([]string, 0, len(descriptors))
	for _, desc := range descriptors {
		names = append(names, desc.Name)
	}
	return names
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain pending audit events before the database goes away
	if d.AuditService != nil {
		timeout := 10 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.AuditService.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
