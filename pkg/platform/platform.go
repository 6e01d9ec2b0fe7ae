package platform

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq" // postgres driver for the results archive
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/proctorwatch/proctor-platform/pkg/api"
	"github.com/proctorwatch/proctor-platform/pkg/archive"
	archivepg "github.com/proctorwatch/proctor-platform/pkg/archive/postgres"
	"github.com/proctorwatch/proctor-platform/pkg/auth"
	"github.com/proctorwatch/proctor-platform/pkg/broadcast"
	"github.com/proctorwatch/proctor-platform/pkg/classify"
	"github.com/proctorwatch/proctor-platform/pkg/database/migrate"
	"github.com/proctorwatch/proctor-platform/pkg/health"
	"github.com/proctorwatch/proctor-platform/pkg/ingest"
	"github.com/proctorwatch/proctor-platform/pkg/proctor"
	"github.com/proctorwatch/proctor-platform/pkg/results"
	"github.com/proctorwatch/proctor-platform/pkg/session"
)

// Platform wires every component of the proctoring service together.
type Platform struct {
	config    *Config
	log       *slog.Logger
	lifecycle *Lifecycle
	checker   *health.Checker

	registry   *session.MemoryRegistry
	hub        *broadcast.Hub
	classifier classify.Classifier
	archive    archive.Store
	db         *sql.DB
	authMgr    *auth.Manager

	service    *proctor.Service
	pipeline   *ingest.Pipeline
	aggregator *results.Aggregator

	apiHandler *api.Handler
	mcpServer  *mcp.Server
}

// New creates a platform instance from options.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	log := options.Logger
	if log == nil {
		log = NewLogger(options.Config.Logging)
	}

	p := &Platform{
		config:    options.Config,
		log:       log,
		lifecycle: NewLifecycle(),
		checker:   health.NewChecker(),
	}

	if err := p.initializeComponents(options); err != nil {
		return nil, fmt.Errorf("initializing components: %w", err)
	}
	p.registerLifecycle()

	return p, nil
}

// initializeComponents builds every component in dependency order.
func (p *Platform) initializeComponents(opts *Options) error {
	cfg := p.config

	p.registry = session.NewMemoryRegistry(p.log)
	p.hub = broadcast.NewHub(p.registry.List, cfg.Proctor.ObserverBuffer, p.log)

	if err := p.initClassifier(opts); err != nil {
		return err
	}
	if err := p.initArchive(opts); err != nil {
		return err
	}

	mgr, err := auth.NewManager(auth.Config{
		SigningKey:        cfg.Auth.SigningKey,
		Issuer:            cfg.Auth.Issuer,
		TokenTTL:          cfg.Auth.TokenTTL,
		AdminUsername:     cfg.Auth.AdminUsername,
		AdminPasswordHash: cfg.Auth.AdminPasswordHash,
		APIKeys:           apiKeys(cfg.Auth.APIKeys),
	})
	if err != nil {
		return err
	}
	p.authMgr = mgr

	p.service = proctor.NewService(p.registry, p.archive, p.hub, p.log)
	p.pipeline = ingest.NewPipeline(p.registry, p.classifier, p.hub, p.log)
	p.aggregator = results.NewAggregator(p.registry)

	p.apiHandler = api.NewHandler(api.HandlerConfig{
		Registry:   p.registry,
		Service:    p.service,
		Pipeline:   p.pipeline,
		Aggregator: p.aggregator,
		Hub:        p.hub,
		Archive:    p.archive,
		Auth:       p.authMgr,
		Heartbeat:  cfg.Proctor.Heartbeat,
		Logger:     p.log,
	})

	if cfg.MCP.Enabled {
		p.mcpServer = mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Server.Name,
			Version: cfg.Server.Version,
		}, nil)
		p.registerInfoTool()
		p.registerSessionsTool()
		p.registerResultsTool()
	}

	return nil
}

// initClassifier resolves the frame classifier: an injected one wins,
// otherwise the configured HTTP vision service is used.
func (p *Platform) initClassifier(opts *Options) error {
	if opts.Classifier != nil {
		p.classifier = opts.Classifier
		return nil
	}
	if p.config.Classifier.Endpoint == "" {
		return fmt.Errorf("classifier.endpoint is required")
	}
	classifier, err := classify.NewHTTPClassifier(classify.HTTPConfig{
		Endpoint: p.config.Classifier.Endpoint,
		Timeout:  p.config.Classifier.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating classifier: %w", err)
	}
	p.classifier = classifier
	return nil
}

// initArchive resolves the results archive: injected store, configured
// database, or the in-memory noop.
func (p *Platform) initArchive(opts *Options) error {
	if opts.Archive != nil {
		p.archive = opts.Archive
		return nil
	}

	if opts.DB == nil && p.config.Database.DSN == "" {
		p.archive = archive.Noop{}
		return nil
	}

	db := opts.DB
	if db == nil {
		var err error
		db, err = sql.Open("postgres", p.config.Database.DSN)
		if err != nil {
			return fmt.Errorf("opening archive database: %w", err)
		}
		db.SetMaxOpenConns(p.config.Database.MaxOpenConns)
	}

	if err := migrate.Run(db); err != nil {
		return fmt.Errorf("migrating archive database: %w", err)
	}

	p.db = db
	p.archive = archivepg.New(db)
	p.checker.AddProbe("archive", db.PingContext)
	return nil
}

// registerLifecycle orders startup and shutdown of the long-running parts.
func (p *Platform) registerLifecycle() {
	p.lifecycle.OnStart(func(context.Context) error {
		p.hub.Start()
		return nil
	})
	p.lifecycle.OnStop(func(context.Context) error {
		return p.hub.Close()
	})

	p.lifecycle.OnStart(func(context.Context) error {
		p.registry.StartSweep(p.config.Proctor.SweepInterval, p.config.Proctor.IdleTimeout, p.service.ExpireIdle)
		return nil
	})
	p.lifecycle.OnStop(func(context.Context) error {
		return p.registry.Close()
	})

	if p.db != nil {
		p.lifecycle.OnStart(func(ctx context.Context) error {
			return p.db.PingContext(ctx)
		})
		p.lifecycle.OnStop(func(context.Context) error {
			return p.archive.Close()
		})
	}

	p.lifecycle.OnStart(func(context.Context) error {
		p.checker.SetReady()
		return nil
	})
	p.lifecycle.OnStop(func(context.Context) error {
		p.checker.SetDraining()
		return nil
	})
}

// Start starts the platform components. The HTTP listener is owned by the
// caller; Start only brings up the internals.
func (p *Platform) Start(ctx context.Context) error {
	if err := p.lifecycle.Start(ctx); err != nil {
		return err
	}
	p.log.Info("platform started",
		"name", p.config.Server.Name,
		"version", p.config.Server.Version,
		"archive", p.db != nil,
		"auth", p.authMgr.Enabled(),
		"mcp", p.mcpServer != nil)
	return nil
}

// Stop stops the platform components in reverse order.
func (p *Platform) Stop(ctx context.Context) error {
	return p.lifecycle.Stop(ctx)
}

// Handler returns the REST API handler.
func (p *Platform) Handler() http.Handler {
	return p.apiHandler
}

// MCPServer returns the MCP server, nil when disabled.
func (p *Platform) MCPServer() *mcp.Server {
	return p.mcpServer
}

// Health returns the readiness checker.
func (p *Platform) Health() *health.Checker {
	return p.checker
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// Registry returns the session registry.
func (p *Platform) Registry() session.Registry {
	return p.registry
}

func apiKeys(defs []APIKeyDef) []auth.APIKey {
	keys := make([]auth.APIKey, 0, len(defs))
	for _, d := range defs {
		keys = append(keys, auth.APIKey{Key: d.Key, Name: d.Name})
	}
	return keys
}
