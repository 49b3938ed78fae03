// Package app initializes and holds the long-lived scanner services,
// acting as the dependency injection container for the service binary.
package app

import (
	"context"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/bizradar/reddit-scanner/internal/account"
	"github.com/bizradar/reddit-scanner/internal/auth"
	"github.com/bizradar/reddit-scanner/internal/clock/system"
	"github.com/bizradar/reddit-scanner/internal/config"
	"github.com/bizradar/reddit-scanner/internal/digest"
	"github.com/bizradar/reddit-scanner/internal/export"
	"github.com/bizradar/reddit-scanner/internal/logging"
	"github.com/bizradar/reddit-scanner/internal/metrics"
	"github.com/bizradar/reddit-scanner/internal/orchestrator"
	"github.com/bizradar/reddit-scanner/internal/progress"
	"github.com/bizradar/reddit-scanner/internal/progress/sinks"
	pubsubpublisher "github.com/bizradar/reddit-scanner/internal/publisher/pubsub"
	"github.com/bizradar/reddit-scanner/internal/scanner"
	"github.com/bizradar/reddit-scanner/internal/scorer/keyword"
	"github.com/bizradar/reddit-scanner/internal/source/reddit"
	"github.com/bizradar/reddit-scanner/internal/stats"
	"github.com/bizradar/reddit-scanner/internal/storage/gcs"
	"github.com/bizradar/reddit-scanner/internal/storage/local"
	"github.com/bizradar/reddit-scanner/internal/storage/postgres"
)

// App holds the shared services built from the configuration. It is
// initialized once at startup and handed to whatever front end drives
// the scan, currently the HTTP server.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	TokenStore   *auth.Store
	Pool         *account.Pool
	Stats        *stats.Aggregator
	Hub          *progress.Hub
	Orchestrator *orchestrator.Orchestrator
	Recorder     *digest.Recorder

	resultStore *postgres.ResultStore
	publisher   *pubsubpublisher.Publisher
	gcsClient   *gcstorage.Client
}

// New builds the full service graph. Required services fail fast;
// optional persistence backends degrade to a warning so the scanner can
// still run without them.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	clock := system.New()

	tokenStore, err := auth.NewStore(auth.Config{
		TokenDir:     cfg.Auth.TokenDir,
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		UserAgent:    cfg.Reddit.UserAgent,
	}, auth.WithLogger(logging.Component(logger, "auth")), auth.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("init token store: %w", err)
	}

	pool := account.NewPool(tokenStore, cfg.LimiterConfig(),
		account.WithClock(clock),
		account.WithLogger(logging.Component(logger, "pool")),
	)
	for _, username := range cfg.Reddit.Usernames {
		if err := pool.AddAccount(ctx, username); err != nil {
			logger.Warn("account unavailable", zap.String("username", username), zap.Error(err))
		}
	}

	source := reddit.New(reddit.Config{
		UserAgent:   cfg.Reddit.UserAgent,
		Timeout:     cfg.RequestTimeout(),
		CourtesyRPS: float64(cfg.APILimits.RequestsPerMinute) / 60,
	}, reddit.WithLogger(logging.Component(logger, "reddit")))

	keywords, err := keyword.LoadKeywords(cfg.Scanner.KeywordsFile)
	if err != nil {
		return nil, fmt.Errorf("load keywords: %w", err)
	}
	scorer := keyword.NewWithKeywords(keywords)

	agg := stats.New(clock)
	hub := progress.NewHub(progress.Config{Logger: logging.Component(logger, "progress")},
		sinks.NewLog(logging.Component(logger, "scan")),
		sinks.NewPrometheus(),
	)

	orch := orchestrator.New(pool, source, scorer, orchestrator.Config{
		MaxConcurrentRequests: cfg.Scanner.MaxConcurrentRequests,
		RequestTimeout:        cfg.RequestTimeout(),
		RetryAttempts:         cfg.Scanner.RetryAttempts,
		LeadThreshold:         cfg.Scanner.LeadThreshold,
	},
		orchestrator.WithLogger(logging.Component(logger, "orchestrator")),
		orchestrator.WithClock(clock),
		orchestrator.WithStats(agg),
		orchestrator.WithProgress(hub),
	)

	a := &App{
		Config:       cfg,
		Logger:       logger,
		TokenStore:   tokenStore,
		Pool:         pool,
		Stats:        agg,
		Hub:          hub,
		Orchestrator: orch,
	}
	a.Recorder = a.buildRecorder(ctx, clock)
	return a, nil
}

func (a *App) buildRecorder(ctx context.Context, clock scanner.Clock) *digest.Recorder {
	cfg := a.Config
	opts := []digest.Option{
		digest.WithClock(clock),
		digest.WithLeadThreshold(cfg.Scanner.LeadThreshold),
	}

	if cfg.DB.Enabled {
		store, err := postgres.NewResultStore(ctx, postgres.ResultStoreConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
		})
		if err != nil {
			a.Logger.Warn("postgres unavailable", zap.Error(err))
		} else {
			a.resultStore = store
			opts = append(opts, digest.WithResultStore(store))
		}
	}

	if blobStore := a.buildBlobStore(ctx); blobStore != nil {
		exporter := export.New(blobStore, cfg.Storage.Prefix,
			export.WithClock(clock),
			export.WithLogger(logging.Component(a.Logger, "export")),
		)
		opts = append(opts, digest.WithExporter(exporter))
	}

	if cfg.PubSub.Enabled {
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			a.Logger.Warn("pubsub unavailable", zap.Error(err))
		} else if pub, err := pubsubpublisher.New(client); err != nil {
			a.Logger.Warn("pubsub publisher init failed", zap.Error(err))
		} else {
			a.publisher = pub
			opts = append(opts, digest.WithPublisher(pub, cfg.PubSub.TopicName))
		}
	}

	return digest.New(logging.Component(a.Logger, "digest"), opts...)
}

func (a *App) buildBlobStore(ctx context.Context) scanner.BlobStore {
	switch a.Config.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			a.Logger.Warn("gcs unavailable", zap.Error(err))
			return nil
		}
		store, err := gcs.New(client, gcs.Config{Bucket: a.Config.Storage.GCSBucket})
		if err != nil {
			client.Close()
			a.Logger.Warn("gcs blob store init failed", zap.Error(err))
			return nil
		}
		a.gcsClient = client
		return store
	case "local", "":
		store, err := local.New(local.Config{BaseDir: a.Config.Storage.LocalDir})
		if err != nil {
			a.Logger.Warn("local blob store init failed", zap.Error(err))
			return nil
		}
		return store
	default:
		a.Logger.Warn("unknown storage backend", zap.String("backend", a.Config.Storage.Backend))
		return nil
	}
}

// Close shuts down the backing services. Best effort, errors are logged.
func (a *App) Close(ctx context.Context) {
	if err := a.Hub.Close(ctx); err != nil {
		a.Logger.Warn("progress hub close error", zap.Error(err))
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.resultStore != nil {
		a.resultStore.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("gcs client close error", zap.Error(err))
		}
	}
}
