// visionlens is the dataset inspection and triage server. serve exposes the
// JSON API over the configured port with metrics and health checks on a
// separate internal port; init-db bootstraps the schema and exits.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/secure"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/visionlens/visionlens/go/annotations/sqlannotationstore"
	"github.com/visionlens/visionlens/go/config"
	"github.com/visionlens/visionlens/go/datasets/sqldatasetstore"
	"github.com/visionlens/visionlens/go/embedding"
	"github.com/visionlens/visionlens/go/embeddings/sqlembeddingstore"
	"github.com/visionlens/visionlens/go/eventstream"
	"github.com/visionlens/visionlens/go/httputils"
	"github.com/visionlens/visionlens/go/imaging"
	"github.com/visionlens/visionlens/go/ingest"
	"github.com/visionlens/visionlens/go/plugins"
	"github.com/visionlens/visionlens/go/reduce"
	"github.com/visionlens/visionlens/go/samples/sqlsamplestore"
	"github.com/visionlens/visionlens/go/scanner"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
	"github.com/visionlens/visionlens/go/sql/schema"
	"github.com/visionlens/visionlens/go/storage"
	"github.com/visionlens/visionlens/go/tasks"
	"github.com/visionlens/visionlens/go/triage/sqltriagestore"
	"github.com/visionlens/visionlens/go/vecstore/localvecstore"
	"github.com/visionlens/visionlens/go/views/sqlviewstore"
	"github.com/visionlens/visionlens/go/vlmtag"
	"github.com/visionlens/visionlens/go/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var cfg config.Config
	app := &cli.App{
		Name:  "visionlens",
		Usage: "Dataset inspection and triage service.",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serves the dataset inspection and triage API.",
				Flags: config.Flags(&cfg),
				Action: func(c *cli.Context) error {
					return run(c.Context, &cfg)
				},
			},
			{
				Name:  "init-db",
				Usage: "Creates the database schema and exits.",
				Flags: config.Flags(&cfg),
				Action: func(c *cli.Context) error {
					return initDB(c.Context, &cfg)
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		sklog.Fatal(err)
	}
}

// initDB applies the schema to the configured database so serve can be run
// against a user without DDL rights.
func initDB(ctx context.Context, cfg *config.Config) error {
	db, err := pgxpool.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return skerr.Wrapf(err, "connecting to %s", cfg.DatabaseURL)
	}
	defer db.Close()
	if err := schema.Create(ctx, db); err != nil {
		return skerr.Wrapf(err, "creating schema")
	}
	sklog.Infof("Schema created")
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return skerr.Wrap(err)
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return skerr.Wrapf(err, "connecting to %s", cfg.DatabaseURL)
	}
	defer db.Close()
	if err := schema.Create(ctx, db); err != nil {
		return skerr.Wrapf(err, "creating schema")
	}

	datasetStore := sqldatasetstore.New(db)
	sampleStore := sqlsamplestore.New(db)
	annotationStore := sqlannotationstore.New(db)
	viewStore := sqlviewstore.New(db)
	embeddingStore := sqlembeddingstore.New(db)
	triageStore := sqltriagestore.New(db)

	files := storage.New(cfg.GCSCredentialsFile)
	thumbnails, err := imaging.New(cfg.ThumbnailCacheDir, files)
	if err != nil {
		return skerr.Wrapf(err, "initializing thumbnail cache in %s", cfg.ThumbnailCacheDir)
	}

	host := plugins.NewHost()
	if cfg.PluginDir != "" {
		names := host.Discover(cfg.PluginDir)
		sklog.Infof("Loaded %d plugins from %s", len(names), cfg.PluginDir)
	}
	defer host.Shutdown()

	ingester := ingest.New(datasetStore, sampleStore, annotationStore, files, thumbnails, host)

	index, err := localvecstore.New(cfg.VectorIndexDir, embeddingStore)
	if err != nil {
		return skerr.Wrapf(err, "opening vector index in %s", cfg.VectorIndexDir)
	}

	engine, err := tasks.NewEngine(ctx)
	if err != nil {
		return skerr.Wrap(err)
	}
	engine.Start(ctx)

	// Model capabilities are optional; endpoints that need a missing one
	// answer 503.
	var embedWorker *tasks.EmbedWorker
	if cfg.EmbedderURL != "" {
		encoder := embedding.NewHTTPEncoder(httputils.NewTimeoutClient(), cfg.EmbedderURL, embedding.DefaultModelName, embedding.DefaultDim)
		embedWorker = tasks.NewEmbedWorker(sampleStore, datasetStore, embeddingStore, files, encoder, index)
	}
	var autoTagWorker *tasks.AutoTagWorker
	if cfg.VLMEndpoint != "" {
		tagger := vlmtag.NewHTTPTagger(httputils.NewTimeoutClient(), cfg.VLMEndpoint)
		autoTagWorker = tasks.NewAutoTagWorker(sampleStore, datasetStore, files, tagger)
	}

	events := eventstream.New()
	defer events.Close()

	handlers := &web.Handlers{
		Datasets:     datasetStore,
		Samples:      sampleStore,
		Annotations:  annotationStore,
		Views:        viewStore,
		Embeddings:   embeddingStore,
		Overrides:    triageStore,
		Files:        files,
		Thumbnails:   thumbnails,
		Scanner:      scanner.New(files),
		Ingester:     ingester,
		Index:        index,
		Engine:       engine,
		EmbedWorker:  embedWorker,
		ReduceWorker: tasks.NewReduceWorker(embeddingStore, reduce.Native{}),
		NearDup:      tasks.NewNearDuplicateWorker(index),
		AutoTag:      autoTagWorker,
		Events:       events,
	}

	secureMiddleware := secure.New(secure.Options{
		SSLProxyHeaders:      map[string]string{"X-Forwarded-Proto": "https"},
		FrameDeny:            true,
		ContentTypeNosniff:   true,
		BrowserXssFilter:     true,
		STSSeconds:           60 * 60 * 24 * 365,
		STSIncludeSubdomains: true,
		IsDevelopment:        cfg.Local,
	})
	apiServer := &http.Server{
		Addr:    cfg.Port,
		Handler: secureMiddleware.Handler(handlers.Router(ctx)),
	}

	internalMux := http.NewServeMux()
	internalMux.Handle("/metrics", promhttp.Handler())
	internalMux.HandleFunc("/healthz", httputils.ReadyHandleFunc)
	internalServer := &http.Server{
		Addr:    cfg.InternalPort,
		Handler: internalMux,
	}

	var group errgroup.Group
	group.Go(func() error {
		sklog.Infof("Serving API on %s", cfg.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			return skerr.Wrap(err)
		}
		return nil
	})
	group.Go(func() error {
		sklog.Infof("Serving metrics on %s", cfg.InternalPort)
		if err := internalServer.ListenAndServe(); err != http.ErrServerClosed {
			return skerr.Wrap(err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		sklog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = internalServer.Shutdown(shutdownCtx)
		return apiServer.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil {
		return skerr.Wrap(err)
	}
	sklog.Flush()
	return nil
}
