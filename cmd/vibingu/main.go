// Command vibingu runs the life-logging backend: feed ingestion, RAG chat,
// and the supporting HTTP API.
//
// Usage:
//
//	vibingu serve
//	vibingu serve --config config.yaml
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vibingu/vibingu/pkg/auth"
	"github.com/vibingu/vibingu/pkg/chat"
	"github.com/vibingu/vibingu/pkg/classifier"
	"github.com/vibingu/vibingu/pkg/config"
	"github.com/vibingu/vibingu/pkg/extractor"
	"github.com/vibingu/vibingu/pkg/gateway"
	"github.com/vibingu/vibingu/pkg/imagestore"
	"github.com/vibingu/vibingu/pkg/ingest"
	"github.com/vibingu/vibingu/pkg/ledger"
	"github.com/vibingu/vibingu/pkg/llms"
	"github.com/vibingu/vibingu/pkg/logger"
	"github.com/vibingu/vibingu/pkg/server"
	"github.com/vibingu/vibingu/pkg/store"
	"github.com/vibingu/vibingu/pkg/tagger"
	"github.com/vibingu/vibingu/pkg/vector"
)

var version = "dev"

type cli struct {
	Config string `help:"Path to an optional YAML config file." type:"path" short:"c"`

	Serve   serveCmd   `cmd:"" default:"1" help:"Run the HTTP service."`
	Version versionCmd `cmd:"" help:"Print the version."`
}

type versionCmd struct{}

func (versionCmd) Run() error {
	fmt.Println(version)
	return nil
}

type serveCmd struct{}

func (serveCmd) Run(flags *cli) error {
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return err
	}
	logger.Setup(logger.Options{
		Level:  logger.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer app.close()

	// Best-effort: rebuild the vector index when it drifted from the
	// relational store (fresh persist dir, restored backup).
	go app.reconcileIndex(ctx)

	return app.server.Run(ctx)
}

// app holds the wired service graph.
type app struct {
	db      *sql.DB
	store   *store.Store
	indexer *vector.Indexer
	server  *server.Server
}

func buildApp(cfg *config.Config) (*app, error) {
	driver, dsn := cfg.Database.DSN()
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	st, err := store.New(db, driver)
	if err != nil {
		return nil, err
	}
	usage, err := ledger.NewStore(db, driver, nil)
	if err != nil {
		return nil, err
	}

	provider := llms.NewClient(cfg.AI.BaseURL(), cfg.AI.APIKey())
	if !provider.Configured() {
		slog.Warn("no API key configured, AI phases run degraded", "provider", cfg.AI.Provider)
	}
	gw := gateway.New(provider, gateway.RosterFromConfig(cfg.AI), usage,
		gateway.WithConcurrencyLimits(cfg.AI.ConcurrencyLimits))

	images, err := imagestore.New(cfg.Paths.UploadDir)
	if err != nil {
		return nil, err
	}

	vstore, err := vector.NewStore(cfg.Paths.ChromaPersistDir)
	if err != nil {
		return nil, err
	}
	indexer := vector.NewIndexer(vstore, vector.EmbedderFunc(
		func(ctx context.Context, text string) ([]float32, error) {
			return gw.Embed(ctx, text, gateway.CallOptions{TaskTag: ledger.TaskEmbedding})
		}))

	orch := ingest.New(st,
		classifier.New(gw),
		extractor.New(gw),
		tagger.New(gw, st),
		images,
		indexer)

	assembler := chat.NewAssembler(st, indexer)
	streamer := chat.NewStreamer(st, assembler, gw)

	srv := server.New(cfg.Server, server.Deps{
		Store:  st,
		Usage:  usage,
		Ingest: orch,
		Chat:   streamer,
		Vector: indexer,
		Auth:   auth.NewManager(cfg.Auth),
		Images: images,
	})

	return &app{db: db, store: st, indexer: indexer, server: srv}, nil
}

func (a *app) reconcileIndex(ctx context.Context) {
	records, err := a.store.ActiveRecords(ctx)
	if err != nil {
		slog.Warn("startup reconciliation skipped", "error", err)
		return
	}
	if err := a.indexer.Reconcile(ctx, records); err != nil {
		slog.Warn("startup reconciliation failed", "error", err)
	}
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		slog.Warn("database close failed", "error", err)
	}
}

func main() {
	flags := &cli{}
	k := kong.Parse(flags,
		kong.Name("vibingu"),
		kong.Description("Personal life-logging backend with an AI ingestion pipeline and RAG chat."),
		kong.UsageOnError(),
	)
	k.FatalIfErrorf(k.Run(flags))
}
