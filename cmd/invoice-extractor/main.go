package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-extractor/internal/config"
	"github.com/zombor/invoice-extractor/internal/invoice"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("invoice-extractor")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "invoice-extractor.db", "Database file path")
		storagePath = fs.StringLong("storage", "./invoices", "Storage directory path")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		_           = fs.BoolLong("version", "Show version information")
		extract     = config.RegisterExtraction(fs)
	)

	if err := config.Parse(fs, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger, err := extract.Logger(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(logger, *port, *dbPath, *storagePath, invoice.BasicAuth{Username: *authUser, Password: *authPass}, extract); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, port int, dbPath, storagePath string, auth invoice.BasicAuth, extract *config.Extraction) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("initializing database", "path", dbPath)
	db, err := invoice.NewBoltDB(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("initializing storage", "path", storagePath)
	store, err := invoice.NewLocalStorage(storagePath)
	if err != nil {
		return err
	}

	logger.Info("initializing gemini backend", "model", *extract.GeminiModel)
	backend, err := extract.NewGemini(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	p, err := extract.BuildPipeline(backend, logger)
	if err != nil {
		return err
	}

	service := invoice.NewService(db, p, store, logger)
	server := invoice.NewServer(service, auth, logger)

	if auth.Username != "" || auth.Password != "" {
		logger.Info("basic auth enabled", "user", auth.Username)
	}
	logger.Info("starting invoice extractor",
		"version", version,
		"address", fmt.Sprintf("http://localhost:%d", port),
		"dpi", *extract.DPI,
		"workers", *extract.Workers,
		"native_pdf", *extract.NativePDF)

	return server.Start(ctx, fmt.Sprintf(":%d", port))
}
