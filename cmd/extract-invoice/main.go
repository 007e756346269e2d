package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-extractor/internal/config"
	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/raster"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// exit codes
const (
	exitOK = iota
	exitUsage
	exitUnreadable
	exitFailed
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitUsage
	}

	fs := ff.NewFlagSet("extract-invoice")
	var (
		contentType = fs.StringLong("content-type", "", "MIME type of the input (guessed from the extension when empty)")
		rawOut      = fs.StringLong("raw-out", "", "Write the raw backend responses to this file")
		showVersion = fs.BoolLong("version", "Show version information")
		extract     = config.RegisterExtraction(fs)
	)

	if err := config.Parse(fs, args); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs, "extract-invoice [flags] <file>"))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitUsage
	}
	if *showVersion {
		fmt.Println(version)
		return exitOK
	}
	if len(fs.GetArgs()) != 1 {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs, "extract-invoice [flags] <file>"))
		return exitUsage
	}
	path := fs.GetArgs()[0]

	logger, err := extract.Logger(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("reading input", "path", path, "error", err)
		return exitFailed
	}
	if *contentType == "" {
		*contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	}

	backend, err := extract.NewGemini(ctx)
	if err != nil {
		logger.Error("initializing gemini backend", "error", err)
		return exitUsage
	}
	defer backend.Close()

	p, err := extract.BuildPipeline(backend, logger)
	if err != nil {
		logger.Error("building pipeline", "error", err)
		return exitUsage
	}

	result, err := p.Run(ctx, data, *contentType)
	if err != nil {
		var unreadable *raster.UnreadablePDFError
		if errors.As(err, &unreadable) {
			logger.Error("unreadable input", "path", path, "error", err)
			return exitUnreadable
		}
		logger.Error("extracting invoice", "path", path, "error", err)
		return exitFailed
	}

	if *rawOut != "" {
		raw, err := extraction.MarshalResponses(result.Responses)
		if err == nil {
			err = os.WriteFile(*rawOut, raw, 0644)
		}
		if err != nil {
			logger.Warn("writing raw responses", "path", *rawOut, "error", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result.Record); err != nil {
		logger.Error("writing record", "error", err)
		return exitFailed
	}
	return exitOK
}
