// Package config holds the command line settings shared by the commands and
// builds the extraction pipeline from them.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/invoice-extractor/internal/assemble"
	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/normalize"
	"github.com/zombor/invoice-extractor/internal/pipeline"
	"github.com/zombor/invoice-extractor/internal/raster"
)

// EnvVarPrefix prefixes every flag's environment variable
const EnvVarPrefix = "INVOICE_EXTRACTOR"

// Extraction holds the pipeline flags
type Extraction struct {
	GeminiKey   *string
	GeminiModel *string
	DPI         *int
	Workers     *int
	CallTimeout *time.Duration
	MaxAttempts *int
	BaseDelay   *time.Duration
	MaxDelay    *time.Duration
	RateLimit   *float64
	NativePDF   *bool
	PolicyPath  *string
	LogLevel    *string
	LogFormat   *string
}

// RegisterExtraction adds the pipeline flags to fs
func RegisterExtraction(fs *ff.FlagSet) *Extraction {
	defaults := extraction.DefaultRetryPolicy()
	return &Extraction{
		GeminiKey:   fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		GeminiModel: fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		DPI:         fs.IntLong("dpi", raster.DefaultDPI, fmt.Sprintf("Page render resolution (minimum %d)", raster.MinDPI)),
		Workers:     fs.IntLong("workers", pipeline.DefaultWorkers, "Concurrent backend calls per document"),
		CallTimeout: fs.DurationLong("call-timeout", 60*time.Second, "Timeout for a single backend call"),
		MaxAttempts: fs.IntLong("max-attempts", defaults.MaxAttempts, "Attempts per page for retryable backend failures"),
		BaseDelay:   fs.DurationLong("base-delay", defaults.BaseDelay, "Initial retry backoff"),
		MaxDelay:    fs.DurationLong("max-delay", defaults.MaxDelay, "Maximum retry backoff"),
		RateLimit:   fs.Float64Long("rate-limit", 0, "Maximum backend calls per second (0 for unlimited)"),
		NativePDF:   fs.BoolLong("native-pdf", "Send PDFs to the backend whole, rasterizing only if refused"),
		PolicyPath:  fs.StringLong("policy", "", "YAML file overriding the normalization policy"),
		LogLevel:    fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		LogFormat:   fs.StringLong("log-format", "text", "Log format: text or json"),
	}
}

// LoadEnv reads .env style files into the environment. Missing files are
// ignored and variables already set win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// Parse parses args and the prefixed environment into fs
func Parse(fs *ff.FlagSet, args []string) error {
	return ff.Parse(fs, args, ff.WithEnvVarPrefix(EnvVarPrefix))
}

// Logger builds the slog logger selected by the log flags
func (e *Extraction) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(*e.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", *e.LogLevel)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(*e.LogFormat) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", *e.LogFormat)
	}
}

// APIKey returns the Gemini key from the flag or GEMINI_API_KEY
func (e *Extraction) APIKey() string {
	if *e.GeminiKey != "" {
		return *e.GeminiKey
	}
	return os.Getenv("GEMINI_API_KEY")
}

// Validate checks the numeric settings
func (e *Extraction) Validate() error {
	var errs []error
	if *e.DPI < raster.MinDPI {
		errs = append(errs, fmt.Errorf("dpi must be at least %d", raster.MinDPI))
	}
	if *e.Workers < 1 {
		errs = append(errs, errors.New("workers must be at least 1"))
	}
	if *e.MaxAttempts < 1 {
		errs = append(errs, errors.New("max-attempts must be at least 1"))
	}
	if *e.CallTimeout <= 0 {
		errs = append(errs, errors.New("call-timeout must be positive"))
	}
	if *e.RateLimit < 0 {
		errs = append(errs, errors.New("rate-limit must not be negative"))
	}
	return errors.Join(errs...)
}

// Policy loads the normalization policy
func (e *Extraction) Policy() (normalize.Policy, error) {
	if *e.PolicyPath == "" {
		return normalize.DefaultPolicy(), nil
	}
	return normalize.LoadPolicy(*e.PolicyPath)
}

// ClientConfig returns the extraction client settings
func (e *Extraction) ClientConfig() extraction.Config {
	retry := extraction.DefaultRetryPolicy()
	retry.MaxAttempts = *e.MaxAttempts
	retry.BaseDelay = *e.BaseDelay
	retry.MaxDelay = *e.MaxDelay
	return extraction.Config{
		Timeout:   *e.CallTimeout,
		Retry:     retry,
		RateLimit: *e.RateLimit,
	}
}

// BuildPipeline wires the pipeline around backend
func (e *Extraction) BuildPipeline(backend extraction.Backend, logger *slog.Logger) (*pipeline.Pipeline, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	policy, err := e.Policy()
	if err != nil {
		return nil, err
	}

	return pipeline.New(
		raster.New(raster.Config{DPI: *e.DPI}, logger),
		extraction.NewClient(backend, e.ClientConfig(), logger),
		normalize.New(policy, logger),
		assemble.New(assemble.DefaultConfig()),
		pipeline.Config{Workers: *e.Workers, NativeDocuments: *e.NativePDF},
		logger,
	), nil
}

// NewGemini creates the Gemini backend from the flags
func (e *Extraction) NewGemini(ctx context.Context) (*extraction.Gemini, error) {
	key := e.APIKey()
	if key == "" {
		return nil, errors.New("gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
	}
	return extraction.NewGemini(ctx, extraction.GeminiConfig{APIKey: key, Model: *e.GeminiModel})
}
