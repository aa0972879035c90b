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
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-scanner/internal/async"
	"github.com/zombor/invoice-scanner/internal/billing"
	"github.com/zombor/invoice-scanner/internal/extraction"
	"github.com/zombor/invoice-scanner/internal/scanning"
	"github.com/zombor/invoice-scanner/internal/scanning/tesseract"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("invoice-scanner")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		storagePath   = fs.StringLong("storage", "./uploads", "Directory for uploaded originals")
		artifactPath  = fs.StringLong("artifacts", "", "Directory for preprocessing intermediates (default: OS temp dir)")
		keepUploads   = fs.BoolLongDefault("keep-uploads", true, "Keep uploaded originals after processing")
		maxUploadMB   = fs.IntLong("max-upload-mb", 10, "Maximum upload size in MB")
		workers       = fs.IntLong("workers", 4, "Number of concurrent pipeline runs")
		queueSize     = fs.IntLong("queue-size", 256, "Pending job buffer size")
		ocrTimeout    = fs.DurationLong("ocr-timeout", 2*time.Minute, "Per-document processing timeout (0 disables)")
		engine        = fs.StringLong("engine", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'")
		tesseractLang = fs.StringLong("tesseract-lang", "eng", "Tesseract languages, '+' separated")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		logFormat     = fs.StringLong("log-format", "text", "Log format: text or json")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_SCANNER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	scanner, err := newScanner(*engine, *tesseractLang, *geminiKey, *geminiModel, *ollamaURL, *ollamaModel)
	if err != nil {
		slog.Error("Failed to initialize OCR engine", "engine", *engine, "error", err)
		os.Exit(1)
	}
	defer scanner.Close()

	slog.Info("Initializing storage...", "path", *storagePath)
	storage, err := billing.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	pre, err := scanning.NewPreprocessor(*artifactPath)
	if err != nil {
		slog.Error("Failed to initialize preprocessor", "error", err)
		os.Exit(1)
	}

	store := billing.NewMemoryStore()
	processor := billing.NewProcessor(store, storage, pre, scanner, extraction.NewRules(), logger,
		billing.WithKeepUploads(*keepUploads),
	)
	queue := async.NewQueue(processor, logger,
		async.WithWorkers(*workers),
		async.WithQueueSize(*queueSize),
		async.WithProcessTimeout(*ocrTimeout),
	)

	policy := billing.DefaultUploadPolicy()
	policy.MaxBytes = int64(*maxUploadMB) << 20
	service := billing.NewService(store, storage, queue, policy)
	server := billing.NewServer(service)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "engine", *engine, "workers", *workers)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	if err := queue.Shutdown(ctx); err != nil {
		slog.Warn("Pipeline runs still in flight at exit", "error", err)
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (want text or json)", format)
	}
}

func newScanner(engine, tesseractLang, geminiKey, geminiModel, ollamaURL, ollamaModel string) (scanning.Scanner, error) {
	switch engine {
	case "tesseract":
		slog.Info("Initializing Tesseract engine...", "languages", tesseractLang)
		return tesseract.New(strings.Split(tesseractLang, "+")...), nil
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini engine...", "model", geminiModel)
		return scanning.NewGemini(apiKey, geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama engine...", "url", ollamaURL, "model", ollamaModel)
		return scanning.NewOllama(ollamaURL, ollamaModel)
	default:
		return nil, fmt.Errorf("unknown engine %q (valid: tesseract, gemini, ollama)", engine)
	}
}
