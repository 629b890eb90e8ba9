package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/vegan-scanner/internal/capture"
	"github.com/zombor/vegan-scanner/internal/classify"
	"github.com/zombor/vegan-scanner/internal/ocr"
	"github.com/zombor/vegan-scanner/internal/quota"
	"github.com/zombor/vegan-scanner/internal/render"
	"github.com/zombor/vegan-scanner/internal/scan"
	"github.com/zombor/vegan-scanner/internal/server"
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

	fs := ff.NewFlagSet("vegan-scanner")
	var (
		imagePath       = fs.StringLong("image", "", "Scan this image once and exit instead of serving HTTP")
		plain           = fs.BoolLong("plain", "Print phases as lines instead of a spinner")
		port            = fs.IntLong("port", 8080, "HTTP server port")
		spoolDir        = fs.StringLong("spool", filepath.Join(os.TempDir(), "vegan-scanner"), "Directory holding uploads while they are scanned")
		maxUploadMB     = fs.IntLong("max-upload-mb", 20, "Largest accepted image in megabytes")
		sessionTTL      = fs.DurationLong("session-ttl", server.DefaultIdleTTL, "Evict client sessions idle for this long")
		maxSessions     = fs.IntLong("max-sessions", server.DefaultMaxSessions, "Most client sessions kept at once")
		ocrBackend      = fs.StringLong("ocr", "gemini", "OCR backend: 'gemini' or 'ollama'")
		ocrTimeout      = fs.DurationLong("ocr-timeout", ocr.DefaultTimeout, "Timeout for text extraction")
		classifierType  = fs.StringLong("classifier", "anthropic", "Classifier backend: 'anthropic', 'gemini' or 'ollama'")
		classifyTimeout = fs.DurationLong("classify-timeout", classify.DefaultTimeout, "Timeout for ingredient classification")
		promptVersion   = fs.StringLong("prompt-version", "", "Prompt template version (default: "+classify.DefaultPromptVersion()+")")
		anthropicKey    = fs.StringLong("anthropic-key", "", "Anthropic API key (or set ANTHROPIC_API_KEY env var)")
		anthropicModel  = fs.StringLong("anthropic-model", "claude-sonnet-4-5", "Anthropic model name")
		anthropicURL    = fs.StringLong("anthropic-url", "https://api.anthropic.com", "Anthropic API base URL")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiOCRModel  = fs.StringLong("gemini-ocr-model", "gemini-2.5-flash", "Google Gemini model used for OCR")
		geminiModel     = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model used for classification")
		ollamaURL       = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaOCRModel  = fs.StringLong("ollama-ocr-model", "llama3.2-vision", "Ollama vision model used for OCR")
		ollamaModel     = fs.StringLong("ollama-model", "llama3.1", "Ollama model used for classification")
		quotaPath       = fs.StringLong("quota-db", "vegan-scanner.db", "Classification quota database path")
		quotaLimit      = fs.IntLong("quota-limit", 0, "Classifications allowed per day (0 = unlimited)")
		authUser        = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		debug           = fs.BoolLong("debug", "Enable debug logging")
		_               = fs.StringLong("config", "", "Config file (optional)")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("VEGAN_SCANNER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
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

	if *debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize OCR backend
	var recognizer ocr.Recognizer
	switch *ocrBackend {
	case "gemini":
		apiKey := firstNonEmpty(*geminiKey, os.Getenv("GEMINI_API_KEY"))
		slog.Info("Initializing Gemini OCR...", "model", *geminiOCRModel)
		r, err := ocr.NewGemini(ctx, apiKey, *geminiOCRModel)
		if err != nil {
			fatal("Failed to initialize Gemini OCR", err)
		}
		recognizer = r
	case "ollama":
		slog.Info("Initializing Ollama OCR...", "url", *ollamaURL, "model", *ollamaOCRModel)
		recognizer = ocr.NewOllama(*ollamaURL, *ollamaOCRModel)
	default:
		slog.Error("Invalid OCR backend", "type", *ocrBackend, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer recognizer.Close()

	// Initialize classification backend
	var completer classify.Completer
	switch *classifierType {
	case "anthropic":
		apiKey := firstNonEmpty(*anthropicKey, os.Getenv("ANTHROPIC_API_KEY"))
		slog.Info("Initializing Anthropic classifier...", "model", *anthropicModel)
		c, err := classify.NewAnthropic(classify.AnthropicConfig{
			BaseURL: *anthropicURL,
			APIKey:  apiKey,
			Model:   *anthropicModel,
		})
		if err != nil {
			fatal("Failed to initialize Anthropic", err)
		}
		completer = c
	case "gemini":
		apiKey := firstNonEmpty(*geminiKey, os.Getenv("GEMINI_API_KEY"))
		slog.Info("Initializing Gemini classifier...", "model", *geminiModel)
		c, err := classify.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			fatal("Failed to initialize Gemini classifier", err)
		}
		completer = c
	case "ollama":
		slog.Info("Initializing Ollama classifier...", "url", *ollamaURL, "model", *ollamaModel)
		completer = classify.NewOllama(*ollamaURL, *ollamaModel)
	default:
		slog.Error("Invalid classifier backend", "type", *classifierType, "valid", "anthropic, gemini or ollama")
		os.Exit(1)
	}

	ingredientClassifier, err := classify.New(completer, classify.Options{
		PromptVersion: *promptVersion,
		Timeout:       *classifyTimeout,
	})
	if err != nil {
		fatal("Failed to initialize classifier", err, "valid_versions", classify.PromptVersions())
	}
	defer ingredientClassifier.Close()

	// Initialize quota
	slog.Info("Initializing quota database...", "path", *quotaPath, "limit", *quotaLimit)
	quotaStore, err := quota.Open(*quotaPath, *quotaLimit)
	if err != nil {
		fatal("Failed to initialize quota database", err)
	}
	defer quotaStore.Close()
	if err := quotaStore.Prune(time.Now(), 30); err != nil {
		slog.Warn("Failed to prune quota database", "error", err)
	}

	extractor := ocr.NewExtractor(recognizer, *ocrTimeout, nil)
	classifier := quota.NewGuard(ingredientClassifier, quotaStore)
	maxUpload := int64(*maxUploadMB) << 20

	if *imagePath != "" {
		code := scanOnce(ctx, extractor, classifier, *imagePath, maxUpload, !*plain)
		// os.Exit skips deferred calls
		quotaStore.Close()
		ingredientClassifier.Close()
		recognizer.Close()
		os.Exit(code)
	}

	// Initialize spool storage
	slog.Info("Initializing spool...", "path", *spoolDir)
	spool, err := capture.NewLocalStorage(*spoolDir)
	if err != nil {
		fatal("Failed to initialize spool", err)
	}

	sessions := server.NewSessions(func(p scan.Presenter) *scan.Pipeline {
		return scan.New(extractor, classifier, scan.WithPresenter(p))
	}, *sessionTTL, *maxSessions)

	srv := server.NewServer(server.Config{
		Sessions: sessions,
		Spool:    spool,
		Quota:    quotaStore,
		BasicAuth: server.BasicAuth{
			Username: *authUser,
			Password: *authPass,
		},
		MaxUpload: maxUpload,
	})

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessions.RunJanitor(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		return srv.Start(gctx, addr)
	})
	if err := g.Wait(); err != nil {
		fatal("Server error", err)
	}
	slog.Info("Shut down")
}

// scanOnce runs a single scan of a local file and returns the exit code
func scanOnce(ctx context.Context, extractor scan.TextExtractor, classifier classify.Classifier, path string, maxUpload int64, interactive bool) int {
	pipeline := scan.New(extractor, classifier,
		scan.WithPresenter(render.NewTerminal(os.Stdout, interactive)),
	)

	outcome, err := pipeline.Run(ctx, capture.NewFileCapturer(path, maxUpload))
	if err != nil {
		if errors.Is(err, scan.ErrCancelled) {
			return 130
		}
		slog.Error("Scan failed", "error", err)
		return 1
	}
	if !outcome.Succeeded() {
		return 1
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func fatal(msg string, err error, args ...any) {
	slog.Error(msg, append([]any{"error", err}, args...)...)
	os.Exit(1)
}
