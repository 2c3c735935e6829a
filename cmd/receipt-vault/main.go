package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-vault/internal/ledger"
	"github.com/zombor/receipt-vault/internal/logging"
	"github.com/zombor/receipt-vault/internal/pipeline"
	"github.com/zombor/receipt-vault/internal/receipt"
	"github.com/zombor/receipt-vault/internal/remote"
	"github.com/zombor/receipt-vault/internal/scanning"
	"github.com/zombor/receipt-vault/internal/server"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the whole program. It returns the exit code so deferred cleanup
// runs before the process exits.
func run(args []string) int {
	// Check for version flag before parsing other flags
	for _, arg := range args {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			return 0
		}
	}

	fs := ff.NewFlagSet("receipt-vault")
	var (
		_              = fs.StringLong("config", "", "Config file path (plain 'key value' lines)")
		storagePath    = fs.StringLong("storage", "./receipts", "Local storage directory path")
		cachePath      = fs.StringLong("cache-db", "", "Location cache database path (in-memory when empty)")
		localeName     = fs.StringLong("locale", "he", "Month and header language: 'he' or 'en'")
		currency       = fs.StringLong("currency", "₪", "Currency symbol for totals")
		extractorType  = fs.StringLong("extractor", "azure", "Extractor type: 'azure' or 'gemini'")
		azureEndpoint  = fs.StringLong("azure-endpoint", "", "Document analysis endpoint URL")
		azureKey       = fs.StringLong("azure-key", "", "Document analysis subscription key")
		azureModel     = fs.StringLong("azure-model", "prebuilt-receipt", "Document analysis model id")
		azureVersion   = fs.StringLong("azure-api-version", "2023-07-31", "Document analysis API version")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		credentials    = fs.StringLong("google-credentials", "", "Google service account or authorized user JSON file")
		accessToken    = fs.StringLong("google-token", "", "Google OAuth access token (alternative to --google-credentials)")
		rootFolder     = fs.StringLong("root-folder", "ReceiptVault", "Top level Drive folder name")
		uploadAttempts = fs.IntLong("upload-attempts", 2, "Attempts for an upload failing with a network error")
		workbook       = fs.BoolLong("workbook", "Mirror ledger rows into a local .xlsx per month")
		requireExtract = fs.BoolLong("require-extraction", "Fail runs on extraction credential or response errors")
		serve          = fs.BoolLong("serve", "Run the HTTP ingest API instead of processing files")
		port           = fs.IntLong("port", 8080, "HTTP server port")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logFormat      = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		logLevel       = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		_              = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("RECEIPT_VAULT"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		if errors.Is(err, ff.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	logging.Setup(logging.Config{Format: *logFormat, Level: *logLevel})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	locale, err := receipt.LocaleByName(*localeName)
	if err != nil {
		slog.Error("Invalid locale", "error", err)
		return 1
	}

	// Initialize storage
	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		return 1
	}

	// Initialize extractor based on type
	var extractor scanning.Extractor
	switch *extractorType {
	case "azure":
		slog.Info("Initializing document analysis extractor...", "endpoint", *azureEndpoint, "model", *azureModel)
		extractor, err = scanning.NewDocumentIntelligence(scanning.DocumentIntelligenceConfig{
			Endpoint:       *azureEndpoint,
			APIKey:         *azureKey,
			Model:          *azureModel,
			APIVersion:     *azureVersion,
			CurrencySymbol: *currency,
		})
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		extractor, err = scanning.NewGemini(apiKey, *geminiModel, *currency)
	default:
		err = fmt.Errorf("invalid extractor type %q, valid: azure or gemini", *extractorType)
	}
	if err != nil {
		slog.Error("Failed to initialize extractor", "error", err)
		return 1
	}
	defer extractor.Close()

	deps := pipeline.Deps{
		Extractor: extractor,
		Storage:   store,
		Observer: pipeline.ObserverFunc(func(p pipeline.Progress) {
			slog.Debug("Progress", "run_id", p.RunID, "stage", p.Stage.String(), "fraction", p.Fraction)
		}),
	}
	if *workbook {
		deps.Workbook = ledger.NewWorkbook(locale, *currency, nil)
	}

	tokens, err := tokenProvider(ctx, *credentials, *accessToken)
	if err != nil {
		slog.Error("Failed to load Google credentials", "error", err)
		return 1
	}
	if tokens == nil {
		slog.Warn("No Google credentials configured, receipts will be stored locally only")
	} else {
		closeCache, err := wireRemote(ctx, &deps, tokens, locale, *currency, *cachePath)
		if err != nil {
			slog.Error("Failed to initialize remote sync", "error", err)
			return 1
		}
		defer closeCache()
	}

	orchestrator := pipeline.New(pipeline.Config{
		RootFolder:        *rootFolder,
		Locale:            locale,
		UploadAttempts:    *uploadAttempts,
		RequireExtraction: *requireExtract,
	}, deps)

	if *serve {
		basicAuth := server.BasicAuth{
			Username: *authUser,
			Password: *authPass,
		}
		if *authUser != "" || *authPass != "" {
			slog.Info("Basic auth enabled", "user", *authUser)
		}
		srv := server.NewServer(orchestrator, store, basicAuth)
		if err := srv.Start(ctx, fmt.Sprintf(":%d", *port)); err != nil {
			slog.Error("Server error", "error", err)
			return 1
		}
		return 0
	}

	paths := fs.GetArgs()
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: no receipt files given (or pass --serve)")
		return 1
	}
	if failed := ingestFiles(ctx, orchestrator, paths); failed > 0 {
		return 1
	}
	return 0
}

// tokenProvider returns nil when no Google credential is configured
func tokenProvider(ctx context.Context, credentialsFile, accessToken string) (remote.TokenProvider, error) {
	switch {
	case credentialsFile != "":
		tokens, err := remote.NewCredentialsTokens(ctx, credentialsFile)
		if err != nil {
			return nil, err
		}
		return tokens, nil
	case accessToken != "":
		return remote.NewStaticTokens(accessToken), nil
	}
	return nil, nil
}

// wireRemote builds the Drive and Sheets collaborators into deps. The
// returned func closes the location cache.
func wireRemote(ctx context.Context, deps *pipeline.Deps, tokens remote.TokenProvider, locale receipt.Locale, currency, cachePath string) (func(), error) {
	folders, err := remote.NewDriveFolders(ctx, tokens)
	if err != nil {
		return nil, err
	}
	sheets, err := remote.NewSheetsLedger(ctx, tokens, locale, currency)
	if err != nil {
		return nil, err
	}

	var cache remote.LocationCache = remote.NewMemoryCache()
	closeCache := func() {}
	if cachePath != "" {
		bolt, err := remote.NewBoltCache(cachePath)
		if err != nil {
			return nil, err
		}
		cache = bolt
		closeCache = func() {
			if err := bolt.Close(); err != nil {
				slog.Error("Failed to close location cache", "error", err)
			}
		}
	}

	deps.Tokens = tokens
	deps.Provisioner = remote.NewProvisioner(folders, sheets, cache, tokens, locale, nil)
	deps.Uploader = remote.NewUploader(tokens)
	deps.Appender = remote.NewLedgerAppender(sheets, tokens, nil)
	return closeCache, nil
}

// ingestFiles runs every file through the pipeline in order and prints one
// summary line per run. It returns the number of failed runs.
func ingestFiles(ctx context.Context, orchestrator *pipeline.Orchestrator, paths []string) int {
	var images []receipt.Image
	failed := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("Failed to read receipt", "path", path, "error", err)
			failed++
			continue
		}
		imgs, err := receipt.Images(data, contentTypeFor(path))
		if err != nil {
			slog.Error("Failed to decode receipt", "path", path, "error", err)
			failed++
			continue
		}
		images = append(images, imgs...)
	}

	results, err := orchestrator.RunAll(ctx, images)
	if err != nil {
		slog.Warn("Some receipts failed", "error", err)
	}
	for _, res := range results {
		fmt.Printf("%s: %s\n", res.RunID, res.Summary())
		for _, note := range res.Notes {
			fmt.Printf("  note: %s\n", note)
		}
		if res.Stage == receipt.StageFailed {
			failed++
		}
	}
	if missing := len(images) - len(results); missing > 0 {
		failed += missing
	}
	return failed
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".png", ".PNG":
		return "image/png"
	case ".pdf", ".PDF":
		return "application/pdf"
	case ".heic", ".HEIC", ".heif", ".HEIF":
		return "image/heic"
	case ".gif", ".GIF":
		return "image/gif"
	}
	return "image/jpeg"
}
