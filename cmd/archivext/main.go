// Package main is the Archivext CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hyperjump/archivext/internal/archive"
	"github.com/hyperjump/archivext/internal/cli"
	"github.com/hyperjump/archivext/internal/config"
	"github.com/hyperjump/archivext/internal/extract"
	"github.com/hyperjump/archivext/internal/keyword"
	"github.com/hyperjump/archivext/internal/metrics"
	"github.com/hyperjump/archivext/internal/server"
	"github.com/hyperjump/archivext/internal/session"
	"github.com/hyperjump/archivext/internal/sigparser"
	"github.com/hyperjump/archivext/internal/storage"
	"github.com/hyperjump/archivext/internal/updater"
	"github.com/hyperjump/archivext/internal/watcher"
	"github.com/hyperjump/archivext/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/archivext/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists, so running from a project checkout uses the project config.
// A missing default config falls back to built-in defaults.
// Returns the config and the path that was actually loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// commonFlags are shared by every command that builds components.
type commonFlags struct {
	configPath *string
	debug      *bool
	logLevel   *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path (./config.yaml is preferred when present)"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
		logLevel:   fs.String("log-level", "", "log level: debug, info, warn or error (overrides --debug)"),
	}
}

// setup loads the config and builds the logger described by flags.
func (f commonFlags) setup() (*config.Config, *zap.Logger, string) {
	cfg, resolved, err := loadConfig(*f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(*f.logLevel, cfg.Debug || *f.debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger, resolved
}

func newLogger(level string, debug bool) (*zap.Logger, error) {
	if level != "" {
		return utils.NewLoggerLevel(level)
	}
	return utils.NewLogger(debug)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "import":
		runImport()
	case "archive":
		runArchive()
	case "export":
		runExport()
	case "hash":
		runHash()
	case "update":
		runUpdate()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("archivext version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(os.Args[2:])

	cfg, logger, resolvedConfigPath := common.setup()
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug || *common.debug),
	)

	components, err := initializeComponents(cfg, logger, prometheus.NewRegistry())
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components.prepare(ctx, logger)

	if components.Updater != nil && cfg.Update.OnStart {
		go func() {
			res := <-components.Updater.Start(ctx)
			if res.Status == updater.Updated {
				if _, err := components.Session.Load(ctx); err != nil {
					logger.Warn("reload after update failed", zap.Error(err))
				}
			}
		}()
	}

	if cfg.Watch.Enabled {
		w, err := watcher.New(
			components.Archives.Dir,
			components.Archives.Matches,
			func() {
				if _, err := components.Session.Load(ctx); err != nil {
					logger.Warn("watch reload failed", zap.Error(err))
				}
			},
			watcher.WithLogger(logger),
			watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMS)*time.Millisecond),
		)
		if err != nil {
			logger.Fatal("Failed to create watcher", zap.Error(err))
		}
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	opts := []server.Option{
		server.WithStorage(components.Storage),
		server.WithMetrics(components.Metrics),
	}
	if components.Updater != nil {
		opts = append(opts, server.WithUpdater(components.Updater))
	}
	srv := server.NewServer(components.Session, cfg, logger, opts...)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if components.Updater != nil {
		components.Updater.Stop(2 * time.Second)
	}
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if err := components.Session.Persist(shutdownCtx); err != nil {
		logger.Warn("failed to persist session on shutdown", zap.Error(err))
	}
}

// printSearchUsage prints search subcommand usage and query syntax hints.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: archivext search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. An empty query lists every record.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Queries mix free text with tags. Free text matches any column; each tag restricts one column:
  num: date: auteur: code: flag: desc: statut: respo:
Tags are ANDed. Matching is case-insensitive substring matching.

Examples:
  archivext search wall hack
  archivext search auteur:bob statut:ban
  archivext search --set session --sort date --desc flag:spam
  archivext search --fuzzy --limit 5 wallhak
  archivext search --output xlsx --out report.xlsx auteur:bob
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// openOutput returns the writer for --out; stdout when path is empty.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	common := addCommonFlags(fs)
	setName := fs.String("set", "archives", "record set: archives or session")
	sortBy := fs.String("sort", "", "sort column (label or header, e.g. date, auteur)")
	desc := fs.Bool("desc", false, "sort descending")
	fuzzy := fs.Bool("fuzzy", false, "typo-tolerant lookup over both sets instead of tag filtering")
	limit := fs.Int("limit", 20, "number of fuzzy results")
	outputFormat := fs.String("output", "text", "output format: text, json or xlsx")
	outPath := fs.String("out", "", "write output to this file instead of stdout")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if format == cli.OutputXLSX && *outPath == "" {
		fmt.Fprintln(os.Stderr, "--output xlsx needs --out <file>")
		os.Exit(1)
	}
	set, ok := session.ParseSet(*setName)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown set %q; use archives or session\n", *setName)
		os.Exit(1)
	}
	queryStr := buildSearchQuery(fs.Args())

	cfg, logger, _ := common.setup()
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger, nil)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()
	ctx := context.Background()
	components.prepare(ctx, logger)
	sess := components.Session

	w, closeOut, err := openOutput(*outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open output: %v\n", err)
		os.Exit(1)
	}

	if *fuzzy {
		if queryStr == "" {
			printSearchUsage(fs)
			os.Exit(1)
		}
		hits, err := sess.Fuzzy(ctx, queryStr, *limit, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		err = cli.WriteHits(w, queryStr, hits, format)
		if cerr := closeOut(); err == nil {
			err = cerr
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cli.WarnMisspelled(os.Stderr, sess.Parser(), queryStr)
	if *sortBy != "" {
		col, ok := sess.ParseColumn(*sortBy)
		if !ok {
			fmt.Fprintf(os.Stderr, "Unknown sort column %q\n", *sortBy)
			os.Exit(1)
		}
		if _, err := sess.Sort(set, col, *desc); err != nil {
			fmt.Fprintf(os.Stderr, "Sort failed: %v\n", err)
			os.Exit(1)
		}
	}
	view, err := sess.FilterNow(set, queryStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	err = cli.WriteView(w, set, view, format)
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// readReports returns the text of every path, "-" meaning stdin.
func readReports(ex *extract.Extractor, paths []string) (string, error) {
	var b strings.Builder
	for _, p := range paths {
		var text string
		if p == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return "", fmt.Errorf("read stdin: %w", err)
			}
			text = string(data)
		} else {
			t, err := ex.Extract(p)
			if err != nil {
				return "", fmt.Errorf("%s: %w", p, err)
			}
			text = t
		}
		b.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	common := addCommonFlags(fs)
	replace := fs.Bool("session", false, "treat the file as a saved session (JSON) and replace the working session")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: archivext import [flags] <file|-> [file...]")
		os.Exit(1)
	}
	cfg, logger, _ := common.setup()
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger, nil)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()
	ctx := context.Background()
	if _, err := components.Session.Restore(ctx); err != nil {
		logger.Warn("failed to restore session", zap.Error(err))
	}

	if *replace {
		data, err := os.ReadFile(fs.Arg(0))
		if err != nil {
			fmt.Printf("Failed to read session: %v\n", err)
			os.Exit(1)
		}
		n, err := components.Session.Import(data)
		if err != nil {
			fmt.Printf("Import failed: %v\n", err)
			os.Exit(1)
		}
		if err := components.Session.Persist(ctx); err != nil {
			fmt.Printf("Failed to save session: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Session replaced: %d record(s)\n", n)
		return
	}

	text, err := readReports(extract.NewExtractor(extract.WithLogger(logger)), fs.Args())
	if err != nil {
		fmt.Printf("Failed to read reports: %v\n", err)
		os.Exit(1)
	}
	res := components.Session.AddReports(text)
	if err := components.Session.Persist(ctx); err != nil {
		fmt.Printf("Failed to save session: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Added %d report(s) (%d line(s) skipped, %d duplicate(s)); session holds %d\n",
		len(res.Records), res.Skipped, res.Duplicates, components.Session.Len(session.Working))
}

func runArchive() {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(os.Args[2:])

	cfg, logger, _ := common.setup()
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger, nil)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()
	ctx := context.Background()
	if _, err := components.Session.Restore(ctx); err != nil {
		fmt.Printf("Failed to restore session: %v\n", err)
		os.Exit(1)
	}

	n, archiveErr := components.Session.Archive(ctx, fs.Args()...)
	if n > 0 {
		if err := components.Session.Persist(ctx); err != nil {
			fmt.Printf("Failed to save session: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Archived %d record(s); %d left in session\n", n, components.Session.Len(session.Working))
	if archiveErr != nil {
		fmt.Printf("Archiving stopped: %v\n", archiveErr)
		os.Exit(1)
	}
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	common := addCommonFlags(fs)
	outPath := fs.String("out", "", "write the session to this file instead of stdout")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, _ := common.setup()
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger, nil)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()
	if _, err := components.Session.Restore(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to restore session: %v\n", err)
		os.Exit(1)
	}
	data, err := components.Session.Export()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	w, closeOut, err := openOutput(*outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open output: %v\n", err)
		os.Exit(1)
	}
	_, err = w.Write(append(data, '\n'))
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
}

func runHash() {
	fs := flag.NewFlagSet("hash", flag.ExitOnError)
	common := addCommonFlags(fs)
	algo := fs.String("algorithm", "", "hash algorithm: md5, sha256 or xxhash (default from config)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, _ := common.setup()
	defer logger.Sync()
	if *algo == "" {
		*algo = cfg.Archives.HashAlgorithm
	}
	arch, err := newArchives(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open archives: %v\n", err)
		os.Exit(1)
	}
	hash, err := arch.Hash(*algo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Hash failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s  %s\n", hash, *algo)
}

func runUpdate() {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	common := addCommonFlags(fs)
	baseURL := fs.String("url", "", "remote archive base URL (default from config)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, _ := common.setup()
	defer logger.Sync()
	if *baseURL != "" {
		cfg.Update.BaseURL = *baseURL
	}
	if cfg.Update.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "No update URL: set update.base_url or pass --url")
		os.Exit(1)
	}
	arch, err := newArchives(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open archives: %v\n", err)
		os.Exit(1)
	}
	u, err := newUpdater(cfg, arch, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create updater: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	res := u.Sync(ctx)
	switch res.Status {
	case updater.UpToDate:
		fmt.Printf("Archives up to date (%s)\n", res.LocalHash)
	case updater.Updated:
		fmt.Printf("Downloaded %d/%d file(s); remote version %s\n", res.Downloaded, res.Total, res.RemoteVersion)
	default:
		fmt.Fprintf(os.Stderr, "Update failed after %d/%d file(s): %v\n", res.Downloaded, res.Total, res.Err)
		os.Exit(1)
	}
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	SessionRecords int                    `json:"session_records"`
	ArchiveRecords int                    `json:"archive_records"`
	ArchiveFiles   int                    `json:"archive_files"`
	StoredRecords  *int64                 `json:"stored_records,omitempty"`
	ArchivedLogged *int64                 `json:"archived_logged,omitempty"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	UpdateRunning  bool                   `json:"update_running,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := addCommonFlags(fs)
	serverURL := fs.String("server", "", "server URL (empty = read the files directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, logger, _ := common.setup()
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		ctx := context.Background()
		components.prepare(ctx, logger)
		files, _ := components.Archives.Files()
		stored, err := components.Storage.CountRecords(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count records failed: %v\n", err)
			os.Exit(1)
		}
		archived, err := components.Storage.CountArchived(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count archived failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{
			SessionRecords: components.Session.Len(session.Working),
			ArchiveRecords: components.Session.Len(session.Archived),
			ArchiveFiles:   len(files),
			StoredRecords:  &stored,
			ArchivedLogged: &archived,
			Config: map[string]interface{}{
				"archives_directory": cfg.Archives.Directory,
				"archives_pattern":   cfg.Archives.Pattern,
				"hash_algorithm":     cfg.Archives.HashAlgorithm,
				"database_path":      cfg.Storage.DatabasePath,
			},
		}
		if diskBytes, err := storage.DiskUsageBytes(storage.DatabaseFiles(cfg.Storage.DatabasePath)...); err == nil {
			status.DiskUsageBytes = &diskBytes
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		writeStatusText(os.Stdout, status)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func writeStatusText(w io.Writer, status statusResponse) {
	fmt.Fprintf(w, "session_records:   %d   # pasted reports not yet archived\n", status.SessionRecords)
	fmt.Fprintf(w, "archive_records:   %d   # records loaded from the archive files\n", status.ArchiveRecords)
	fmt.Fprintf(w, "archive_files:     %d\n", status.ArchiveFiles)
	if status.StoredRecords != nil {
		fmt.Fprintf(w, "stored_records:    %d   # working session rows in the database\n", *status.StoredRecords)
	}
	if status.ArchivedLogged != nil {
		fmt.Fprintf(w, "archived_logged:   %d\n", *status.ArchivedLogged)
	}
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:  %d   # session database on disk\n", *status.DiskUsageBytes)
	}
	if status.UpdateRunning {
		fmt.Fprintln(w, "update_running:    true")
	}
	if len(status.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		for _, key := range []string{"archives_directory", "archives_pattern", "hash_algorithm", "database_path"} {
			if v, ok := status.Config[key]; ok && v != "" {
				fmt.Fprintf(w, "%-19s%v\n", key+":", v)
			}
		}
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Archives *archive.Archives
	Storage  *storage.SQLiteStorage
	Index    *keyword.BleveIndex
	Metrics  *metrics.Metrics
	Session  *session.Session
	Updater  *updater.Updater
}

func (c *Components) Close() {
	if c.Session != nil {
		c.Session.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// prepare restores the stored session and loads the archive files.
func (c *Components) prepare(ctx context.Context, logger *zap.Logger) {
	if n, err := c.Session.Restore(ctx); err != nil {
		logger.Warn("failed to restore session", zap.Error(err))
	} else if n > 0 {
		logger.Info("session restored", zap.Int("records", n))
	}
	stats, err := c.Session.Load(ctx)
	if err != nil {
		logger.Warn("failed to load archives", zap.Error(err))
	}
	for _, p := range stats.Problems {
		logger.Debug("archive problem", zap.Error(p))
	}
}

func newArchives(cfg *config.Config, logger *zap.Logger) (*archive.Archives, error) {
	return archive.New(cfg.Archives.Directory, cfg.Archives.Pattern,
		archive.WithLogger(logger),
		archive.WithCodec(cfg.Archives.Codec()),
		archive.WithStrict(cfg.Archives.Strict),
		archive.WithStripComments(cfg.Archives.StripComments),
	)
}

func newUpdater(cfg *config.Config, arch *archive.Archives, logger *zap.Logger, m *metrics.Metrics) (*updater.Updater, error) {
	return updater.New(cfg.Update.BaseURL, arch,
		updater.WithLogger(logger),
		updater.WithTimeout(cfg.Update.Timeout()),
		updater.WithMetaPath(cfg.Update.MetaPath),
		updater.WithHashAlgorithm(cfg.Archives.HashAlgorithm),
		updater.WithMetrics(m),
	)
}

// initializeComponents wires the session over the configured archives and database.
// A nil reg keeps the metrics private to the process.
func initializeComponents(cfg *config.Config, logger *zap.Logger, reg *prometheus.Registry) (*Components, error) {
	arch, err := newArchives(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archives: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Archives: arch, Storage: store, Metrics: metrics.New(reg)}

	idx, err := keyword.NewBleveIndex()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize fuzzy index: %w", err)
	}
	c.Index = idx

	reports := sigparser.New(
		sigparser.WithAllowDuplicates(cfg.Search.AllowDuplicates),
		sigparser.WithLogger(logger),
	)
	sess, err := session.New(arch,
		session.WithLogger(logger),
		session.WithStoreOptions(cfg.Search.StoreOptions()...),
		session.WithDebounce(cfg.Search.Debounce()),
		session.WithStorage(store),
		session.WithIndex(idx),
		session.WithFuzzyOptions(keyword.SearchOptions{Fuzziness: cfg.Search.FuzzinessOrDefault()}),
		session.WithMetrics(c.Metrics),
		session.WithHashAlgorithm(cfg.Archives.HashAlgorithm),
		session.WithReportParser(reports),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}
	c.Session = sess

	if cfg.Update.BaseURL != "" {
		u, err := newUpdater(cfg, arch, logger, c.Metrics)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize updater: %w", err)
		}
		c.Updater = u
	}
	return c, nil
}

func printUsage() {
	fmt.Println(`archivext - Report archive browser

Usage:
  archivext server [flags]              Start the HTTP server
  archivext search [flags] <query>      Filter archived or session records
  archivext import [flags] <file|->     Add pasted reports from text, PDF, DOCX, ODT, RTF or XLSX
  archivext archive [flags] [id...]     Append session records to the archive files
  archivext export [flags]              Write the working session as JSON
  archivext hash [flags]                Digest the archive files
  archivext update [flags]              Download newer archive files
  archivext status [flags]              Show session, archive and database status
  archivext version                     Show version
  archivext help                        Show this help

Common Flags:
  --config string     Config file path (default: /usr/local/etc/archivext/config.yaml; ./config.yaml wins)
  --debug             Enable debug logging
  --log-level string  debug, info, warn or error

Search Flags:
  --set string        archives (default) or session
  --sort string       Sort column, e.g. date or auteur
  --desc              Sort descending
  --fuzzy             Typo-tolerant lookup over both sets
  --limit int         Number of fuzzy results (default: 20)
  --output string     text, json or xlsx (default: text)
  --out string        Output file (required for xlsx)

Import Flags:
  --session           Replace the working session with a saved session file

Export Flags:
  --out string        Output file (default: stdout)

Hash Flags:
  --algorithm string  md5, sha256 or xxhash (default from config)

Update Flags:
  --url string        Remote base URL (default from config)

Status Flags:
  --server string     Ask a running server instead of reading the files
  --output string     text or json (default: text)

Examples:
  archivext server
  archivext search auteur:bob statut:ban
  archivext search --output xlsx --out bob.xlsx auteur:bob
  archivext import reports.txt
  pbpaste | archivext import -
  archivext archive
  archivext export --out session.sig
  archivext hash --algorithm sha256
  archivext status --output json`)
}
