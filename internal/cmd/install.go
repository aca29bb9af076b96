package cmd

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/tasktree/internal/config"
	"github.com/Iron-Ham/tasktree/internal/engine"
	"github.com/Iron-Ham/tasktree/internal/event"
	"github.com/Iron-Ham/tasktree/internal/fetch"
	"github.com/Iron-Ham/tasktree/internal/logging"
	"github.com/Iron-Ham/tasktree/internal/metrics"
	"github.com/Iron-Ham/tasktree/internal/modpack"
	"github.com/Iron-Ham/tasktree/internal/registry"
	"github.com/Iron-Ham/tasktree/internal/resolver"
	"github.com/Iron-Ham/tasktree/internal/task"
	"github.com/Iron-Ham/tasktree/internal/watcher"
)

var installCmd = &cobra.Command{
	Use:   "install <modpack.zip>",
	Short: "Install a modpack into a directory",
	Long: `Install a Curseforge, MCBBS or Modrinth modpack archive.

Curseforge files are resolved through the Curseforge API and downloaded into
<dest>/mods. Override files from the archive are extracted into <dest>. MCBBS
addon files are fetched from the pack's file API unless --no-file-api is set.

Press Ctrl+C to cancel; running downloads finish before the install stops.

Examples:
  tasktree install pack.zip --dest ./instance
  tasktree install pack.zip --dest ./instance --json > progress.jsonl
  tasktree install pack.zip --dest ./instance --preserve options.txt
  TASKTREE_DOWNLOAD_API_KEY=... tasktree install pack.zip -d ./instance`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

var (
	installDest        string
	installJSON        bool
	installNoFileAPI   bool
	installMetricsAddr string
	installPreserve    []string
)

// shutdownTimeout bounds how long a cancelled install may take to settle.
const shutdownTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(installCmd)

	installCmd.Flags().StringVarP(&installDest, "dest", "d", "", "Instance directory to install into (required)")
	installCmd.Flags().BoolVar(&installJSON, "json", false, "Write progress batches as JSON lines")
	installCmd.Flags().BoolVar(&installNoFileAPI, "no-file-api", false, "Skip addon files served by the pack's file API")
	installCmd.Flags().StringVar(&installMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while installing")
	installCmd.Flags().StringSliceVar(&installPreserve, "preserve", nil, "Keep existing files matching these globs instead of extracting overrides (e.g. options.txt,config/*.cfg)")
	_ = installCmd.MarkFlagRequired("dest")
}

var (
	summaryTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	summaryKey   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	summaryOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
)

// installRun holds everything wired for one install command.
type installRun struct {
	cfg      *config.Config
	logger   *logging.Logger
	bus      *event.Bus
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	registry *registry.Registry
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	dest, err := filepath.Abs(installDest)
	if err != nil {
		return fmt.Errorf("failed to resolve destination: %w", err)
	}
	archivePath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve archive path: %w", err)
	}

	archive, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open modpack: %w", err)
	}
	defer func() { _ = archive.Close() }()

	manifest, err := modpack.ReadMetadata(&archive.Reader)
	if err != nil {
		return err
	}
	opts := modpack.ResolveInstanceOptions(manifest)

	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	run := newInstallRun(cmd.OutOrStdout(), cfg, logger)

	metricsAddr := installMetricsAddr
	if metricsAddr == "" && cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.Address
	}
	if metricsAddr != "" {
		stop, err := serveMetrics(metricsAddr, run.gatherer, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	if !installJSON {
		printHeader(cmd.ErrOrStderr(), manifest, opts, dest)
	}

	params, err := run.params(&archive.Reader, manifest, dest)
	if err != nil {
		return err
	}

	// One tree runs per command, so the first boundary event is ours.
	settled := make(chan event.TreeSettledEvent, 1)
	subs := run.bus.SubscribeTypes(func(e event.Event) {
		if ev, ok := e.(event.TreeSettledEvent); ok {
			settled <- ev
		}
	}, event.TypeTreeSucceeded, event.TypeTreeFailed, event.TypeTreeCancelled)
	defer func() {
		for _, s := range subs {
			run.bus.Unsubscribe(s)
		}
	}()

	config.Watch(run.bus)
	run.bus.Subscribe(event.TypeConfigReloaded, func(e event.Event) {
		if ev, ok := e.(event.ConfigReloadedEvent); ok {
			logger.Info("config file changed; new values apply to the next install", "file", ev.File)
		}
	})

	sigCtx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	id, err := run.registry.Execute(sigCtx, registry.Descriptor{
		Name: modpack.TaskInstall,
		Arguments: map[string]string{
			"archive": archivePath,
			"dest":    dest,
		},
		Task: modpack.InstallTask(params),
	})
	if err != nil {
		return err
	}

	var result event.TreeSettledEvent
	select {
	case result = <-settled:
	case <-sigCtx.Done():
		logger.Warn("install interrupted, cancelling", "task_id", id)
		run.registry.Cancel(id)
		result = <-settled
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := run.registry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown did not complete", "error", err.Error())
	}

	return report(cmd.ErrOrStderr(), result, dest)
}

func newInstallRun(out io.Writer, cfg *config.Config, logger *logging.Logger) *installRun {
	gatherer, m := metrics.NewRegistry(cfg.Metrics.Namespace)
	bus := event.NewBus()
	eng := engine.New(bus, engine.WithLogger(logger), engine.WithMetrics(m))

	var observer watcher.Observer
	if installJSON {
		observer = watcher.NewJSONObserver(out)
	} else {
		observer = watcher.NewTextObserver(out, terminalWidth(out))
	}
	w := watcher.New(observer,
		watcher.WithInterval(cfg.Watcher.FlushInterval()),
		watcher.WithLogger(logger),
		watcher.WithMetrics(m),
	)

	reg := registry.New(bus, eng,
		registry.WithWatcher(w),
		registry.WithLogger(logger),
		registry.WithMetrics(m),
		registry.WithNotifier(registry.NotifierFunc(func(kind registry.BoundaryKind, id string) {
			logger.Debug("boundary", "kind", string(kind), "task_id", id)
		})),
	)

	return &installRun{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		metrics:  m,
		gatherer: gatherer,
		registry: reg,
	}
}

func (r *installRun) params(archive *zip.Reader, manifest modpack.Manifest, dest string) (modpack.Params, error) {
	cfg := r.cfg

	cfOpts := []fetch.CurseforgeOption{
		fetch.WithAPIKey(cfg.Download.APIKey),
		fetch.WithCurseforgeLogger(r.logger),
	}
	if cfg.Resolver.RequestsPerSecond > 0 {
		cfOpts = append(cfOpts, fetch.WithRateLimit(cfg.Resolver.RequestsPerSecond, cfg.Resolver.Burst))
	}

	p := modpack.Params{
		Archive:      archive,
		Manifest:     manifest,
		Root:         dest,
		AllowFileAPI: cfg.Download.AllowFileAPI && !installNoFileAPI,
		Preserve:     installPreserve,
		Resolver:     fetch.NewCurseforgeClient(cfg.Download.CurseforgeBaseURL, cfOpts...),
		Downloader: fetch.NewHTTPDownloader(
			fetch.WithRetryMax(cfg.Download.RetryMax),
			fetch.WithTimeout(cfg.Download.Timeout()),
			fetch.WithDownloadLogger(r.logger),
			fetch.WithDownloadMetrics(r.metrics),
		),
		Extractor: fetch.NewZipExtractor(r.logger),
		ResolverOptions: []resolver.Option{
			resolver.WithBounds(cfg.Resolver.InitialBatch, cfg.Resolver.MinBatch, cfg.Resolver.MaxBatch),
			resolver.WithMaxAttempts(cfg.Resolver.MaxAttempts),
			resolver.WithMetrics(r.metrics),
		},
		Logger: r.logger,
	}

	if cfg.Resolver.CacheSize > 0 {
		cache, err := resolver.NewCache[modpack.CurseFile, string](cfg.Resolver.CacheSize)
		if err != nil {
			return modpack.Params{}, err
		}
		p.Cache = cache
	}
	return p, nil
}

// serveMetrics starts a /metrics endpoint on addr and returns a function
// that shuts it down.
func serveMetrics(addr string, g prometheus.Gatherer, logger *logging.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err.Error())
		}
	}()
	logger.Info("serving metrics", "address", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// terminalWidth returns the column count of out when it is a terminal, or
// zero to disable truncation.
func terminalWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(f.Fd()) {
		return 0
	}
	width, _, err := term.GetSize(f.Fd())
	if err != nil {
		return 0
	}
	return width
}

func printHeader(w io.Writer, m modpack.Manifest, opts modpack.InstanceOptions, dest string) {
	title := opts.Name
	if opts.Version != "" {
		title += " " + opts.Version
	}
	fmt.Fprintln(w, summaryTitle.Render(title))
	fmt.Fprintf(w, "%s %s\n", summaryKey.Render("format:   "), m.Format())
	if opts.Runtime.Minecraft != "" {
		fmt.Fprintf(w, "%s %s\n", summaryKey.Render("minecraft:"), opts.Runtime.Minecraft)
	}
	if opts.Runtime.Forge != "" {
		fmt.Fprintf(w, "%s %s\n", summaryKey.Render("forge:    "), opts.Runtime.Forge)
	}
	if opts.Runtime.FabricLoader != "" {
		fmt.Fprintf(w, "%s %s\n", summaryKey.Render("fabric:   "), opts.Runtime.FabricLoader)
	}
	fmt.Fprintf(w, "%s %s\n\n", summaryKey.Render("dest:     "), dest)
}

// report turns the settled tree into the command's outcome.
func report(w io.Writer, ev event.TreeSettledEvent, dest string) error {
	switch ev.Status {
	case task.StatusSucceeded:
		files, _ := ev.Result.([]modpack.File)
		fmt.Fprintf(w, "%s %d files into %s\n", summaryOK.Render("Installed"), len(files), dest)
		return nil
	case task.StatusCancelled:
		return errors.New("install cancelled")
	default:
		if ev.Err != nil {
			return ev.Err
		}
		return fmt.Errorf("install ended with status %s", ev.Status)
	}
}
