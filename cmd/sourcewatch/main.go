package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hmgle/sourcewatch/internal/config"
	"github.com/hmgle/sourcewatch/pkg/dns"
	"github.com/hmgle/sourcewatch/pkg/logger"
	"github.com/hmgle/sourcewatch/pkg/monitor"
)

const (
	version = "0.1.0"

	shutdownTimeout = 2 * time.Second
)

var (
	configFile string

	// Navigation and browser
	navigationTimeout time.Duration
	commandTimeout    time.Duration
	headless          bool
	chromePath        string
	userAgent         string

	// Traffic filtering
	domain       string
	allURLs      bool
	maxBodySize  int
	sourcesPath  string
	sourcesField string

	// Evaluation probe
	probeExpression string
	probeInterval   time.Duration

	// DNS preflight
	dnsServer   string
	noPreflight bool

	// Traffic logging and output
	outputFile   string
	outputFormat string
	logLevel     string
	logFile      string
	quiet        bool
	verbose      bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sourcewatch [flags] [url]",
		Short: "SourceWatch - browser traffic monitor for sources values",
		Long: `SourceWatch opens a page in Chrome, captures every "sources" value the
site hands out from its getSources endpoint and reports each place the
value shows up again: requests, WebSocket frames, scripts, console
output, service workers and the live document.

Examples:
  # Watch an embed page and log related traffic to traffic.log
  sourcewatch https://rapid-cloud.co/embed-6/abc

  # Log every URL, headless, as JSON lines
  sourcewatch --all --headless -o traffic.jsonl --format json https://example.com

  # Re-check the document every 10 seconds
  sourcewatch --probe-interval 10s https://rapid-cloud.co/embed-6/abc

  # Quiet mode with a rotating system log
  sourcewatch -q --log-file system.log https://rapid-cloud.co/embed-6/abc`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSourceWatch,
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file, JSON or YAML (default: "+config.GetDefaultConfigPath()+")")

	// Navigation and browser
	flags.DurationVar(&navigationTimeout, "navigation-timeout", config.DefaultNavigationTimeout, "Time to wait for the page to reach network idle")
	flags.DurationVar(&commandTimeout, "command-timeout", config.DefaultCommandTimeout, "Time allowed for a single DevTools command")
	flags.BoolVar(&headless, "headless", false, "Run Chrome without a window")
	flags.StringVar(&chromePath, "chrome-path", "", "Chrome executable (default: auto-detect)")
	flags.StringVar(&userAgent, "user-agent", "", "Override the browser user agent")

	// Traffic filtering
	flags.StringVar(&domain, "domain", config.DefaultDomain, "Target domain used for relevance filtering")
	flags.BoolVar(&allURLs, "all", false, "Log every URL instead of only target domain traffic")
	flags.IntVar(&maxBodySize, "max-body-size", config.DefaultMaxBodySize, "Maximum response body characters to log (0=unlimited)")
	flags.StringVar(&sourcesPath, "sources-path", config.DefaultSourcesPath, "URL marker of responses carrying sources values")
	flags.StringVar(&sourcesField, "sources-field", config.DefaultSourcesField, "JSON field holding the sources value")

	// Evaluation probe
	flags.StringVar(&probeExpression, "probe-expression", config.DefaultProbeExpression, "JavaScript evaluated in the page and matched against tracked values (empty disables)")
	flags.DurationVar(&probeInterval, "probe-interval", 0, "Repeat the evaluation probe at this interval (0=once after load)")

	// DNS preflight
	flags.StringVar(&dnsServer, "dns-server", "", "Nameserver for the preflight lookup, host:port (default: from /etc/resolv.conf)")
	flags.BoolVar(&noPreflight, "no-preflight", false, "Skip the DNS preflight lookup of the target host")

	// Traffic logging and output
	flags.StringVarP(&outputFile, "output", "o", config.DefaultOutputFile, "Traffic log file (appended)")
	flags.StringVar(&outputFormat, "format", string(config.FormatPretty), "Traffic log format: pretty, json, csv")
	flags.StringVar(&logLevel, "log-level", string(config.LogLevelInfo), "System log level: debug, info, warn, error")
	flags.StringVar(&logFile, "log-file", "", "Write system logs to a rotating file")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Suppress console output")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level debug")

	return rootCmd
}

// loadConfig resolves flags, environment and config file into one
// validated configuration. Explicit flags win over the environment, which
// wins over the file.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := &config.Config{
		TargetURL:         config.DefaultTargetURL,
		NavigationTimeout: navigationTimeout,
		CommandTimeout:    commandTimeout,
		Headless:          headless,
		ChromePath:        chromePath,
		UserAgent:         userAgent,
		Domain:            domain,
		DomainFilter:      !allURLs,
		MaxBodySize:       maxBodySize,
		SourcesPath:       sourcesPath,
		SourcesField:      sourcesField,
		ProbeExpression:   probeExpression,
		ProbeInterval:     probeInterval,
		Preflight:         !noPreflight,
		DNSServer:         dnsServer,
		OutputFile:        outputFile,
		OutputFormat:      config.OutputFormat(outputFormat),
		LogLevel:          config.LogLevel(logLevel),
		LogFile:           logFile,
		Quiet:             quiet,
	}
	if len(args) > 0 {
		cfg.TargetURL = args[0]
	}
	if verbose {
		cfg.LogLevel = config.LogLevelDebug
	}

	explicit := make(map[string]bool)
	cmd.Flags().Visit(func(f *pflag.Flag) { explicit[f.Name] = true })
	if len(args) > 0 {
		explicit["url"] = true
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	path := configFile
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	fc, err := config.LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	if err := fc.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.MergeWithFileConfig(fc, explicit); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSourceWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	sink, err := logger.NewEnhanced(cfg, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	sink.Info("Starting SourceWatch v%s (session %s)", version, sink.SessionID())

	if cfg.Preflight {
		preflight(cmd.Context(), cfg, sink)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := monitor.NewSession(ctx, cfg, sink)
	mon := monitor.New(cfg, session.Browser(), sink)

	// Setup signal handling before the browser starts
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := session.Start(mon); err != nil {
		sink.DiagnosticError("%v", err)
		session.Close()
		sink.Close()
		return err
	}

	go mon.Run(ctx)

	sink.Info("Navigating to %s", cfg.TargetURL)
	sig, interrupted := awaitNavigation(sink, cfg.TargetURL, session.Navigate, sigChan)
	if !interrupted {
		mon.RequestProbe()
		mon.StartProbes(ctx, cfg.ProbeInterval)

		if cfg.DomainFilter {
			sink.Diagnostic("Monitoring traffic... (%s and related traffic)", cfg.Domain)
		} else {
			sink.Diagnostic("Monitoring traffic... (all URLs)")
		}
		sink.Info("Press Ctrl+C to stop.")

		sig = <-sigChan
	}
	sink.Debug("Received signal %v", sig)

	shutdown(sink, mon, session, shutdownTimeout, cancel)
	return nil
}

// awaitNavigation loads target while watching for a termination signal.
// A signal that arrives first is returned with interrupted set; the
// navigation is left to fail once the browser closes.
func awaitNavigation(sink logger.EventSink, target string, navigate func(string) error, signals <-chan os.Signal) (sig os.Signal, interrupted bool) {
	result := make(chan error, 1)
	go func() { result <- navigate(target) }()

	select {
	case err := <-result:
		if err != nil {
			sink.DiagnosticError("Error loading page: %v", err)
		} else {
			sink.Diagnostic("Page loaded successfully: %s", target)
		}
		return nil, false
	case sig := <-signals:
		return sig, true
	}
}

// eventLoop is the part of the monitor shutdown drives.
type eventLoop interface {
	Stop()
	Done() <-chan struct{}
}

// shutdown stops the event loop, then closes the traffic log and finally
// the browser. cancel aborts the loop when it does not finish in time.
func shutdown(sink logger.EventSink, loop eventLoop, browser io.Closer, timeout time.Duration, cancel context.CancelFunc) {
	sink.Diagnostic("Stopping monitoring")

	loop.Stop()
	select {
	case <-loop.Done():
	case <-time.After(timeout):
		sink.Warn("Forced termination after timeout")
		cancel()
	}

	if err := sink.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close traffic log: %v\n", err)
	}
	if err := browser.Close(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Failed to close browser: %v\n", err)
	}
}

// preflight resolves the target host so name resolution problems are
// reported before the browser starts. Failures are diagnostics only.
func preflight(ctx context.Context, cfg *config.Config, sink logger.EventSink) {
	if ctx == nil {
		ctx = context.Background()
	}
	resolver, err := dns.NewResolver(cfg.DNSServer, sink)
	if err != nil {
		sink.Warn("DNS preflight skipped: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	host, ips, err := resolver.Preflight(ctx, cfg.TargetURL)
	if err != nil {
		sink.DiagnosticError("DNS preflight failed: %v", err)
		return
	}
	sink.Info("Resolved %s via %s: %v", host, resolver.Server(), ips)
}
