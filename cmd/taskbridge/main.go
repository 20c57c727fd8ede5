package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jarsater/taskbridge/internal/diag"
	"github.com/jarsater/taskbridge/internal/lines"
	"github.com/jarsater/taskbridge/internal/mcp"
	"github.com/jarsater/taskbridge/internal/metrics"
	"github.com/jarsater/taskbridge/internal/registry"
	"github.com/jarsater/taskbridge/pkg/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultCommand = "list"

type config struct {
	registryPath string
	logFile      string
	metricsAddr  string
	watch        bool
	showVersion  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], registry.Streams{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr})
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, streams registry.Streams) int {
	cfg, rest, err := parseFlags(args, streams.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintf(streams.Stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.showVersion {
		_, _ = fmt.Fprintf(streams.Stdout, "taskbridge %s\n", version)
		return 0
	}

	logger := logging.NewLogger("taskbridge")
	defer func() { _ = logger.Sync() }()

	set := registry.NewSet(logger)
	if err := set.Register(registry.Builtins(set)...); err != nil {
		logger.Errorf("Failed to register built-in commands: %v", err)
		return 1
	}
	if err := set.Register(serveCommand(cfg, set, logger)); err != nil {
		logger.Errorf("Failed to register %s: %v", mcp.DefaultSelfCommand, err)
		return 1
	}

	switch err := set.LoadFromFile(cfg.registryPath); {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warnf("No command manifest at %s, only built-in commands are available", cfg.registryPath)
	case err != nil:
		_, _ = fmt.Fprintf(streams.Stderr, "Error: loading %s: %v\n", cfg.registryPath, err)
		return 1
	default:
		logger.Infof("Loaded commands from %s", cfg.registryPath)
	}

	if cfg.metricsAddr != "" {
		shutdown := startMetricsServer(logger, cfg.metricsAddr)
		defer shutdown()
	}

	name := defaultCommand
	if len(rest) > 0 {
		name, rest = rest[0], rest[1:]
	}

	code, err := set.Run(ctx, name, rest, streams)
	if err != nil {
		_, _ = fmt.Fprintf(streams.Stderr, "Error: %v\n", err)
		if errors.Is(err, registry.ErrUnknownCommand) {
			_, _ = fmt.Fprintf(streams.Stderr, "Run %q to see the available commands.\n", "taskbridge list")
		}
		if code == 0 {
			code = 1
		}
	}
	return code
}

func parseFlags(args []string, output io.Writer) (*config, []string, error) {
	flags := pflag.NewFlagSet("taskbridge", pflag.ContinueOnError)
	flags.SetOutput(output)
	// Everything after the command name belongs to the command.
	flags.SetInterspersed(false)

	cfg := &config{}
	flags.StringVarP(&cfg.registryPath, "registry", "r",
		envOr("TASKBRIDGE_REGISTRY", "taskbridge.yaml"),
		"Path to the command manifest (YAML, or JSON with comments)")
	flags.StringVarP(&cfg.logFile, "log-file", "l",
		envOr("TASKBRIDGE_LOG_FILE", filepath.Join(os.TempDir(), "taskbridge-mcp.log")),
		"Diagnostics log of the MCP bridge")
	flags.StringVar(&cfg.metricsAddr, "metrics-addr",
		os.Getenv("TASKBRIDGE_METRICS_ADDR"),
		"Metrics listen address (empty = disabled)")
	flags.BoolVar(&cfg.watch, "watch", true, "Reload the manifest when it changes while serving")
	flags.BoolVar(&cfg.showVersion, "version", false, "Print the version and exit")

	if err := flags.Parse(args); err != nil {
		return nil, nil, err
	}
	return cfg, flags.Args(), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// serveCommand runs the MCP bridge on the command's standard streams.
func serveCommand(cfg *config, set *registry.Set, logger *zap.SugaredLogger) registry.Command {
	return registry.Command{
		Name:        mcp.DefaultSelfCommand,
		Description: "Serve the registered commands as MCP tools over stdio",
		Options: []registry.Option{
			{Name: "follow", Type: registry.TypeBoolean, Description: "Keep reading after end of input"},
		},
		Handler: func(ctx context.Context, in *registry.Input) (int, error) {
			follow, err := in.Flags.GetBool("follow")
			if err != nil {
				return 1, err
			}

			sink, err := diag.Open(cfg.logFile, diag.WithName("mcp"), diag.WithMirror(logger.Desugar()))
			if err != nil {
				return 1, err
			}
			defer func() { _ = sink.Close() }()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			if cfg.watch {
				go func() {
					if err := registry.Watch(ctx, logger, cfg.registryPath, set); err != nil {
						logger.Errorf("Manifest watcher stopped: %v", err)
					}
				}()
			}

			srv := mcp.NewServer(set,
				mcp.WithSink(sink),
				mcp.WithLogger(logger),
				mcp.WithVersion(version),
				mcp.WithReaderOptions(lines.WithFollow(follow)),
			)
			if err := srv.Run(ctx, in.Stdin, in.Stdout); err != nil {
				return 1, err
			}
			return 0, nil
		},
	}
}

func startMetricsServer(logger *zap.SugaredLogger, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server error: %v", err)
		}
	}()
	logger.Infof("Metrics listening on %s", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Errorf("Metrics server shutdown error: %v", err)
		}
	}
}
