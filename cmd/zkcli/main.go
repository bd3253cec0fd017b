package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	zk "github.com/QuangTung97/zksession"
	"github.com/QuangTung97/zksession/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

type globalFlags struct {
	configPath  string
	server      string
	timeout     time.Duration
	metricsAddr string
	verbose     bool
}

func main() {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "zkcli",
		Short: "Command line client for ZooKeeper",
		Long: `zkcli runs single operations against a ZooKeeper ensemble.

The connection is configured by the YAML file given with --config or named
by the ZK_CONFIG environment variable, --server overrides its connect string.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path of the YAML configuration")
	pf.StringVarP(&flags.server, "server", "s", "", "connect string, host1:port1,host2:port2/chroot")
	pf.DurationVarP(&flags.timeout, "timeout", "t", 10*time.Second, "timeout of one operation")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log connection events")

	rootCmd.AddCommand(
		getCmd(flags),
		setCmd(flags),
		createCmd(flags),
		rmCmd(flags),
		lsCmd(flags),
		statCmd(flags),
		mkdirpCmd(flags),
		watchCmd(flags),
		lockCmd(flags),
		electCmd(flags),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("zkcli %s (%s)\n", version, commit)
		},
	}
}

func (f *globalFlags) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case f.configPath != "":
		cfg, err = config.LoadFile(f.configPath)
	case os.Getenv(config.EnvVar) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if f.server != "" {
		cfg.Connect = f.server
	}
	return cfg, cfg.Validate()
}

func (f *globalFlags) logger() zk.Logger {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return zk.NewSlogLogger(slog.New(handler))
}

// clientOptions returns the options shared by every command, and starts the
// metrics endpoint when asked.
func (f *globalFlags) clientOptions(cfg *config.Config) []zk.Option {
	opts := []zk.Option{zk.WithLogger(f.logger())}
	if f.metricsAddr == "" {
		return opts
	}

	registry := prometheus.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(f.metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %s\n", err)
		}
	}()

	return append(opts, zk.WithMetrics(registry, cfg.MetricsOptions()...))
}

func (f *globalFlags) newClient() (*zk.Client, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.NewClient(f.clientOptions(cfg)...)
}

// withClient runs fn with a new client and closes it afterward.
func (f *globalFlags) withClient(fn func(ctx context.Context, client *zk.Client) error) error {
	client, err := f.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	return fn(ctx, client)
}

type result[T any] struct {
	value T
	err   error
}

// await calls fn with a callback and waits for it or for ctx.
func await[T any](ctx context.Context, fn func(callback func(resp T, err error))) (T, error) {
	ch := make(chan result[T], 1)
	fn(func(resp T, err error) {
		ch <- result[T]{value: resp, err: err}
	})

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var empty T
		return empty, ctx.Err()
	}
}
