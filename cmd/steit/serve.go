package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drpcorg/steit"
	"github.com/drpcorg/steit/examples"
	"github.com/drpcorg/steit/replay"
	"github.com/drpcorg/steit/state"
	"github.com/drpcorg/steit/store"
	"github.com/drpcorg/steit/transport"
	"github.com/drpcorg/steit/utils"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	configPath string
	flagConfig = DefaultConfig()
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a replica: listen, connect upstream, persist and relay entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		overrideFlags(cmd, cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		switch cfg.Type {
		case "hello":
			return serve(ctx, examples.HelloType, cfg)
		case "outer":
			return serve(ctx, examples.OuterType, cfg)
		case "multicase":
			return serve(ctx, examples.MulticaseType, cfg)
		default:
			return fmt.Errorf("unknown tree type %q", cfg.Type)
		}
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	f.StringVarP(&flagConfig.Dir, "dir", "d", "", "Store directory, in-memory when empty")
	f.StringVarP(&flagConfig.Type, "type", "t", flagConfig.Type, "Tree type: hello, outer or multicase")
	f.StringSliceVarP(&flagConfig.Listen, "listen", "l", nil, "Addresses to listen on, e.g. tcp://:7000")
	f.StringSliceVar(&flagConfig.Connect, "connect", nil, "Upstream addresses to connect to")
	f.StringVar(&flagConfig.Metrics, "metrics", "", "Address for the /metrics and /digest endpoints")
	f.IntVar(&flagConfig.SnapshotEvery, "snapshot-every", 0, "Entries between checkpoints")
	f.StringVar(&flagConfig.LogLevel, "log-level", flagConfig.LogLevel, "debug, info, warn or error")
}

func overrideFlags(cmd *cobra.Command, cfg *Config) {
	f := cmd.Flags()
	if f.Changed("dir") {
		cfg.Dir = flagConfig.Dir
	}
	if f.Changed("type") {
		cfg.Type = flagConfig.Type
	}
	if f.Changed("listen") {
		cfg.Listen = flagConfig.Listen
	}
	if f.Changed("connect") {
		cfg.Connect = flagConfig.Connect
	}
	if f.Changed("metrics") {
		cfg.Metrics = flagConfig.Metrics
	}
	if f.Changed("snapshot-every") {
		cfg.SnapshotEvery = flagConfig.SnapshotEvery
	}
	if f.Changed("log-level") {
		cfg.LogLevel = flagConfig.LogLevel
	}
}

func serve[T state.Node](ctx context.Context, typ state.Type[T], cfg *Config) error {
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	log := utils.NewDefaultLogger(level)

	opts := steit.Options{
		Dir:           cfg.Dir,
		SnapshotEvery: cfg.SnapshotEvery,
		Sync:          cfg.Sync,
		Log:           log,
	}
	tlsConfig, err := cfg.TLSConfig()
	if err != nil {
		return err
	}
	if tlsConfig != nil {
		opts.NetOpts = append(opts.NetOpts, &transport.NetTlsConfigOpt{Config: tlsConfig})
	}

	tree, err := steit.Open(typ, opts)
	if err != nil {
		return err
	}
	defer tree.Close()

	for _, addr := range cfg.Listen {
		if err := tree.Listen(addr); err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
	}
	for _, addr := range cfg.Connect {
		if err := tree.Connect(addr); err != nil {
			return fmt.Errorf("connect %s: %w", addr, err)
		}
	}

	if cfg.Metrics != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(replay.Collectors()...)
		reg.MustRegister(store.NewCollector(tree.Store().DB()))
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "steit",
			Subsystem: "net",
			Name:      "backlog_frames",
			Help:      "Frames read from peers and not yet applied",
		}, func() float64 { return float64(tree.Net().Backlog()) }))

		srv := &http.Server{
			Addr:              cfg.Metrics,
			Handler:           newRouter(reg, tree.Digest, tree.Last),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", "addr", cfg.Metrics, "err", err)
			}
		}()
		defer srv.Close()
	}

	log.Info("serving", "type", cfg.Type, "listen", cfg.Listen, "connect", cfg.Connect)
	<-ctx.Done()
	log.Info("shutting down")
	return tree.Checkpoint()
}

func newRouter(reg *prometheus.Registry, digest, last func() uint64) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/digest", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "%016x %d\n", digest(), last())
	}).Methods(http.MethodGet)
	return r
}
