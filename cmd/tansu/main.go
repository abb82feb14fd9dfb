package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AbandonedCoast/tansu/internal/config"
	"github.com/AbandonedCoast/tansu/pkg/retention"
	"github.com/AbandonedCoast/tansu/pkg/storage"
)

const defaultMetricsAddr = ":9464"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cfg.LogLevel)
	return nil
}

func (a *app) openEngine(ctx context.Context) (*storage.PGEngine, error) {
	return storage.NewPGEngine(ctx, storage.PGConfig{
		DSN:             a.cfg.Storage.DSN,
		Cluster:         a.cfg.Cluster,
		MaxOpenConns:    a.cfg.Storage.MaxOpenConns,
		MaxIdleConns:    a.cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: a.cfg.Storage.ConnMaxLifetime.Std(),
		ProduceRetries:  a.cfg.Storage.ProduceRetries,
		Logger:          a.logger,
		Health:          storage.NewHealthMonitor(storage.HealthConfig{}),
	})
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "tansu",
		Short:             "Commit-log storage on Postgres",
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "path to configuration file")
	root.AddCommand(
		newMigrateCmd(a),
		newTopicCmd(a),
		newWatermarkCmd(a),
		newHeaderCmd(a),
		newRetentionCmd(a),
	)
	return root
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Ensure the storage schema exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()
			a.logger.Info("schema ready", "cluster", a.cfg.Cluster)
			return nil
		},
	}
}

func newTopicCmd(a *app) *cobra.Command {
	topic := &cobra.Command{Use: "topic", Short: "Topic storage primitives"}

	var partitions int32
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a topic with its topitions and watermark rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()
			id, err := engine.CreateTopic(cmd.Context(), args[0], partitions)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) with %d partitions\n", args[0], id, partitions)
			return nil
		},
	}
	create.Flags().Int32VarP(&partitions, "partitions", "p", 1, "number of partitions")

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a topic and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()
			return engine.DeleteTopic(cmd.Context(), args[0])
		},
	}

	topic.AddCommand(create, del)
	return topic
}

func newWatermarkCmd(a *app) *cobra.Command {
	wm := &cobra.Command{Use: "watermark", Short: "Inspect and advance watermarks"}

	get := &cobra.Command{
		Use:   "get TOPIC PARTITION",
		Short: "Show the (low, high) pair for a partition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tp, err := parseTopition(args[0], args[1])
			if err != nil {
				return err
			}
			engine, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()
			pair, err := engine.Watermarks(cmd.Context(), tp)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s low=%d high=%d\n", tp, pair.Low, pair.High)
			return nil
		},
	}

	advance := &cobra.Command{
		Use:   "advance TOPIC PARTITION LOW HIGH",
		Short: "Unconditionally set the watermark pair",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			tp, err := parseTopition(args[0], args[1])
			if err != nil {
				return err
			}
			low, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("parse low: %w", err)
			}
			high, err := strconv.ParseInt(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("parse high: %w", err)
			}
			engine, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()
			return engine.AdvanceWatermark(cmd.Context(), tp, low, high)
		},
	}

	wm.AddCommand(get, advance)
	return wm
}

func newHeaderCmd(a *app) *cobra.Command {
	header := &cobra.Command{Use: "header", Short: "Record header attachment"}

	attach := &cobra.Command{
		Use:   "attach TOPIC PARTITION OFFSET KEY VALUE",
		Short: "Attach a key/value header to an existing record",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			tp, err := parseTopition(args[0], args[1])
			if err != nil {
				return err
			}
			offset, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("parse offset: %w", err)
			}
			engine, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()
			return engine.AttachHeader(cmd.Context(), tp, offset, []byte(args[3]), []byte(args[4]))
		},
	}

	header.AddCommand(attach)
	return header
}

func newRetentionCmd(a *app) *cobra.Command {
	ret := &cobra.Command{Use: "retention", Short: "Retention sweeping"}

	var once bool
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Run the retention sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close()

			sweeper := retention.NewSweeper(engine, retention.Config{
				Interval:    a.cfg.Retention.Interval.Std(),
				KeepOffsets: a.cfg.Retention.KeepOffsets,
				Concurrency: a.cfg.Retention.Concurrency,
				Logger:      a.logger,
			})
			if once {
				return sweeper.Sweep(cmd.Context())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metricsAddr := a.cfg.Metrics.Addr
			if metricsAddr == "" {
				metricsAddr = defaultMetricsAddr
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("metrics listener", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			a.logger.Info("retention sweeper running",
				"interval", a.cfg.Retention.Interval.Std(), "metrics", metricsAddr)
			if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	sweep.Flags().BoolVar(&once, "once", false, "sweep once and exit")

	ret.AddCommand(sweep)
	return ret
}

func parseTopition(topic, partition string) (storage.Topition, error) {
	p, err := strconv.ParseInt(partition, 10, 32)
	if err != nil {
		return storage.Topition{}, fmt.Errorf("parse partition: %w", err)
	}
	return storage.Topition{Topic: topic, Partition: int32(p)}, nil
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	if level == "" {
		level = os.Getenv("TANSU_LOG_LEVEL")
	}
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With("component", "tansu")
}
