// Command gantryd runs a Gantry worker against a configured store.
//
// The worker polls the store for ready jobs, executes them under the
// configured parallelism budget, and heartbeats its liveness. A sibling
// enqueue command writes jobs into the same store for testing.
//
//	gantryd run --config gantryd.yml
//	gantryd enqueue echo --input '{"message":"hello"}' --delay 5s
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xraph/gantry"
	"github.com/xraph/gantry/backoff"
	"github.com/xraph/gantry/engine"
	"github.com/xraph/gantry/graph"
	"github.com/xraph/gantry/job"
	"github.com/xraph/gantry/store/memory"
	"github.com/xraph/gantry/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gantryd: %v\n", err)
		os.Exit(1)
	}
}

// duration wraps time.Duration with YAML string parsing ("10s", "1m").
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

type storeConfig struct {
	// Driver selects the store backend: "sqlite" or "memory".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path"`
	// LeaseTimeout reclaims leases from workers that stopped
	// heartbeating. Zero disables expiry.
	LeaseTimeout duration `yaml:"lease_timeout"`
	// RetryMaxAttempts re-presents errored jobs up to this many total
	// attempts. Zero or one disables retries.
	RetryMaxAttempts int `yaml:"retry_max_attempts"`
}

type fileConfig struct {
	Parallelism       int         `yaml:"parallelism"`
	PollInterval      duration    `yaml:"poll_interval"`
	HeartbeatInterval duration    `yaml:"heartbeat_interval"`
	ShutdownTimeout   duration    `yaml:"shutdown_timeout"`
	LogLevel          string      `yaml:"log_level"`
	Store             storeConfig `yaml:"store"`
}

func defaultFileConfig() fileConfig {
	cfg := gantry.DefaultConfig()
	return fileConfig{
		Parallelism:       cfg.Parallelism,
		PollInterval:      duration(cfg.PollInterval),
		HeartbeatInterval: duration(cfg.HeartbeatInterval),
		ShutdownTimeout:   duration(cfg.ShutdownTimeout),
		LogLevel:          "info",
		Store: storeConfig{
			Driver:           "sqlite",
			Path:             "gantry.db",
			LeaseTimeout:     duration(time.Minute),
			RetryMaxAttempts: 3,
		},
	}
}

// loadConfig reads the YAML config file. A missing file yields defaults.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openStore(cfg fileConfig, logger *slog.Logger) (job.Store, func() error, error) {
	switch cfg.Store.Driver {
	case "memory":
		opts := []memory.Option{}
		if cfg.Store.LeaseTimeout > 0 {
			opts = append(opts, memory.WithLeaseTimeout(time.Duration(cfg.Store.LeaseTimeout)))
		}
		if cfg.Store.RetryMaxAttempts > 1 {
			opts = append(opts, memory.WithRetrySchedule(backoff.New(cfg.Store.RetryMaxAttempts, nil)))
		}
		return memory.New(opts...), func() error { return nil }, nil

	case "sqlite", "":
		opts := []sqlite.Option{sqlite.WithLogger(logger)}
		if cfg.Store.LeaseTimeout > 0 {
			opts = append(opts, sqlite.WithLeaseTimeout(time.Duration(cfg.Store.LeaseTimeout)))
		}
		if cfg.Store.RetryMaxAttempts > 1 {
			opts = append(opts, sqlite.WithRetrySchedule(backoff.New(cfg.Store.RetryMaxAttempts, nil)))
		}
		s, err := sqlite.New(cfg.Store.Path, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gantryd",
		Short:         "Durable background-job worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "gantryd.yml", "path to the YAML config file")
	root.AddCommand(newRunCmd(), newEnqueueCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the worker until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)

			store, closeStore, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore() //nolint:errcheck

			eng, err := engine.New(store,
				engine.WithConfig(gantry.Config{
					Parallelism:       cfg.Parallelism,
					PollInterval:      time.Duration(cfg.PollInterval),
					HeartbeatInterval: time.Duration(cfg.HeartbeatInterval),
					ShutdownTimeout:   time.Duration(cfg.ShutdownTimeout),
				}),
				engine.WithLogger(logger),
			)
			if err != nil {
				return err
			}

			registerBuiltinJobs(eng, logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := eng.Start(ctx); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				logger.Info("signal received, shutting down")
			case <-eng.Done():
				// Dispatch halted on its own: surface the store error.
				if err := eng.Err(); err != nil {
					stopErr := eng.Stop(context.Background())
					if stopErr != nil {
						logger.Error("stop failed", slog.String("error", stopErr.Error()))
					}
					return fmt.Errorf("dispatch halted: %w", err)
				}
			}

			return eng.Stop(context.Background())
		},
	}
}

func newEnqueueCmd() *cobra.Command {
	var (
		input string
		queue string
		delay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enqueue <job-type>",
		Short: "Enqueue a job into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Store.Driver == "memory" {
				return fmt.Errorf("enqueue requires a durable store, got %q", cfg.Store.Driver)
			}
			logger := newLogger(cfg.LogLevel)

			store, closeStore, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore() //nolint:errcheck

			opts := []graph.JobOption{graph.WithQueue(queue)}
			if delay > 0 {
				opts = append(opts, graph.WithDueAt(time.Now().Add(delay)))
			}
			j := graph.NewJob(args[0], []byte(input), opts...)
			if err := store.Enqueue(cmd.Context(), j); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), j.ID.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "JSON input passed to the job")
	cmd.Flags().StringVar(&queue, "queue", "default", "queue to enqueue into")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before the job becomes due")
	return cmd
}

// registerBuiltinJobs registers the demo job types the worker ships
// with. Applications embedding the engine register their own.
func registerBuiltinJobs(eng *engine.Engine, logger *slog.Logger) {
	type echoInput struct {
		Message string `json:"message"`
	}
	engine.Register(eng, job.NewDefinition("echo", func(_ context.Context, in echoInput) (job.Result, error) {
		logger.Info("echo", slog.String("message", in.Message))
		return job.Finished(), nil
	}))

	type sleepInput struct {
		Seconds int `json:"seconds"`
	}
	engine.Register(eng, job.NewDefinition("sleep", func(ctx context.Context, in sleepInput) (job.Result, error) {
		select {
		case <-time.After(time.Duration(in.Seconds) * time.Second):
			return job.Finished(), nil
		case <-ctx.Done():
			return job.Result{}, ctx.Err()
		}
	}))
}
