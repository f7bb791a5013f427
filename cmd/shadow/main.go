// Command shadow runs a discrete-event network simulation described
// by one or more XML topology documents, adapted from the shape of
// coordinator/cmd/coordinator/main.go: cobra flags into a Cmd struct,
// zap development logging, and an errgroup racing the engine's Run
// against SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/shadow-sim/shadow/internal/config"
	"github.com/shadow-sim/shadow/internal/engine"
	"github.com/shadow-sim/shadow/internal/topology/xmlcfg"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	ConfigPath    string
	WorkerThreads int
	MinTimeJumpMS int64
	LogLevel      string
	Version       bool
}

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "shadow [topology.xml ...]",
	Short: "Shadow discrete-event network simulator",
	Args:  cobra.ArbitraryArgs,
	Run: func(rawCmd *cobra.Command, args []string) {
		if cmd.Version {
			fmt.Println("shadow", version)
			return
		}
		if err := run(cmd, args); err != nil {
			if errors.Is(err, Interrupted{}) {
				os.Exit(0)
			}

			var cfgErr configError
			if errors.As(err, &cfgErr) {
				fmt.Printf("ERROR: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(2)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "path to an engine run-configuration YAML file (optional)")
	rootCmd.Flags().IntVarP(&cmd.WorkerThreads, "workers", "w", 0, "worker pool size (0 keeps the config/default value)")
	rootCmd.Flags().Int64VarP(&cmd.MinTimeJumpMS, "min-time-jump", "t", 0, "conservative barrier's minimum cross-host time jump, in milliseconds (0 keeps the config/default value)")
	rootCmd.Flags().StringVarP(&cmd.LogLevel, "log-level", "l", "", "log level: debug, info, warn, error (empty keeps the config/default value)")
	rootCmd.Flags().BoolVarP(&cmd.Version, "version", "v", false, "print the version and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

// configError marks a failure in loading or validating configuration,
// as opposed to a failure during the run itself; cmd/shadow maps the
// two to distinct exit codes (spec.md §6).
type configError struct{ err error }

func (c configError) Error() string { return c.err.Error() }
func (c configError) Unwrap() error { return c.err }

func run(cmd Cmd, topologyFiles []string) error {
	cfg, err := config.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return configError{err}
	}
	cfg.TopologyFiles = topologyFiles
	if cmd.WorkerThreads > 0 {
		cfg.WorkerThreads = cmd.WorkerThreads
	}
	if cmd.MinTimeJumpMS > 0 {
		cfg.MinTimeJump = durationFromMS(cmd.MinTimeJumpMS)
	}
	if cmd.LogLevel != "" {
		cfg.LogLevel = cmd.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return configError{err}
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return configError{err}
	}
	defer log.Sync()
	sugar := log.Sugar()

	e, err := engine.NewEngine(cfg, engine.WithLog(sugar))
	if err != nil {
		return configError{err}
	}

	var actions []config.Action
	for _, path := range cfg.TopologyFiles {
		fileActions, err := xmlcfg.Load(path)
		if err != nil {
			return configError{fmt.Errorf("loading topology %q: %w", path, err)}
		}
		actions = append(actions, fileActions...)
	}

	if err := e.Bootstrap(actions); err != nil {
		return configError{err}
	}

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	// runDone is cancelled once Run returns, so the signal wait below
	// also ends when the simulation finishes on its own.
	runDone, markRunDone := context.WithCancel(ctx)
	defer markRunDone()
	wg.Go(func() error {
		defer markRunDone()
		return e.Run(ctx)
	})
	wg.Go(func() error {
		err := WaitInterrupted(runDone)
		if ctx.Err() == nil && runDone.Err() != nil {
			return nil
		}
		sugar.Infof("caught signal: %v", err)
		return err
	})

	return wg.Wait()
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Development = false

	zl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zcfg.Level.SetLevel(zl)

	return zcfg.Build()
}

func durationFromMS(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return m.String()
}

// WaitInterrupted blocks until either SIGINT or SIGTERM signal is
// received or the provided context is canceled.
func WaitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)

	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case v := <-ch:
		return Interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}
