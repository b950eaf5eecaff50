package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dshills/repoqa/internal/config"
	"github.com/dshills/repoqa/internal/logging"
	"github.com/dshills/repoqa/internal/orchestrator"
	"github.com/dshills/repoqa/internal/repoio"
	"github.com/dshills/repoqa/internal/telemetry"
)

// app carries the global flags and the loaded configuration.
type app struct {
	configPath string
	envFile    string
	root       string
	session    string
	logLevel   string
	logFormat  string
	jsonOut    bool
	plain      bool

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "repoqa",
		Short:         "Code-aware question answering over a source repository",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "YAML config file")
	f.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	f.StringVar(&a.root, "root", "", "repository root path or git URL (default from config)")
	f.StringVar(&a.session, "session", "", "session id (default from config)")
	f.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	f.BoolVar(&a.jsonOut, "json", false, "print results as JSON")
	f.BoolVar(&a.plain, "plain", false, "print markdown without terminal styling")

	root.AddCommand(
		newServeCmd(a),
		newIngestCmd(a),
		newSizeCmd(a),
		newIndexCmd(a),
		newAskCmd(a),
		newEvidenceCmd(a),
		newAssembleCmd(a),
		newSynopsisCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads the dotenv file and configuration, applies flag overrides
// and builds the stderr logger.
func (a *app) load(cmd *cobra.Command) error {
	if err := godotenv.Load(a.envFile); err != nil {
		// A missing default .env is fine; an explicit one must exist.
		if cmd.Flags().Changed("env-file") || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.root != "" {
		cfg.Root = a.root
	}
	if a.session != "" {
		cfg.SessionID = a.session
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return err
	}
	for _, w := range warnings {
		logger.Warn("config", "warning", w)
	}

	a.cfg = *cfg
	a.logger = logger
	return nil
}

// open starts tracing and builds the orchestrator. A remote root is
// cloned through LoadRepo first. The returned func releases both.
func (a *app) open(ctx context.Context) (*orchestrator.Orchestrator, func(), error) {
	tp, err := telemetry.InitTracing(ctx, &telemetry.TracingConfig{
		ServiceName:    "repoqa",
		ServiceVersion: version,
		OTLPEndpoint:   a.cfg.Tracing.Endpoint,
		SampleRate:     a.cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, nil, err
	}

	o, err := orchestrator.New(ctx, a.cfg, orchestrator.Deps{Logger: a.logger})
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, nil, err
	}
	closeAll := func() {
		if err := o.Close(); err != nil {
			a.logger.Warn("closing orchestrator", "error", err)
		}
		if err := tp.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutting down tracing", "error", err)
		}
	}

	if repoio.IsRemote(a.cfg.Root) {
		res := o.LoadRepo(ctx, a.cfg.Root, "")
		a.printStatus(res.Status)
		if res.Failed() {
			closeAll()
			return nil, nil, errors.New(res.Error)
		}
	}
	return o, closeAll, nil
}
