// Package cmd defines the grqaser-crawler command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/grqaser-crawler/internal/app"
	"github.com/JakeFAU/grqaser-crawler/internal/config"
	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
	"github.com/JakeFAU/grqaser-crawler/internal/logging"
	cfgsearch "github.com/JakeFAU/grqaser-crawler/pkg/config"
)

const shutdownTimeout = 10 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what subcommands need from the application container.
type App interface {
	Close(ctx context.Context) error
	GetLogger() *zap.Logger
	GetStore() crawler.Store
	Config() config.Config
	Run(ctx context.Context, mode config.Mode) (crawler.RunStats, error)
}

// newApp is the application factory; tests swap it for a fake.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	path, err := cfgsearch.FindConfigFile(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	if path == "" {
		logger.Warn("config file not found; using defaults and environment variables")
	} else {
		logger.Info("using config file", zap.String("path", path))
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// session owns the App built for one command invocation. Close runs even
// when the command fails, which cobra's post-run hooks do not guarantee.
type session struct {
	app App
}

func (s *session) close(ctx context.Context) error {
	if s.app == nil {
		return nil
	}
	// The run log still has to reach the store after an interrupt.
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := s.app.Close(closeCtx)
	s.app = nil
	return err
}

func newRootCmd(s *session) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "grqaser-crawler",
		Short: "Crawls grqaser.org and keeps a local audiobook catalog current.",
		Long: `grqaser-crawler discovers audiobooks on grqaser.org, normalizes their
metadata and stores them in SQLite or Postgres. A durable frontier lets an
interrupted crawl resume where it stopped.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			s.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	cmd.AddCommand(newCrawlCmd(), newQueueCmd())
	return cmd
}

// Execute runs the root command until ctx is cancelled or the command ends.
func Execute(ctx context.Context) error {
	return execute(ctx, nil)
}

// execute runs the command line with args, or os.Args when args is nil.
func execute(ctx context.Context, args []string, opts ...func(*cobra.Command)) error {
	s := &session{}
	root := newRootCmd(s)
	if args != nil {
		root.SetArgs(args)
	}
	for _, opt := range opts {
		opt(root)
	}
	err := root.ExecuteContext(ctx)
	return errors.Join(err, s.close(ctx))
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
