package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pevans/newsarchive/adapter"
	"github.com/pevans/newsarchive/config"
	"github.com/pevans/newsarchive/fetch"
	"github.com/pevans/newsarchive/logger"
	"github.com/pevans/newsarchive/manager"
	"github.com/pevans/newsarchive/sites"
)

// app holds what every subcommand needs once the config is loaded.
type app struct {
	cfgPath string
	dbPath  string
	debug   bool

	cfg *config.Config
	log logger.Logger
	reg *adapter.Registry
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "newsarchive",
		Short: "Incremental newspaper archive crawler",
		Long: `newsarchive indexes newspaper archives day by day or edition by edition,
scrapes the listed articles (public ones directly, premium ones through a
login) and runs text analysis over them. All state lives in one SQLite file
and every pass resumes where the last one stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default ~/.newsarchive/config.yaml)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database file, overrides the config and "+config.EnvDB)
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "log at debug level")

	root.AddCommand(
		newInitCmd(a),
		newSitesCmd(a),
		newIndexCmd(a),
		newIndexEditionsCmd(a),
		newScrapeCmd(a),
		newScrapePremiumCmd(a),
		newEnrichCmd(a),
		newStatusCmd(a),
	)
	return root
}

// setup loads .env, the config file, the logger and the site registry.
func (a *app) setup() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	if a.debug {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	a.log = log

	a.reg = adapter.NewRegistry()
	return sites.Register(a.reg, fetch.New(a.fetchOptions()), log, cfg.Sites...)
}

func (a *app) fetchOptions() fetch.Options {
	return fetch.Options{
		UserAgent:     a.cfg.Scrape.UserAgent,
		Timeout:       a.cfg.Scrape.Timeout,
		RateLimit:     a.cfg.Scrape.RateLimit,
		RespectRobots: a.cfg.Scrape.RespectRobots,
	}
}

// open resolves name and opens a manager for it. The caller closes it.
func (a *app) open(name string, opts manager.Options) (*manager.Manager, error) {
	if name == "" {
		return nil, fmt.Errorf("--site is required, one of %v", a.reg.Names())
	}
	site, err := a.reg.Resolve(name)
	if err != nil {
		return nil, err
	}
	opts.DBPath = a.cfg.Database.Path
	opts.RetryOnError = a.cfg.Scrape.RetryOnError
	opts.RetryDelay = a.cfg.Scrape.RetryDelay
	opts.SaveInterval = a.cfg.Scrape.SaveInterval
	if opts.SaveInterval == 0 {
		// An explicit zero in the config writes on every save.
		opts.SaveInterval = -1
	}
	opts.Logger = a.log
	opts.Fetch = a.fetchOptions()
	return manager.Open(site, opts)
}
