package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pteich/configstruct"
	"go.uber.org/zap"

	"github.com/pteich/elastic-doc-client/client"
	"github.com/pteich/elastic-doc-client/export"
	"github.com/pteich/elastic-doc-client/flags"
	"github.com/pteich/elastic-doc-client/logger"
	"github.com/pteich/elastic-doc-client/seed"
)

var Version string

type app struct {
	conf flags.Flags
	log  *zap.Logger
}

// init loads the optional config file and builds the logger. Every
// subcommand calls it, so it must be safe to call more than once.
func (a *app) init() error {
	if a.log != nil {
		return nil
	}

	if a.conf.ConfigFile != "" {
		if err := flags.LoadFile(a.conf.ConfigFile, &a.conf, os.Args); err != nil {
			return err
		}
	}

	log, err := logger.New(a.conf.LogFormat, a.conf.LogLevel)
	if err != nil {
		return err
	}
	a.log = log.With(zap.String("version", Version))
	return nil
}

func (a *app) connect(ctx context.Context) (*client.Client, error) {
	if err := a.init(); err != nil {
		return nil, err
	}

	cfg, err := a.conf.ClientConfig()
	if err != nil {
		return nil, err
	}
	cfg.Logger = a.log

	c, err := client.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", a.conf.ElasticURL, err)
	}
	a.log.Info("connected",
		zap.String("cluster", c.Info().ClusterName),
		zap.String("elastic_version", c.Info().Version.Number),
		zap.Int("dialect", c.Dialect().Version()),
	)
	return c, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{conf: flags.Defaults()}

	crudConf := flags.CrudFlags{Index: "msg", Type: "tweet", ID: "1"}
	crudCmd := configstruct.NewCommand(
		"crud",
		"Index, read, update and delete a sample document with every authoring style",
		&crudConf,
		func(_ *configstruct.Command, _ interface{}) error {
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			return runCrud(logger.WithContext(ctx, a.log), c, crudConf, os.Stdout)
		},
	)

	searchConf := flags.SearchFlags{
		Index:     "megacorp",
		Field:     "about",
		OutFormat: flags.FormatCSV,
		Outfile:   "-",
	}
	searchCmd := configstruct.NewCommand(
		"search",
		"Run a match query and export the hits with highlights",
		&searchConf,
		func(_ *configstruct.Command, _ interface{}) error {
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			_, err = export.Run(logger.WithContext(ctx, a.log), c, searchConf)
			return err
		},
	)

	seedConf := flags.SeedFlags{Index: "megacorp", File: "-", Workers: 4}
	seedCmd := configstruct.NewCommand(
		"seed",
		"Index a JSON lines file, one document per line",
		&seedConf,
		func(_ *configstruct.Command, _ interface{}) error {
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			_, err = seed.Run(logger.WithContext(ctx, a.log), c, seedConf)
			return err
		},
	)

	cmd := configstruct.NewCommand(
		"",
		"Document and search client for Elasticsearch 7.x, 8.x and 9.x clusters.",
		&a.conf,
		func(_ *configstruct.Command, _ interface{}) error {
			return a.init()
		},
		crudCmd,
		searchCmd,
		seedCmd,
	)

	if err := cmd.ParseAndRun(os.Args); err != nil {
		if a.log != nil {
			a.log.Error("command failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
