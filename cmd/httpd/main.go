package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/kfcemployee/httpd/config"
	"github.com/kfcemployee/httpd/server"
)

type runFlags struct {
	address    string
	port       int64
	docRoot    string
	index      string
	workers    int64
	queueDepth int64
	maxConns   int64
	dbConns    int64
	logLevel   string
}

func registerFlags(set *pflag.FlagSet, f *runFlags) {
	set.SortFlags = false
	set.StringVarP(&f.address, "address", "a", "0.0.0.0", "listen address")
	set.Int64VarP(&f.port, "port", "p", 8080, "listen port")
	set.StringVarP(&f.docRoot, "root", "r", "./www", "document root")
	set.StringVar(&f.index, "index", "index.html", "default landing resource")
	set.Int64VarP(&f.workers, "workers", "w", 8, "worker threads")
	set.Int64Var(&f.queueDepth, "queue-depth", 10000, "pending task limit")
	set.Int64Var(&f.maxConns, "max-conns", 65536, "concurrent connection limit")
	set.Int64Var(&f.dbConns, "db-conns", 0, "database handles checked out per request (0 disables)")
	set.StringVar(&f.logLevel, "log-level", "info", "log level")
}

// overrides keeps only the flags the user actually set, so environment
// values survive for the rest.
func overrides(set *pflag.FlagSet, f *runFlags) config.Config {
	c := config.Config{}
	if set.Changed("address") {
		c.Address = null.StringFrom(f.address)
	}
	if set.Changed("port") {
		c.Port = null.IntFrom(f.port)
	}
	if set.Changed("root") {
		c.DocRoot = null.StringFrom(f.docRoot)
	}
	if set.Changed("index") {
		c.Index = null.StringFrom(f.index)
	}
	if set.Changed("workers") {
		c.Workers = null.IntFrom(f.workers)
	}
	if set.Changed("queue-depth") {
		c.QueueDepth = null.IntFrom(f.queueDepth)
	}
	if set.Changed("max-conns") {
		c.MaxConns = null.IntFrom(f.maxConns)
	}
	if set.Changed("db-conns") {
		c.DBConns = null.IntFrom(f.dbConns)
	}
	if set.Changed("log-level") {
		c.LogLevel = null.StringFrom(f.logLevel)
	}
	return c
}

func newRootCommand(logger *logrus.Logger) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:           "httpd",
		Short:         "lightweight epoll HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.GetConsolidatedConfig(overrides(cmd.Flags(), flags))
			if err != nil {
				return err
			}
			level, err := logrus.ParseLevel(cfg.LogLevel.String)
			if err != nil {
				return err
			}
			logger.SetLevel(level)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.New(cfg, logger).Run(ctx)
		},
	}
	registerFlags(cmd.Flags(), flags)

	return cmd
}

func main() {
	logger := &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}

	if err := newRootCommand(logger).Execute(); err != nil {
		logger.WithError(err).Fatal("exited")
	}
}
