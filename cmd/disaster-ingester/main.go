package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/galois26/disaster-ingester/internal/config"
	"github.com/galois26/disaster-ingester/internal/loader"
	"github.com/galois26/disaster-ingester/internal/metrics"
	"github.com/galois26/disaster-ingester/internal/pipeline"
	"github.com/galois26/disaster-ingester/internal/source"
	"github.com/galois26/disaster-ingester/internal/store"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	var (
		cfgPath  = flag.String("config", "", "path to YAML config (optional; DISASTER_* env vars override it)")
		lookback = flag.Int("lookback-days", 0, "override source.lookback_days")
		pageSize = flag.Int("page-size", 0, "override source.page_size")
		verbose  = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	if *lookback > 0 {
		cfg.Source.LookbackDays = *lookback
	}
	if *pageSize > 0 {
		cfg.Source.PageSize = *pageSize
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("load config: %v", err)
	}

	log, err := newLogger(cfg.Log, *verbose)
	if err != nil {
		logrus.Fatalf("init logger: %v", err)
	}
	log.WithField("version", Version).Info("disaster-ingester starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		cancel()
		log.WithError(err).Fatal("refresh aborted")
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	st, err := store.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.WithError(err).Warn("close store")
		}
	}()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	m := metrics.New()
	if cfg.Metrics.PushgatewayURL != "" {
		defer func() {
			pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			host, _ := os.Hostname()
			if err := m.Push(pctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, host); err != nil {
				log.WithError(err).Warn("metrics push failed")
			}
		}()
	}

	src := source.New(cfg.Source, source.WithLogger(log))
	log.WithFields(logrus.Fields{
		"endpoint":      cfg.Source.Endpoint(),
		"lookback_days": cfg.Source.LookbackDays,
		"page_size":     cfg.Source.PageSize,
		"db_driver":     cfg.Database.Driver,
	}).Info("configured")

	p := pipeline.New(src, loader.New(st, log), st, m, log)
	sum, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("run %s after %d pages (%d records): %w", sum.RunID, sum.Pages, sum.Records, err)
	}

	stored, err := st.Count(ctx)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"run_id": sum.RunID,
		"pages":  sum.Pages,
		"stored": stored,
	}).Infof("got %d records, done after %d pages", sum.Records, sum.Pages)
	return nil
}

func newLogger(cfg config.LogConfig, verbose bool) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)
	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
