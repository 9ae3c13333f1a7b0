package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"marketpulse/config"
	"marketpulse/internal/dashboard"
	"marketpulse/internal/metrics"
	"marketpulse/internal/pipeline"
	"marketpulse/logger"
	"marketpulse/models"
	"marketpulse/reader/cftc"
	"marketpulse/reader/fred"
	"marketpulse/reader/yahoo"
	"marketpulse/writer"
)

const (
	modeServe      = "serve"
	modeSnapshot   = "snapshot"
	modeBuildCache = "build-cache"
)

func main() {
	log := logger.GetLogger()

	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	mode := flag.String("mode", modeServe, "serve, snapshot or build-cache")
	assetList := flag.String("assets", "", "Comma separated asset codes for -mode snapshot")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service": cfg.MarketPulse.Name,
		"version": cfg.MarketPulse.Version,
		"env":     env,
		"mode":    *mode,
		"config":  path,
	}).Info("starting marketpulse")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	if cfg.Logging.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.Logging.CloudWatch.Region, cfg.Logging.CloudWatch.Namespace, cfg.Logging.CloudWatch.Dashboard)
	}
	if log.ReportMode() {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	cot, market, closeFn, err := wire(ctx, cfg, env)
	if err != nil {
		log.WithError(err).Error("failed to initialise pipelines")
		os.Exit(1)
	}
	defer closeFn()

	err = run(ctx, *mode, splitCodes(*assetList), cfg, log, cot, market, os.Stdout)
	if errors.Is(err, errUnknownMode) {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Error("marketpulse failed")
		os.Exit(1)
	}

	log.Info("marketpulse stopped")
}

var errUnknownMode = errors.New("unknown mode")

// cotRunner is the part of the COT pipeline the CLI modes drive.
type cotRunner interface {
	dashboard.COTService
	WeeklyHistory(ctx context.Context) ([]models.NormalizedRecord, error)
}

// run executes one CLI mode. Snapshot output is written to out as indented
// JSON.
func run(ctx context.Context, mode string, codes []string, cfg *config.Config, log *logger.Log, cot cotRunner, market dashboard.MarketService, out io.Writer) error {
	switch mode {
	case modeServe:
		srv, err := dashboard.NewServer(cfg, log, cot, market)
		if err != nil {
			return fmt.Errorf("create dashboard: %w", err)
		}
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("dashboard stopped: %w", err)
		}
	case modeSnapshot:
		res, err := cot.Snapshot(ctx, codes)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		if err := printJSON(out, res); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
	case modeBuildCache:
		records, err := cot.WeeklyHistory(ctx)
		if err != nil {
			return fmt.Errorf("history build: %w", err)
		}
		log.WithFields(logger.Fields{"records": len(records), "path": cfg.Cache.Path}).Info("weekly history ready")
	default:
		return fmt.Errorf("%w %q", errUnknownMode, mode)
	}
	return nil
}

// wire builds the providers, the cache and the optional publisher. Optional
// integrations that fail to start are fatal only in production-like
// environments.
func wire(ctx context.Context, cfg *config.Config, env string) (*pipeline.COT, *pipeline.Market, func(), error) {
	log := logger.GetLogger().WithComponent("main")

	dict, err := cfg.Dictionary()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("asset dictionary: %w", err)
	}
	for _, sh := range dict.Shadowed() {
		log.WithFields(logger.Fields{
			"code":       sh.Code,
			"pattern":    sh.Pattern,
			"by_code":    sh.ByCode,
			"by_pattern": sh.ByPattern,
		}).Warn("asset pattern can never match")
	}

	cache, err := writer.NewCacheFromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("history cache: %w", err)
	}

	var publisher writer.Publisher
	closeFn := func() {}
	if cfg.Storage.Kafka.Enabled {
		kw, err := writer.NewKafkaWriter(cfg)
		switch {
		case err == nil:
			publisher = kw
			closeFn = func() {
				if err := kw.Close(); err != nil {
					log.WithError(err).Warn("failed to close kafka writer")
				}
			}
		case config.IsProductionLike(env):
			return nil, nil, nil, fmt.Errorf("kafka writer: %w", err)
		default:
			log.WithError(err).Warn("kafka publishing disabled")
		}
	} else {
		log.Info("Kafka publishing disabled; skipping writer")
	}

	if cfg.Providers.FRED.APIKey == "" {
		log.Warn("FRED_API_KEY not set; US correlation runs without macro series")
	}

	cot := pipeline.NewCOT(cfg, dict, cftc.NewReader(cfg), cache, publisher)
	market := pipeline.NewMarket(cfg.Market, yahoo.NewReader(cfg), fred.NewReader(cfg))
	return cot, market, closeFn, nil
}

func splitCodes(v string) []string {
	var out []string
	for _, c := range strings.Split(v, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
