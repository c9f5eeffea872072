package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LdDl/mot-counter/config"
	"github.com/LdDl/mot-counter/detections"
	"github.com/LdDl/mot-counter/pipeline"
	"github.com/LdDl/mot-counter/report"
	"github.com/LdDl/mot-counter/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	configPath     = flag.String("config", config.DefaultConfigPath, "Path to JSON configuration file")
	zonesPath      = flag.String("zones", "", "Path to zones file (overrides zones_path of configuration)")
	detectionsPath = flag.String("detections", "-", "Detections JSON Lines file, '-' for stdin")
	confidence     = flag.Float64("confidence", -1, "Override confidence threshold (negative keeps configured value)")
	dbPath         = flag.String("db", "", "SQLite database for sessions and counted events (disabled when empty)")
	resultsPath    = flag.String("results", "results.json", "Path to final results JSON (disabled when empty)")
	tracksPath     = flag.String("tracks", "", "Path to per-frame track log JSON Lines (disabled when empty)")
	chartPath      = flag.String("chart", "", "Path to HTML chart of running total (disabled when empty)")
	logFile        = flag.String("log-file", "", "Duplicate log output into file")
	logLevel       = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		logrus.WithError(err).Error("counter failed")
		os.Exit(1)
	}
}

func run() error {
	logger, closeLog, err := setupLogger(*logLevel, *logFile)
	if err != nil {
		return err
	}
	defer closeLog()
	log := logrus.NewEntry(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *zonesPath != "" {
		zone, err := config.LoadZones(*zonesPath)
		if err != nil {
			return err
		}
		if err := cfg.ApplyZone(zone); err != nil {
			return err
		}
	}
	if *confidence >= 0 {
		cfg.Model.ConfidenceThreshold = *confidence
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	input, source, err := openDetections(*detectionsPath)
	if err != nil {
		return err
	}
	defer input.Close()

	sessionID := uuid.New()
	counter, err := pipeline.New(cfg, pipeline.WithLogger(log), pipeline.WithSessionID(sessionID))
	if err != nil {
		return err
	}
	reader := detections.NewReader(input, detections.Filter{
		TargetClass:   cfg.Model.TargetClass,
		MinConfidence: cfg.Model.ConfidenceThreshold,
	}, detections.WithLogger(log))

	var store *storage.Store
	if *dbPath != "" {
		store, err = storage.Open(*dbPath, storage.WithLogger(log))
		if err != nil {
			return err
		}
		defer store.Close()
	}
	sinks, err := openSinks(store, sessionID, source, *tracksPath, *chartPath, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, runErr := counter.Run(ctx, reader, sinks...)
	if store != nil && summary.Interrupted {
		if err := store.MarkInterrupted(sessionID); err != nil {
			log.WithError(err).Warn("can't mark session as interrupted")
		}
	}
	if *resultsPath != "" {
		if err := report.WriteSummary(*resultsPath, report.NewSummary(summary, source, cfg.Model.ConfidenceThreshold)); err != nil {
			log.WithError(err).Error("can't write results")
		} else {
			log.WithField("path", *resultsPath).Info("results saved")
		}
	}

	fmt.Println("Final results:")
	fmt.Printf("  Total objects counted: %d\n", summary.Total)
	fmt.Printf("  Frames processed: %d\n", summary.Frames)
	fmt.Printf("  Rejected detections: %d\n", reader.Dropped())
	fmt.Printf("  Processing time: %.2f s (%.1f FPS)\n", summary.Duration.Seconds(), summary.FPS())
	return runErr
}

// loadConfig falls back to defaults when default configuration file is absent
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == config.DefaultConfigPath && errors.Is(err, os.ErrNotExist) {
		logrus.Warnf("config file %s not found, using defaults", path)
		return config.Default(), nil
	}
	return nil, err
}

// openSinks creates optional outputs. Outputs opened before a failure are closed again.
func openSinks(store *storage.Store, sessionID uuid.UUID, source, tracksPath, chartPath string, log *logrus.Entry) (sinks []pipeline.Sink, err error) {
	defer func() {
		if err == nil {
			return
		}
		for _, sink := range sinks {
			if closeErr := sink.Close(); closeErr != nil {
				log.WithError(closeErr).Warn("can't close sink")
			}
		}
		sinks = nil
	}()
	if store != nil {
		sink, err := store.NewSessionSink(sessionID, source, time.Now())
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, sink)
	}
	if tracksPath != "" {
		file, err := os.Create(tracksPath)
		if err != nil {
			return sinks, errors.Wrap(err, "Can't create track log")
		}
		sinks = append(sinks, report.NewTrackLog(file))
	}
	if chartPath != "" {
		file, err := os.Create(chartPath)
		if err != nil {
			return sinks, errors.Wrap(err, "Can't create chart file")
		}
		sinks = append(sinks, report.NewChart(file, fmt.Sprintf("Objects counted: %s", source)))
	}
	return sinks, nil
}

func openDetections(path string) (io.ReadCloser, string, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), "stdin", nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, "", errors.Wrapf(err, "Can't open detections %s", path)
	}
	return file, path, nil
}

func setupLogger(level, path string) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Bad log level")
	}
	logger.SetLevel(parsed)
	if path == "" {
		logger.SetOutput(os.Stdout)
		return logger, func() {}, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "Can't open log file %s", path)
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	return logger, func() { file.Close() }, nil
}
