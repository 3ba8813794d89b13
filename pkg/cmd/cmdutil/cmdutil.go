// Package cmdutil holds the setup shared by the irm commands.
package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/config"
	"github.com/mpapenbr/iracelog-racemodel/pkg/db/postgres"
	"github.com/mpapenbr/iracelog-racemodel/pkg/input"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
	"github.com/mpapenbr/iracelog-racemodel/pkg/repository/artifact"
	pgstore "github.com/mpapenbr/iracelog-racemodel/pkg/repository/artifact/postgres"
	sqlitestore "github.com/mpapenbr/iracelog-racemodel/pkg/repository/artifact/sqlite"
	"github.com/mpapenbr/iracelog-racemodel/pkg/utils"
)

func ParseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func newLogger(level string) (*log.Logger, error) {
	lvl := ParseLogLevel(level, log.InfoLevel)
	opts := []log.Option{log.WithCaller(true), log.AddCallerSkip(1)}
	if config.LogFilter != "" {
		return log.NewFiltered(os.Stderr, lvl, config.LogFormat, config.LogFilter, opts...)
	}
	if config.LogFormat == "json" {
		return log.New(os.Stderr, lvl, opts...), nil
	}
	return log.DevLogger(os.Stderr, lvl, opts...), nil
}

// SetupLogging replaces the default logger according to the log flags and
// returns the logger for the sql subsystem.
func SetupLogging() (sqlLogger *log.Logger, err error) {
	logger, err := newLogger(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log filter %q: %w", config.LogFilter, err)
	}
	log.ResetDefault(logger)
	if sqlLogger, err = newLogger(config.SQLLogLevel); err != nil {
		return nil, err
	}
	return sqlLogger.Named("sql"), nil
}

// WatchConfig applies log level changes of the config file while the
// process is running.
func WatchConfig() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&fsnotify.Write != fsnotify.Write {
			return
		}
		level := viper.GetString("log-level")
		if level == "" {
			return
		}
		lvl, err := log.ParseLevel(level)
		if err != nil {
			log.Warn("invalid log level in config", log.String("level", level))
			return
		}
		log.Default().SetLevel(lvl)
		log.Info("log level changed", log.String("file", e.Name), log.String("level", lvl.String()))
	})
	viper.WatchConfig()
}

// SetupTelemetry returns nil if telemetry is disabled or could not be set up.
func SetupTelemetry(ctx context.Context) *config.Telemetry {
	if !config.EnableTelemetry {
		return nil
	}
	log.Info("Enabling telemetry")
	telemetry, err := config.SetupTelemetry(ctx)
	if err != nil {
		log.Warn("Could not setup telemetry", log.ErrorField(err))
		return nil
	}
	err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
	if err != nil {
		log.Warn("Could not start runtime metrics", log.ErrorField(err))
	}
	return telemetry
}

// WaitForServices waits for the configured database and nats server.
func WaitForServices(ctx context.Context) error {
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}
	var addrs []string
	if config.DB != "" {
		addrs = append(addrs, utils.ExtractFromDBURL(config.DB))
	}
	if config.NatsURL != "" {
		addrs = append(addrs, utils.ExtractFromNatsURL(config.NatsURL))
	}
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		if err := utils.WaitForTCP(ctx, addr, timeout); err != nil {
			return err
		}
	}
	return nil
}

// OpenStore opens the postgres artifact store if a database is configured,
// the sqlite store otherwise.
func OpenStore(ctx context.Context, sqlLogger *log.Logger, telemetry bool) (artifact.Store, error) {
	if config.DB == "" {
		log.Debug("using sqlite artifact store", log.String("file", config.SQLiteFile))
		st, err := sqlitestore.Open(ctx, config.SQLiteFile)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	if err := WaitForServices(ctx); err != nil {
		return nil, err
	}
	pool, err := postgres.InitWithURL(ctx, config.DB,
		postgres.WithTracer(postgres.DefaultTracer(sqlLogger, telemetry)))
	if err != nil {
		return nil, err
	}
	return pgstore.NewStore(pool), nil
}

// LoadSessions loads and validates all session files. Results from a
// separate results file are attached to every session that has none.
func LoadSessions(loader *input.Loader, resultsFile string, paths ...string) (
	[]*model.Session, error,
) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no session files: %w", model.ErrInvalidInput)
	}
	var results []model.RaceResult
	if resultsFile != "" {
		var err error
		if results, err = loader.LoadResults(resultsFile); err != nil {
			return nil, err
		}
	}
	ret := make([]*model.Session, 0, len(paths))
	var errs []error
	for _, p := range paths {
		s, err := loader.LoadSession(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		if len(s.Results) == 0 && len(results) > 0 {
			s.Results = results
			if err := input.Validate(s); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p, err))
				continue
			}
		}
		ret = append(ret, s)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return ret, nil
}

// AddAnalysisFlags registers the analysis parameters.
func AddAnalysisFlags(fs *pflag.FlagSet, a *config.Analysis) {
	fs.IntVar(&a.BaselineLaps, "baseline-laps", a.BaselineLaps,
		"laps 1..N used for the driver baseline")
	fs.IntVar(&a.MinBaselineLaps, "min-baseline-laps", a.MinBaselineLaps,
		"minimum valid laps for a driver baseline")
	fs.IntVar(&a.RollingWindow, "rolling-window", a.RollingWindow,
		"prior laps used for the rolling relative performance")
	fs.IntVar(&a.WarmupLaps, "warmup-laps", a.WarmupLaps,
		"known laps needed before a prediction is issued")
	fs.IntVar(&a.MinSamples, "min-samples", a.MinSamples,
		"minimum valid samples per signal channel and lap")
	fs.Float64Var(&a.TrafficGap, "traffic-gap", a.TrafficGap,
		"gap to the car ahead (s) below which a lap is a traffic lap")
	fs.Float64Var(&a.MinFieldFraction, "min-field-fraction", a.MinFieldFraction,
		"share of the field needed for a confident field median")
	fs.IntVar(&a.EarlyEnd, "early-end", a.EarlyEnd, "last lap of the early stint segment")
	fs.IntVar(&a.MidEnd, "mid-end", a.MidEnd, "last lap of the mid stint segment")
	fs.Float64Var(&a.ProfileThreshold, "profile-threshold", a.ProfileThreshold,
		"variance ratio above which a metric is a profile metric")
	fs.Float64Var(&a.StateThreshold, "state-threshold", a.StateThreshold,
		"variance ratio below which a metric is a state metric")
}

// AddInputFlags registers the flags of the results loader.
func AddInputFlags(fs *pflag.FlagSet, resultsFile, resultsPath *string) {
	fs.StringVar(resultsFile, "results", "",
		"separate results file (used for sessions without results)")
	fs.StringVar(resultsPath, "results-path", input.DefaultResultsPath,
		"JSONPath selecting the result entries in the results file")
}
