/*
	Copyright 2023 Markus Papenbrock
*/

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	analyzeCmd "github.com/mpapenbr/iracelog-racemodel/pkg/cmd/analyze"
	calibrateCmd "github.com/mpapenbr/iracelog-racemodel/pkg/cmd/calibrate"
	migrateCmd "github.com/mpapenbr/iracelog-racemodel/pkg/cmd/migrate"
	plotCmd "github.com/mpapenbr/iracelog-racemodel/pkg/cmd/plot"
	trainCmd "github.com/mpapenbr/iracelog-racemodel/pkg/cmd/train"
	"github.com/mpapenbr/iracelog-racemodel/pkg/config"
	"github.com/mpapenbr/iracelog-racemodel/version"
)

const envPrefix = "IRM"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "irm",
	Short: "Race performance modeling for iRacelog sessions",
	Long: `Separates driver profile from driver state, predicts lap times and finishing
positions and ranks counterfactual scenarios for recorded race sessions.`,
	Version:      version.FullVersion,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:funlen // flags
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.irm.yml)")

	rootCmd.PersistentFlags().StringVar(&config.DB, "db",
		"",
		"Connection string for the postgres artifact store")
	rootCmd.PersistentFlags().StringVar(&config.SQLiteFile, "sqlite-file",
		"irm.db",
		"sqlite artifact store (used if --db is not set)")
	rootCmd.PersistentFlags().StringVar(&config.NatsURL, "nats-url",
		"",
		"publish baselines, deviations and predictions to this nats server")
	rootCmd.PersistentFlags().StringVar(&config.WaitForServices,
		"wait-for-services",
		"15s",
		"Duration to wait for other services to be ready")
	rootCmd.PersistentFlags().StringVar(&config.Corpus, "corpus",
		"default",
		"name of the calibration corpus the artifacts belong to")
	rootCmd.PersistentFlags().IntVar(&config.Parallel, "parallel",
		4,
		"number of sessions processed concurrently")

	rootCmd.PersistentFlags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().StringVar(&config.SQLLogLevel,
		"sql-log-level",
		"info",
		"controls the log level for sql methods")
	rootCmd.PersistentFlags().StringVar(&config.LogFormat,
		"log-format",
		"text",
		"controls the log output format (text, json)")
	rootCmd.PersistentFlags().StringVar(&config.LogFilter,
		"log-filter",
		"",
		"zapfilter rules, for example 'info+:* debug:*,-features'")
	rootCmd.PersistentFlags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	rootCmd.PersistentFlags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"localhost:4317",
		"Endpoint that receives open telemetry data (stdout for console output)")

	// add commands here
	rootCmd.AddCommand(migrateCmd.NewMigrateCmd())
	rootCmd.AddCommand(calibrateCmd.NewCalibrateCmd())
	rootCmd.AddCommand(trainCmd.NewTrainCmd())
	rootCmd.AddCommand(analyzeCmd.NewAnalyzeCmd())
	rootCmd.AddCommand(plotCmd.NewPlotCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".irm" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".irm")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	bindFlags(rootCmd, viper.GetViper())
	for _, cmd := range rootCmd.Commands() {
		bindFlags(cmd, viper.GetViper())
	}
}

// Bind each cobra flag to its associated viper configuration
// (config file and environment variable)
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	bind := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			// Environment variables can't have dashes in them, so bind them to their
			// equivalent keys with underscores, e.g. --log-level to IRM_LOG_LEVEL
			if strings.Contains(f.Name, "-") {
				envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
				if err := v.BindEnv(f.Name,
					fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
					fmt.Fprintf(os.Stderr, "Could not bind env var %s: %v", f.Name, err)
				}
			}
			// Apply the viper config value to the flag when the flag is not set and viper
			// has a value
			if !f.Changed && v.IsSet(f.Name) {
				val := v.Get(f.Name)
				if err := fs.Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
					fmt.Fprintf(os.Stderr, "Could set flag value for %s: %v", f.Name, err)
				}
			}
		})
	}
	bind(cmd.PersistentFlags())
	bind(cmd.Flags())
}
