package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sawpanic/predictrun/internal/config"
)

const appName = "PredictRun"

// set by -ldflags at release time
var version = "v0.1.0-dev"

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.configPath, "config", "c", os.Getenv("PREDICTRUN_CONFIG"), "Path to YAML config file")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level override (debug|info|warn|error)")
	fs.StringVar(&g.logFormat, "log-format", "", "Log format override (auto|json|console)")
}

// load reads the config and configures the global logger from it
func (g *globalFlags) load() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := cfg.Format == "console" ||
		(cfg.Format != "json" && term.IsTerminal(int(os.Stderr.Fd())))
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:     "predictrun",
		Short:   "Prediction-driven trading simulator",
		Version: version,
		Long: appName + ` ingests asset prices, trains a classifier on the outcomes of its own
simulated trades, ranks symbols into long and short signals and opens simulated trades
for them. Exits are evaluated every tick against take-profit, stop-loss and time limits.`,
		SilenceUsage: true,
	}
	flags.register(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newServeCmd(flags),
		newEvaluateCmd(flags),
		newPredictCmd(flags),
		newIngestCmd(flags),
		newMigrateCmd(flags),
		newSignalsCmd(flags),
		newVersionCmd(),
	)
	return rootCmd
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	setupLogging(config.LogConfig{Level: "info", Format: "auto"})

	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
