package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const envPrefix = "FUNDME_"

// NewRootCmd returns the fundme command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fundme",
		Short: "Deploy and operate a FundMe ledger on an in-memory development chain",
		Long: `fundme deploys a FundMe ledger together with its price feed on a local
development chain whose state is kept in a YAML file, and lets development
accounts fund it, withdraw from it and inspect it.

Every flag can also be set in the file given by --config or through a
FUNDME_<FLAG> environment variable, e.g. FUNDME_LOG_LEVEL=debug.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().AddFlagSet(globalFlagSet())

	cmd.AddCommand(
		getDeployCmd(),
		getFundCmd(),
		getSendCmd(),
		getWithdrawCmd(),
		getBalanceCmd(),
		getFundersCmd(),
		getPriceCmd(),
		getMonitorCmd(),
	)

	return cmd
}

// parseServerConfig merges, in increasing priority, the optional config file,
// FUNDME_* environment variables and the command line flags.
func parseServerConfig(cmd *cobra.Command) (*koanf.Koanf, error) {
	konfig := koanf.New(".")

	cfgPath, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return nil, err
	}

	if len(cfgPath) > 0 {
		if err := konfig.Load(file.Provider(cfgPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", cfgPath, err)
		}
	}

	if err := konfig.Load(env.Provider(envPrefix, ".", envToFlag), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := konfig.Load(posflag.Provider(cmd.Flags(), ".", konfig), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	return konfig, nil
}

// envToFlag maps FUNDME_LOG_LEVEL to log-level.
func envToFlag(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", "-")
}

func getLogger(cmd *cobra.Command) (zerolog.Logger, error) {
	konfig, err := parseServerConfig(cmd)
	if err != nil {
		return zerolog.Logger{}, err
	}

	logLvl, err := zerolog.ParseLevel(konfig.String(flagLogLevel))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level: %w", err)
	}

	logFormat := strings.ToLower(konfig.String(flagLogFormat))
	if len(logFormat) == 0 {
		logFormat = logLevelJSON
		if term.IsTerminal(int(os.Stderr.Fd())) {
			logFormat = logLevelText
		}
	}

	var logWriter io.Writer
	switch logFormat {
	case logLevelJSON:
		logWriter = cmd.ErrOrStderr()

	case logLevelText:
		logWriter = zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}

	default:
		return zerolog.Logger{}, fmt.Errorf("invalid logging format: %s", logFormat)
	}

	return zerolog.New(logWriter).Level(logLvl).With().Timestamp().Logger(), nil
}
