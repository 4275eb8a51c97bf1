// nolint: lll
package main

import (
	"net/url"
	"strings"

	"github.com/knadh/koanf"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/umee-network/fundme/chain"
	"github.com/umee-network/fundme/pricefeed"
)

const (
	logLevelJSON = "json"
	logLevelText = "text"

	priceSourceMock      = "mock"
	priceSourceCoingecko = "coingecko"

	flagConfig           = "config"
	flagLogLevel         = "log-level"
	flagLogFormat        = "log-format"
	flagStateFile        = "state"
	flagMnemonic         = "mnemonic"
	flagAccounts         = "accounts"
	flagAccountBalance   = "account-balance"
	flagPriceSource      = "price-source"
	flagDecimals         = "decimals"
	flagInitialAnswer    = "initial-answer"
	flagPriceFeedAddress = "price-feed-address"
	flagCoinGeckoAPI     = "coingecko-api"
	flagCoinGeckoCoin    = "coingecko-coin"
	flagForce            = "force"
	flagFrom             = "from"
	flagValue            = "value"
	flagCheaper          = "cheaper"
	flagYes              = "yes"
	flagSetAnswer        = "set-answer"
	flagInterval         = "interval"
	flagMetricsAddr      = "metrics-addr"

	// mainnet ETH/USD aggregator
	defaultPriceFeedAddress = "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
)

func globalFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("", pflag.ContinueOnError)

	fs.String(flagConfig, "", "Path to a YAML configuration file")
	fs.String(flagLogLevel, zerolog.InfoLevel.String(), "Logging level (trace|debug|info|warn|error)")
	fs.String(flagLogFormat, "", "Logging format (text|json); defaults to text on a terminal")
	fs.String(flagStateFile, "fundme-state.yaml", "Path of the development network state file")

	return fs
}

func deployFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("", pflag.ContinueOnError)

	fs.String(flagMnemonic, chain.DefaultMnemonic, "BIP-39 mnemonic the development accounts are derived from")
	fs.Int(flagAccounts, 10, "Number of development accounts to create")
	fs.String(flagAccountBalance, "10000ether", "Genesis balance of every development account")
	fs.String(flagPriceSource, priceSourceMock, "Price feed to deploy against (mock|coingecko)")
	fs.Uint8(flagDecimals, pricefeed.DefaultDecimals, "Decimals reported by the mock aggregator")
	fs.String(flagInitialAnswer, "200000000000", "Initial answer of the mock aggregator")
	fs.String(flagPriceFeedAddress, defaultPriceFeedAddress, "Address reported by the Coingecko price feed")
	fs.Bool(flagForce, false, "Overwrite an existing state file")

	return fs
}

func coingeckoFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("", pflag.ContinueOnError)

	fs.String(flagCoinGeckoAPI, "https://api.coingecko.com/api/v3", "Specify the coingecko API endpoint")
	fs.String(flagCoinGeckoCoin, "ethereum", "Coingecko id of the native asset")

	return fs
}

func txFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("", pflag.ContinueOnError)

	fs.String(flagFrom, "0", "Sender, as a development account index or a hex address")

	return fs
}

func monitorFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("", pflag.ContinueOnError)

	fs.Duration(flagInterval, defaultMonitorInterval, "Time between two price feed reads")
	fs.String(flagMetricsAddr, ":9102", "Address the Prometheus metrics endpoint listens on; empty disables it")

	return fs
}

// parseURL logs a warning if the flag provided is an
// unencrypted non-local string, and returns the value.
func parseURL(logger zerolog.Logger, konfig *koanf.Koanf, flag string) (string, error) {
	endpoint := konfig.String(flag)
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(u.Scheme, "http") && !isLocalHost(u.Hostname()) {
		logger.Warn().Str(flag, endpoint).Msg("flag is unsafe; unencrypted non-local url used")
	}
	return endpoint, nil
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
