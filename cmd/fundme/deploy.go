package main

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf"
	"github.com/spf13/cobra"

	"github.com/umee-network/fundme/chain"
	"github.com/umee-network/fundme/ledger"
	"github.com/umee-network/fundme/pricefeed"
	"github.com/umee-network/fundme/units"
)

type deployConfig struct {
	mnemonic      string
	accounts      int
	balance       *big.Int
	priceSource   string
	decimals      uint8
	initialAnswer *big.Int
	feedAddress   common.Address
	coingeckoAPI  string
	coingeckoCoin string
}

func getDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Args:  cobra.NoArgs,
		Short: "Create a development chain and deploy the price feed and the FundMe ledger",
		Long: `Create a development chain with deterministic accounts, deploy a price feed
(a mock aggregator, or a Coingecko backed feed) and a FundMe ledger owned by
account 0, and store everything in the state file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			konfig, err := parseServerConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := getLogger(cmd)
			if err != nil {
				return err
			}

			statePath := konfig.String(flagStateFile)
			if !konfig.Bool(flagForce) {
				if _, err := os.Stat(statePath); err == nil {
					return fmt.Errorf("state file %s already exists; use --%s to overwrite it", statePath, flagForce)
				}
			}

			cfg, err := parseDeployConfig(konfig)
			if err != nil {
				return err
			}

			if cfg.priceSource == priceSourceCoingecko {
				if cfg.coingeckoAPI, err = parseURL(logger, konfig, flagCoinGeckoAPI); err != nil {
					return err
				}
			}

			devAccounts, err := chain.DevAccounts(cfg.mnemonic, cfg.accounts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			d := &devnet{
				chain:    chain.New(logger),
				accounts: make([]common.Address, 0, len(devAccounts)),
			}

			for _, acc := range devAccounts {
				d.accounts = append(d.accounts, acc.Address)
				if err := d.chain.Fund(ctx, acc.Address, cfg.balance); err != nil {
					return err
				}
			}

			deployer := d.accounts[0]

			switch cfg.priceSource {
			case priceSourceMock:
				feedAddr, err := d.chain.Deploy(ctx, deployer, func(addr common.Address) (chain.Receiver, error) {
					d.aggregator = pricefeed.NewMockV3Aggregator(addr, cfg.decimals, cfg.initialAnswer)
					return nil, nil
				})
				if err != nil {
					return fmt.Errorf("failed to deploy mock aggregator: %w", err)
				}

				d.feed = d.aggregator
				d.feedState = feedState{Source: priceSourceMock, Address: feedAddr, Decimals: cfg.decimals}

			case priceSourceCoingecko:
				d.feedState = feedState{
					Source:  priceSourceCoingecko,
					Address: cfg.feedAddress,
					API:     cfg.coingeckoAPI,
					CoinID:  cfg.coingeckoCoin,
				}
				d.feed = pricefeed.NewCoingecko(logger, &pricefeed.CoingeckoConfig{
					BaseURL: cfg.coingeckoAPI,
					CoinID:  cfg.coingeckoCoin,
					Address: cfg.feedAddress,
				})
			}

			_, err = d.chain.Deploy(ctx, deployer, func(addr common.Address) (chain.Receiver, error) {
				var err error
				d.ledger, err = ledger.New(deployer, addr, d.feed, d.chain, ledger.WithLogger(logger))
				return d.ledger, err
			})
			if err != nil {
				return fmt.Errorf("failed to deploy FundMe: %w", err)
			}

			if err := d.save(ctx, statePath); err != nil {
				return fmt.Errorf("failed to write state file: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), `FundMe successfully deployed!
Address: %s
Owner: %s
Price Feed: %s (%s)
Accounts: %d x %s ether
State File: %s
`,
				d.ledger.Address().Hex(),
				d.ledger.Owner().Hex(),
				d.ledger.PriceFeed().Hex(), cfg.priceSource,
				len(d.accounts), units.FormatEther(cfg.balance),
				statePath,
			)

			return nil
		},
	}

	cmd.Flags().AddFlagSet(deployFlagSet())
	cmd.Flags().AddFlagSet(coingeckoFlagSet())

	return cmd
}

func parseDeployConfig(konfig *koanf.Koanf) (deployConfig, error) {
	var (
		cfg = deployConfig{
			mnemonic:      konfig.String(flagMnemonic),
			accounts:      konfig.Int(flagAccounts),
			priceSource:   konfig.String(flagPriceSource),
			coingeckoAPI:  konfig.String(flagCoinGeckoAPI),
			coingeckoCoin: konfig.String(flagCoinGeckoCoin),
		}

		result *multierror.Error
		err    error
	)

	if cfg.accounts < 1 {
		result = multierror.Append(result, fmt.Errorf("at least one account is required, got %d", cfg.accounts))
	}

	if cfg.balance, err = units.ParseValue(konfig.String(flagAccountBalance)); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid %s: %w", flagAccountBalance, err))
	}

	switch cfg.priceSource {
	case priceSourceMock:
		decimals := konfig.Int(flagDecimals)
		if decimals < 0 || decimals > 36 {
			result = multierror.Append(result, fmt.Errorf("invalid %s %d; must be between 0 and 36", flagDecimals, decimals))
		}
		cfg.decimals = uint8(decimals)

		answer, ok := new(big.Int).SetString(konfig.String(flagInitialAnswer), 10)
		if !ok || answer.Sign() <= 0 {
			result = multierror.Append(result, fmt.Errorf("invalid %s %q; must be a positive integer", flagInitialAnswer, konfig.String(flagInitialAnswer)))
		}
		cfg.initialAnswer = answer

	case priceSourceCoingecko:
		addr := konfig.String(flagPriceFeedAddress)
		if !common.IsHexAddress(addr) {
			result = multierror.Append(result, fmt.Errorf("invalid %s: %s", flagPriceFeedAddress, addr))
		}
		cfg.feedAddress = common.HexToAddress(addr)

		if len(cfg.coingeckoCoin) == 0 {
			result = multierror.Append(result, fmt.Errorf("%s must not be empty", flagCoinGeckoCoin))
		}

	default:
		result = multierror.Append(result, fmt.Errorf(
			"invalid %s %q; expected %s or %s", flagPriceSource, cfg.priceSource, priceSourceMock, priceSourceCoingecko,
		))
	}

	return cfg, result.ErrorOrNil()
}
