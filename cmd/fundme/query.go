package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/umee-network/fundme/ledger"
	"github.com/umee-network/fundme/units"
)

func getBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address|index]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Print the balance of an account, or of the FundMe ledger when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			konfig, err := parseServerConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := getLogger(cmd)
			if err != nil {
				return err
			}

			d, err := openDevnet(cmd.Context(), logger, konfig.String(flagStateFile))
			if err != nil {
				return err
			}

			addr := d.ledger.Address()
			if len(args) == 1 {
				if addr, err = d.account(args[0]); err != nil {
					return err
				}
			}

			balance := d.chain.BalanceAt(cmd.Context(), addr)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s wei (%s ether)\n", addr.Hex(), balance, units.FormatEther(balance))

			if addr != d.ledger.Address() {
				funded := d.ledger.AddressToAmountFunded(addr)
				if funded.Sign() > 0 {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Funded: %s ether\n", units.FormatEther(funded))
				}
			}

			return nil
		},
	}
}

func getFundersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "funders",
		Args:  cobra.NoArgs,
		Short: "List the funder registry of the FundMe ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			konfig, err := parseServerConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := getLogger(cmd)
			if err != nil {
				return err
			}

			d, err := openDevnet(cmd.Context(), logger, konfig.String(flagStateFile))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			_, _ = fmt.Fprintf(out, "Owner: %s\nPrice Feed: %s\nBalance: %s ether\n",
				d.ledger.Owner().Hex(), d.ledger.PriceFeed().Hex(), units.FormatEther(d.ledger.ContractBalance(ctx)))

			for i := 0; ; i++ {
				funder, err := d.ledger.Funder(big.NewInt(int64(i)))
				if err != nil {
					if i == 0 {
						_, _ = fmt.Fprintln(out, "No funders")
					}
					break
				}

				_, _ = fmt.Fprintf(out, "%d\t%s\t%s ether\n",
					i, funder.Hex(), units.FormatEther(d.ledger.AddressToAmountFunded(funder)))
			}

			return nil
		},
	}
}

func getPriceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price",
		Args:  cobra.NoArgs,
		Short: "Print the latest price feed answer and the minimum contribution",
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

			d, err := openDevnet(cmd.Context(), logger, statePath)
			if err != nil {
				return err
			}

			if answer := konfig.String(flagSetAnswer); len(answer) > 0 {
				if d.aggregator == nil {
					return fmt.Errorf("--%s requires the mock price feed", flagSetAnswer)
				}

				v, ok := new(big.Int).SetString(answer, 10)
				if !ok || v.Sign() <= 0 {
					return fmt.Errorf("invalid %s %q; must be a positive integer", flagSetAnswer, answer)
				}

				d.aggregator.UpdateAnswer(v)
				if err := d.save(cmd.Context(), statePath); err != nil {
					return fmt.Errorf("failed to write state file: %w", err)
				}
			}

			q, err := queryPrice(cmd.Context(), d.feed)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), `Price Feed: %s
Round: %s
Answer: %s (%d decimals)
Price: %s USD
Minimum Contribution: %s ether
`,
				d.feed.Address().Hex(),
				q.round.RoundID,
				q.round.Answer, q.decimals,
				units.FormatUnits(q.price, ledger.PriceDecimals),
				units.FormatEther(q.minimum),
			)

			return nil
		},
	}

	cmd.Flags().String(flagSetAnswer, "", "Start a new round of the mock price feed with this answer")

	return cmd
}

type priceQuote struct {
	round    ledger.RoundData
	decimals uint8
	price    *big.Int
	minimum  *big.Int
}

// queryPrice reads the raw round and decimals concurrently, then derives the
// normalised price and the minimum contribution.
func queryPrice(ctx context.Context, feed ledger.PriceFeed) (priceQuote, error) {
	var q priceQuote

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		q.round, err = feed.LatestRoundData(gctx)
		return err
	})
	g.Go(func() (err error) {
		q.decimals, err = feed.Decimals(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return priceQuote{}, fmt.Errorf("failed to query price feed %s: %w", feed.Address().Hex(), err)
	}

	converter := ledger.NewPriceConverter(roundFeed{feed: feed, round: q.round, decimals: q.decimals})

	var err error
	if q.price, err = converter.Price(ctx); err != nil {
		return priceQuote{}, err
	}

	if q.minimum, err = converter.MinimumContribution(ctx); err != nil {
		return priceQuote{}, err
	}

	return q, nil
}

// roundFeed replays an already fetched round, so that one quote is derived
// from a single feed read.
type roundFeed struct {
	feed     ledger.PriceFeed
	round    ledger.RoundData
	decimals uint8
}

var _ ledger.PriceFeed = roundFeed{}

func (f roundFeed) Address() common.Address {
	return f.feed.Address()
}

func (f roundFeed) LatestRoundData(context.Context) (ledger.RoundData, error) {
	return f.round, nil
}

func (f roundFeed) Decimals(context.Context) (uint8, error) {
	return f.decimals, nil
}
