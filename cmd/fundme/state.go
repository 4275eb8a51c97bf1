package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"github.com/umee-network/fundme/chain"
	"github.com/umee-network/fundme/ledger"
	"github.com/umee-network/fundme/pricefeed"
)

// stateFile is the on-disk form of a development network: balances, the
// deployed price feed and the ledger contents.
type stateFile struct {
	Accounts []common.Address `yaml:"accounts"`
	Chain    chain.Alloc      `yaml:"chain"`
	Feed     feedState        `yaml:"price_feed"`
	Ledger   ledgerState      `yaml:"ledger"`
}

type feedState struct {
	Source    string         `yaml:"source"`
	Address   common.Address `yaml:"address"`
	Decimals  uint8          `yaml:"decimals,omitempty"`
	Answer    *hexutil.Big   `yaml:"answer,omitempty"`
	Round     uint64         `yaml:"round,omitempty"`
	StartedAt int64          `yaml:"started_at,omitempty"`
	UpdatedAt int64          `yaml:"updated_at,omitempty"`
	API       string         `yaml:"api,omitempty"`
	CoinID    string         `yaml:"coin_id,omitempty"`
}

type ledgerState struct {
	Address common.Address   `yaml:"address"`
	Owner   common.Address   `yaml:"owner"`
	Funders []common.Address `yaml:"funders"`
	Amounts []fundedAmount   `yaml:"amounts"`
}

type fundedAmount struct {
	Funder common.Address `yaml:"funder"`
	Amount *hexutil.Big   `yaml:"amount"`
}

func readStateFile(path string) (*stateFile, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("state file %s not found; run 'fundme deploy' first", path)
		}
		return nil, err
	}

	var s stateFile
	if err := yaml.Unmarshal(bz, &s); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}

	return &s, nil
}

func writeStateFile(path string, s *stateFile) error {
	bz, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	return os.WriteFile(path, bz, 0o600)
}

// devnet is a development network loaded in memory.
type devnet struct {
	chain      *chain.Chain
	feed       ledger.PriceFeed
	aggregator *pricefeed.MockV3Aggregator
	ledger     *ledger.FundingLedger
	accounts   []common.Address
	feedState  feedState
}

// openDevnet rebuilds the chain, the price feed and the ledger recorded in
// the state file at path. opts are applied to the ledger after the logger.
func openDevnet(ctx context.Context, logger zerolog.Logger, path string, opts ...ledger.Option) (*devnet, error) {
	s, err := readStateFile(path)
	if err != nil {
		return nil, err
	}

	c := chain.New(logger)
	if err := c.Load(ctx, s.Chain); err != nil {
		return nil, err
	}

	d := &devnet{
		chain:     c,
		accounts:  s.Accounts,
		feedState: s.Feed,
	}

	switch s.Feed.Source {
	case priceSourceMock:
		if s.Feed.Answer == nil {
			return nil, errors.New("mock price feed has no answer")
		}
		d.aggregator = pricefeed.NewMockV3Aggregator(s.Feed.Address, s.Feed.Decimals, s.Feed.Answer.ToInt())
		if s.Feed.Round > 0 {
			d.aggregator.UpdateRoundData(s.Feed.Round, s.Feed.Answer.ToInt(), s.Feed.UpdatedAt, s.Feed.StartedAt)
		}
		d.feed = d.aggregator

		if err := c.Register(ctx, s.Feed.Address, nil); err != nil {
			return nil, err
		}

	case priceSourceCoingecko:
		d.feed = pricefeed.NewCoingecko(logger, &pricefeed.CoingeckoConfig{
			BaseURL: s.Feed.API,
			CoinID:  s.Feed.CoinID,
			Address: s.Feed.Address,
		})

	default:
		return nil, fmt.Errorf("unknown price feed source %q", s.Feed.Source)
	}

	amounts := make(map[common.Address]*big.Int, len(s.Ledger.Amounts))
	for _, a := range s.Ledger.Amounts {
		if a.Amount == nil {
			return nil, fmt.Errorf("missing amount for %s", a.Funder.Hex())
		}
		amounts[a.Funder] = a.Amount.ToInt()
	}

	d.ledger, err = ledger.Restore(ledger.State{
		Address:   s.Ledger.Address,
		Owner:     s.Ledger.Owner,
		PriceFeed: s.Feed.Address,
		Funders:   s.Ledger.Funders,
		Amounts:   amounts,
	}, d.feed, c, append([]ledger.Option{ledger.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}

	if err := c.Register(ctx, d.ledger.Address(), d.ledger); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *devnet) save(ctx context.Context, path string) error {
	state := d.ledger.State()

	amounts := make([]fundedAmount, 0, len(state.Amounts))
	for funder, amount := range state.Amounts {
		amounts = append(amounts, fundedAmount{Funder: funder, Amount: (*hexutil.Big)(amount)})
	}
	sort.Slice(amounts, func(i, j int) bool {
		return amounts[i].Funder.Hex() < amounts[j].Funder.Hex()
	})

	feed := d.feedState
	if d.aggregator != nil {
		round, err := d.aggregator.LatestRoundData(ctx)
		if err != nil {
			return err
		}

		feed.Answer = (*hexutil.Big)(round.Answer)
		feed.Round = round.RoundID.Uint64()
		feed.StartedAt = round.StartedAt.Int64()
		feed.UpdatedAt = round.UpdatedAt.Int64()
	}

	return writeStateFile(path, &stateFile{
		Accounts: d.accounts,
		Chain:    d.chain.Dump(ctx),
		Feed:     feed,
		Ledger: ledgerState{
			Address: state.Address,
			Owner:   state.Owner,
			Funders: state.Funders,
			Amounts: amounts,
		},
	})
}

// account resolves a development account index or a hex address.
func (d *devnet) account(s string) (common.Address, error) {
	if common.IsHexAddress(s) {
		return common.HexToAddress(s), nil
	}

	i, err := strconv.Atoi(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid account %q: expected an index or a hex address", s)
	}

	if i < 0 || i >= len(d.accounts) {
		return common.Address{}, fmt.Errorf("account index %d out of range; %d accounts exist", i, len(d.accounts))
	}

	return d.accounts[i], nil
}
