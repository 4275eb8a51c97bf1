package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/pkg/errors"
)

// PriceDecimals is the fixed point precision of every normalised price and
// every USD-equivalent value produced by the converter.
const PriceDecimals = 18

var precision = math.BigPow(10, PriceDecimals)

// RoundData is a single answer reported by a price feed.
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

// PriceFeed is the oracle the ledger validates contributions against. The
// answer is reported with Decimals() digits of precision.
type PriceFeed interface {
	Address() common.Address
	LatestRoundData(ctx context.Context) (RoundData, error)
	Decimals(ctx context.Context) (uint8, error)
}

// PriceConverter turns native value amounts into USD-equivalent values.
type PriceConverter struct {
	feed PriceFeed
}

func NewPriceConverter(feed PriceFeed) PriceConverter {
	return PriceConverter{feed: feed}
}

// Price returns the latest feed answer scaled to PriceDecimals.
func (c PriceConverter) Price(ctx context.Context) (*big.Int, error) {
	round, err := c.feed.LatestRoundData(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrOracleUnavailable, "latest round data: %v", err)
	}

	switch {
	case round.Answer == nil || round.Answer.Sign() <= 0:
		return nil, errors.Wrapf(ErrOracleUnavailable, "invalid answer %v", round.Answer)

	case round.UpdatedAt == nil || round.UpdatedAt.Sign() == 0:
		return nil, errors.Wrap(ErrOracleUnavailable, "incomplete round")
	}

	decimals, err := c.feed.Decimals(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrOracleUnavailable, "decimals: %v", err)
	}

	price := new(big.Int).Set(round.Answer)
	if decimals <= PriceDecimals {
		price.Mul(price, math.BigPow(10, int64(PriceDecimals-decimals)))
	} else {
		price.Quo(price, math.BigPow(10, int64(decimals-PriceDecimals)))
	}

	if price.Cmp(math.MaxBig256) > 0 {
		return nil, errors.Wrapf(ErrArithmeticOverflow, "price %s", price)
	}

	return price, nil
}

// ConversionRate returns the USD-equivalent of amount, with PriceDecimals
// digits of precision. The product is computed at full width before the
// division so no precision is lost.
func (c PriceConverter) ConversionRate(ctx context.Context, amount *big.Int) (*big.Int, error) {
	if amount == nil {
		amount = new(big.Int)
	}

	if amount.Sign() < 0 || amount.Cmp(math.MaxBig256) > 0 {
		return nil, errors.Wrapf(ErrArithmeticOverflow, "amount %s out of uint256 range", amount)
	}

	price, err := c.Price(ctx)
	if err != nil {
		return nil, err
	}

	usd := new(big.Int).Mul(amount, price)
	usd.Quo(usd, precision)

	if usd.Cmp(math.MaxBig256) > 0 {
		return nil, errors.Wrapf(ErrArithmeticOverflow, "%s * %s / 1e18", amount, price)
	}

	return usd, nil
}

// MinimumContribution returns the smallest amount whose conversion clears
// MinimumUSD at the current price.
func (c PriceConverter) MinimumContribution(ctx context.Context) (*big.Int, error) {
	price, err := c.Price(ctx)
	if err != nil {
		return nil, err
	}

	// ceil(minimumUSD * 1e18 / price)
	amount := new(big.Int).Mul(minimumUSD, precision)
	amount.Add(amount, new(big.Int).Sub(price, big.NewInt(1)))
	amount.Quo(amount, price)

	return amount, nil
}
