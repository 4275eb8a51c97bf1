package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// State is an exported copy of a ledger, enough to rebuild it later.
type State struct {
	Address   common.Address
	Owner     common.Address
	PriceFeed common.Address
	Funders   []common.Address
	Amounts   map[common.Address]*big.Int
}

// State exports the current ledger state. Reading it is not metered.
func (l *FundingLedger) State() State {
	cp := l.store.snapshot()

	return State{
		Address:   l.address,
		Owner:     l.owner,
		PriceFeed: l.feed.Address(),
		Funders:   cp.funders,
		Amounts:   cp.amounts,
	}
}

// Restore rebuilds a ledger from an exported state. feed must be the oracle
// the state was recorded with.
func Restore(state State, feed PriceFeed, bank Bank, opts ...Option) (*FundingLedger, error) {
	l, err := New(state.Owner, state.Address, feed, bank, opts...)
	if err != nil {
		return nil, err
	}

	if err := validateState(state, feed.Address()); err != nil {
		return nil, errors.Wrap(err, "invalid ledger state")
	}

	l.store.funders = append(l.store.funders, state.Funders...)

	for addr, amount := range state.Amounts {
		if amount.Sign() > 0 {
			l.store.amounts[addr] = new(big.Int).Set(amount)
		}
	}

	return l, nil
}

func validateState(state State, feedAddr common.Address) error {
	var result *multierror.Error

	if state.PriceFeed != feedAddr {
		result = multierror.Append(result, errors.Errorf(
			"price feed %s does not match recorded %s", feedAddr.Hex(), state.PriceFeed.Hex(),
		))
	}

	funders := make(map[common.Address]struct{}, len(state.Funders))
	for _, funder := range state.Funders {
		funders[funder] = struct{}{}
	}

	for addr, amount := range state.Amounts {
		if amount == nil || amount.Sign() < 0 {
			result = multierror.Append(result, errors.Errorf("negative amount for %s", addr.Hex()))
			continue
		}

		if _, ok := funders[addr]; !ok && amount.Sign() > 0 {
			result = multierror.Append(result, errors.Errorf("%s has an amount but is not a funder", addr.Hex()))
		}
	}

	return result.ErrorOrNil()
}
