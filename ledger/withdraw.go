package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/umee-network/fundme/units"
)

// Withdraw zeroes every contribution, empties the funder registry and pays the
// whole ledger balance out to the owner. The registry is re-read from storage
// on every iteration.
func (l *FundingLedger) Withdraw(ctx context.Context, caller common.Address) (err error) {
	defer l.observe("withdraw", &err)

	return l.withdraw(ctx, "withdraw", caller, func() {
		for i := 0; i < l.store.funderCount(); i++ {
			l.store.setAmount(l.store.funderAt(i), new(big.Int))
		}
	})
}

// CheaperWithdraw behaves exactly like Withdraw but loads the funder registry
// once and iterates the local copy.
func (l *FundingLedger) CheaperWithdraw(ctx context.Context, caller common.Address) (err error) {
	defer l.observe("cheaper_withdraw", &err)

	return l.withdraw(ctx, "cheaper_withdraw", caller, func() {
		funders := l.store.loadFunders()
		for _, funder := range funders {
			l.store.setAmount(funder, new(big.Int))
		}
	})
}

// withdraw resets all contributor state before paying out, so anything the
// payout triggers already sees an empty ledger.
func (l *FundingLedger) withdraw(ctx context.Context, op string, caller common.Address, resetAmounts func()) error {
	if caller != l.owner {
		return errors.Wrapf(ErrNotOwner, "caller %s", caller.Hex())
	}

	release, err := l.enter()
	if err != nil {
		return err
	}
	defer release()

	prev := l.store.snapshot()
	readsBefore := l.store.reads

	resetAmounts()
	l.store.clearFunders()

	l.metrics.AddStorageReads(op, l.store.reads-readsBefore)

	amount := l.bank.BalanceAt(ctx, l.address)
	if err := l.bank.Transfer(ctx, l.address, l.owner, amount); err != nil {
		l.store.restore(prev)
		return errors.Wrapf(ErrTransferFailed, "paying %s wei to %s: %v", amount, l.owner.Hex(), err)
	}

	l.metrics.AddWithdrawn(units.ToFloat(amount, 0))
	l.logger.Info().
		Str("op", op).
		Str("owner", l.owner.Hex()).
		Str("amount", amount.String()).
		Int("funders", len(prev.funders)).
		Msg("balance withdrawn")

	return nil
}
