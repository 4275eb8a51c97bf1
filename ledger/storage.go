package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// storage holds the persisted ledger state. Every accessor that models a
// slot read bumps the read counter, so callers can compare how much state a
// code path touches.
type storage struct {
	amounts map[common.Address]*big.Int
	funders []common.Address

	reads  uint64
	writes uint64
}

func newStorage() *storage {
	return &storage{amounts: make(map[common.Address]*big.Int)}
}

func (s *storage) amountOf(addr common.Address) *big.Int {
	s.reads++

	if amount, ok := s.amounts[addr]; ok {
		return new(big.Int).Set(amount)
	}

	return new(big.Int)
}

func (s *storage) setAmount(addr common.Address, amount *big.Int) {
	s.writes++

	if amount.Sign() == 0 {
		delete(s.amounts, addr)
		return
	}

	s.amounts[addr] = new(big.Int).Set(amount)
}

func (s *storage) funderCount() int {
	s.reads++
	return len(s.funders)
}

func (s *storage) funderAt(i int) common.Address {
	s.reads++
	return s.funders[i]
}

// loadFunders copies the registry in a single pass: one read for the length
// and one per element.
func (s *storage) loadFunders() []common.Address {
	s.reads += uint64(len(s.funders)) + 1

	funders := make([]common.Address, len(s.funders))
	copy(funders, s.funders)

	return funders
}

func (s *storage) appendFunder(addr common.Address) {
	s.writes++
	s.funders = append(s.funders, addr)
}

func (s *storage) clearFunders() {
	s.writes++
	s.funders = nil
}

// snapshot returns a deep copy of the persisted state without metering it.
func (s *storage) snapshot() *storage {
	cp := &storage{
		amounts: make(map[common.Address]*big.Int, len(s.amounts)),
		funders: make([]common.Address, len(s.funders)),
	}

	for addr, amount := range s.amounts {
		cp.amounts[addr] = new(big.Int).Set(amount)
	}
	copy(cp.funders, s.funders)

	return cp
}

// restore puts the persisted state of cp back in place, keeping the counters.
func (s *storage) restore(cp *storage) {
	s.amounts = cp.amounts
	s.funders = cp.funders
}
