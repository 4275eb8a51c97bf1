package chain

import (
	"bytes"
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Alloc is a serialisable snapshot of every account balance and nonce.
// Contract code is not part of it; contracts must be registered again after
// Load.
type Alloc struct {
	Accounts []GenesisAccount `yaml:"accounts"`
}

type GenesisAccount struct {
	Address common.Address `yaml:"address"`
	Balance *hexutil.Big   `yaml:"balance"`
	Nonce   uint64         `yaml:"nonce,omitempty"`
}

// Dump exports all known accounts sorted by address. Inside a transaction it
// sees the uncommitted balances.
func (c *Chain) Dump(ctx context.Context) Alloc {
	defer c.lock(ctx)()

	seen := make(map[common.Address]struct{}, len(c.balances)+len(c.nonces))
	for addr := range c.balances {
		seen[addr] = struct{}{}
	}
	for addr := range c.nonces {
		seen[addr] = struct{}{}
	}

	alloc := Alloc{Accounts: make([]GenesisAccount, 0, len(seen))}
	for addr := range seen {
		alloc.Accounts = append(alloc.Accounts, GenesisAccount{
			Address: addr,
			Balance: (*hexutil.Big)(c.balanceOf(addr)),
			Nonce:   c.nonces[addr],
		})
	}

	sort.Slice(alloc.Accounts, func(i, j int) bool {
		return bytes.Compare(alloc.Accounts[i].Address.Bytes(), alloc.Accounts[j].Address.Bytes()) < 0
	})

	return alloc
}

// Load replaces balances and nonces with the ones in alloc.
func (c *Chain) Load(ctx context.Context, alloc Alloc) error {
	if c.frame(ctx) != nil {
		return ErrNestedTx
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.balances = make(map[common.Address]*big.Int, len(alloc.Accounts))
	c.nonces = make(map[common.Address]uint64, len(alloc.Accounts))
	c.journal = nil

	for _, acc := range alloc.Accounts {
		if acc.Balance != nil && acc.Balance.ToInt().Sign() > 0 {
			c.balances[acc.Address] = new(big.Int).Set(acc.Balance.ToInt())
		}

		if acc.Nonce > 0 {
			c.nonces[acc.Address] = acc.Nonce
		}
	}

	return nil
}
