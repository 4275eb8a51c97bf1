package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type mockPriceFeed struct {
	address           common.Address
	latestRoundDataFn func(context.Context) (RoundData, error)
	decimalsFn        func(context.Context) (uint8, error)
}

func (f mockPriceFeed) Address() common.Address {
	return f.address
}

func (f mockPriceFeed) LatestRoundData(ctx context.Context) (RoundData, error) {
	return f.latestRoundDataFn(ctx)
}

func (f mockPriceFeed) Decimals(ctx context.Context) (uint8, error) {
	return f.decimalsFn(ctx)
}

// staticFeed reports answer with the given decimals on every call.
func staticFeed(answer *big.Int, decimals uint8) mockPriceFeed {
	return mockPriceFeed{
		address: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		latestRoundDataFn: func(context.Context) (RoundData, error) {
			return RoundData{
				RoundID:         big.NewInt(1),
				Answer:          new(big.Int).Set(answer),
				StartedAt:       big.NewInt(1660000000),
				UpdatedAt:       big.NewInt(1660000000),
				AnsweredInRound: big.NewInt(1),
			}, nil
		},
		decimalsFn: func(context.Context) (uint8, error) {
			return decimals, nil
		},
	}
}

// mockBank keeps balances in a map and lets tests hook into transfers.
type mockBank struct {
	balances   map[common.Address]*big.Int
	transferFn func(ctx context.Context, from, to common.Address, amount *big.Int) error

	transferCallCount int
}

func newMockBank() *mockBank {
	return &mockBank{balances: make(map[common.Address]*big.Int)}
}

func (b *mockBank) BalanceAt(_ context.Context, addr common.Address) *big.Int {
	if bal, ok := b.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}

	return new(big.Int)
}

func (b *mockBank) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	b.transferCallCount++

	if b.transferFn != nil {
		if err := b.transferFn(ctx, from, to, amount); err != nil {
			return err
		}
	}

	b.balances[from] = new(big.Int).Sub(b.BalanceAt(ctx, from), amount)
	b.balances[to] = new(big.Int).Add(b.BalanceAt(ctx, to), amount)

	return nil
}

func (b *mockBank) credit(addr common.Address, amount *big.Int) {
	b.balances[addr] = new(big.Int).Add(b.BalanceAt(context.Background(), addr), amount)
}
