package pricefeed

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/umee-network/fundme/ledger"
)

const (
	// DefaultDecimals and DefaultInitialAnswer describe an ETH/USD feed
	// reporting 2000 USD with 8 decimals.
	DefaultDecimals      = 8
	DefaultInitialAnswer = 200000000000
)

var ErrNoRound = errors.New("no data present")

// MockV3Aggregator is a price feed whose answer is set by hand. It mirrors the
// aggregator mock used on development networks.
type MockV3Aggregator struct {
	address  common.Address
	decimals uint8
	now      func() time.Time

	mu     sync.RWMutex
	latest *big.Int
	rounds map[uint64]ledger.RoundData
}

func NewMockV3Aggregator(address common.Address, decimals uint8, initialAnswer *big.Int) *MockV3Aggregator {
	a := &MockV3Aggregator{
		address:  address,
		decimals: decimals,
		now:      time.Now,
		latest:   new(big.Int),
		rounds:   make(map[uint64]ledger.RoundData),
	}

	a.UpdateAnswer(initialAnswer)

	return a
}

func (a *MockV3Aggregator) Address() common.Address {
	return a.address
}

func (a *MockV3Aggregator) Decimals(context.Context) (uint8, error) {
	return a.decimals, nil
}

// UpdateAnswer starts a new round reporting answer.
func (a *MockV3Aggregator) UpdateAnswer(answer *big.Int) {
	if answer == nil {
		answer = new(big.Int)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := big.NewInt(a.now().Unix())
	round := new(big.Int).Add(a.latest, big.NewInt(1))

	a.latest = round
	a.rounds[round.Uint64()] = ledger.RoundData{
		RoundID:         new(big.Int).Set(round),
		Answer:          new(big.Int).Set(answer),
		StartedAt:       now,
		UpdatedAt:       new(big.Int).Set(now),
		AnsweredInRound: new(big.Int).Set(round),
	}
}

// UpdateRoundData overwrites a round and makes it the latest one.
func (a *MockV3Aggregator) UpdateRoundData(roundID uint64, answer *big.Int, timestamp, startedAt int64) {
	if answer == nil {
		answer = new(big.Int)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	round := new(big.Int).SetUint64(roundID)

	a.latest = round
	a.rounds[roundID] = ledger.RoundData{
		RoundID:         new(big.Int).Set(round),
		Answer:          new(big.Int).Set(answer),
		StartedAt:       big.NewInt(startedAt),
		UpdatedAt:       big.NewInt(timestamp),
		AnsweredInRound: new(big.Int).Set(round),
	}
}

func (a *MockV3Aggregator) GetRoundData(_ context.Context, roundID uint64) (ledger.RoundData, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	round, ok := a.rounds[roundID]
	if !ok {
		return ledger.RoundData{}, errors.Wrapf(ErrNoRound, "round %d", roundID)
	}

	return copyRound(round), nil
}

func (a *MockV3Aggregator) LatestRoundData(ctx context.Context) (ledger.RoundData, error) {
	a.mu.RLock()
	latest := a.latest.Uint64()
	a.mu.RUnlock()

	return a.GetRoundData(ctx, latest)
}

// LatestAnswer returns the answer of the latest round.
func (a *MockV3Aggregator) LatestAnswer() *big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return new(big.Int).Set(a.rounds[a.latest.Uint64()].Answer)
}

func copyRound(r ledger.RoundData) ledger.RoundData {
	return ledger.RoundData{
		RoundID:         new(big.Int).Set(r.RoundID),
		Answer:          new(big.Int).Set(r.Answer),
		StartedAt:       new(big.Int).Set(r.StartedAt),
		UpdatedAt:       new(big.Int).Set(r.UpdatedAt),
		AnsweredInRound: new(big.Int).Set(r.AnsweredInRound),
	}
}
