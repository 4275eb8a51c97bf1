package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/umee-network/fundme/metrics"
	"github.com/umee-network/fundme/units"
)

var minimumUSD = new(big.Int).Mul(big.NewInt(50), precision)

// MinimumUSD returns the USD-equivalent floor, with PriceDecimals digits of
// precision, that every single contribution must clear.
func MinimumUSD() *big.Int {
	return new(big.Int).Set(minimumUSD)
}

// Bank moves native value between accounts on behalf of the ledger.
type Bank interface {
	BalanceAt(ctx context.Context, addr common.Address) *big.Int
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// FundingLedger keeps track of who contributed how much and lets the owner
// withdraw everything. It holds no locks: callers must execute operations one
// at a time, as the dev chain does.
type FundingLedger struct {
	logger  zerolog.Logger
	metrics *metrics.Ledger

	address   common.Address
	owner     common.Address
	feed      PriceFeed
	converter PriceConverter
	bank      Bank

	store   *storage
	entered bool
}

type Option func(*FundingLedger)

func WithLogger(logger zerolog.Logger) Option {
	return func(l *FundingLedger) {
		l.logger = logger.With().Str("module", "funding_ledger").Logger()
	}
}

func WithMetrics(m *metrics.Ledger) Option {
	return func(l *FundingLedger) { l.metrics = m }
}

// New creates a ledger living at address and owned by deployer.
func New(deployer, address common.Address, feed PriceFeed, bank Bank, opts ...Option) (*FundingLedger, error) {
	switch {
	case feed == nil:
		return nil, errors.New("price feed is required")

	case bank == nil:
		return nil, errors.New("bank is required")
	}

	l := &FundingLedger{
		logger:    zerolog.Nop(),
		address:   address,
		owner:     deployer,
		feed:      feed,
		converter: NewPriceConverter(feed),
		bank:      bank,
		store:     newStorage(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Fund records a contribution of value made by caller. The value must already
// be credited to the ledger account; on error the caller is expected to revert
// that credit.
func (l *FundingLedger) Fund(ctx context.Context, caller common.Address, value *big.Int) (err error) {
	defer l.observe("fund", &err)
	return l.fund(ctx, caller, value)
}

// Receive handles plain value transfers to the ledger address exactly like Fund.
func (l *FundingLedger) Receive(ctx context.Context, from common.Address, value *big.Int) (err error) {
	defer l.observe("receive", &err)
	return l.fund(ctx, from, value)
}

func (l *FundingLedger) fund(ctx context.Context, caller common.Address, value *big.Int) error {
	release, err := l.enter()
	if err != nil {
		return err
	}
	defer release()

	if value == nil {
		value = new(big.Int)
	}

	usd, err := l.converter.ConversionRate(ctx, value)
	if err != nil {
		return err
	}

	if usd.Cmp(minimumUSD) < 0 {
		return errors.Wrapf(ErrInsufficientContribution, "%s wei is worth %s, need %s", value, usd, minimumUSD)
	}

	amount := l.store.amountOf(caller)
	l.store.setAmount(caller, amount.Add(amount, value))
	l.store.appendFunder(caller)

	l.metrics.AddFunded(units.ToFloat(value, 0))
	l.logger.Debug().
		Str("funder", caller.Hex()).
		Str("value", value.String()).
		Str("usd", usd.String()).
		Msg("contribution accepted")

	return nil
}

// PriceFeed returns the address of the oracle the ledger was built with.
func (l *FundingLedger) PriceFeed() common.Address {
	return l.feed.Address()
}

func (l *FundingLedger) Owner() common.Address {
	return l.owner
}

func (l *FundingLedger) Address() common.Address {
	return l.address
}

// AddressToAmountFunded returns the cumulative contribution of addr since the
// last withdrawal.
func (l *FundingLedger) AddressToAmountFunded(addr common.Address) *big.Int {
	return l.store.amountOf(addr)
}

// Funder returns the funder registry entry at index. Any index on an empty
// registry is out of range.
func (l *FundingLedger) Funder(index *big.Int) (common.Address, error) {
	count := l.store.funderCount()
	if index == nil || index.Sign() < 0 || !index.IsInt64() || index.Int64() >= int64(count) {
		return common.Address{}, errors.Wrapf(ErrIndexOutOfRange, "index %v, %d funders", index, count)
	}

	return l.store.funderAt(int(index.Int64())), nil
}

func (l *FundingLedger) FundersCount() int {
	return l.store.funderCount()
}

// ContractBalance returns the value currently held by the ledger account.
func (l *FundingLedger) ContractBalance(ctx context.Context) *big.Int {
	return l.bank.BalanceAt(ctx, l.address)
}

// StorageReads returns how many persisted slots were read so far.
func (l *FundingLedger) StorageReads() uint64 {
	return l.store.reads
}

func (l *FundingLedger) enter() (func(), error) {
	if l.entered {
		return nil, ErrReentrantCall
	}

	l.entered = true
	return func() { l.entered = false }, nil
}

func (l *FundingLedger) observe(op string, err *error) {
	if *err != nil {
		l.logger.Debug().Err(*err).Str("op", op).Msg("ledger call reverted")
	}

	l.metrics.ObserveCall(op, ErrorKind(*err))
}

// ErrorKind maps err to a short stable label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientContribution):
		return "insufficient_contribution"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrIndexOutOfRange):
		return "index_out_of_range"
	case errors.Is(err, ErrArithmeticOverflow):
		return "arithmetic_overflow"
	case errors.Is(err, ErrOracleUnavailable):
		return "oracle_unavailable"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant_call"
	default:
		return "error"
	}
}
