// Package chain is an in-memory development chain. It keeps native balances,
// runs one transaction at a time and reverts every balance change of a
// transaction that fails.
package chain

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance for transfer")
	ErrNoActiveTx          = errors.New("no active transaction")
	ErrAddressInUse        = errors.New("address already in use")
	ErrNoReceive           = errors.New("account cannot receive plain transfers")
	ErrReadOnly            = errors.New("write in read-only call")
	ErrNestedTx            = errors.New("transaction already in progress")
)

// Receiver is implemented by contract accounts that run code when value is
// sent to them without a method call.
type Receiver interface {
	Receive(ctx context.Context, from common.Address, value *big.Int) error
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(ctx context.Context, from common.Address, value *big.Int) error

func (f ReceiverFunc) Receive(ctx context.Context, from common.Address, value *big.Int) error {
	return f(ctx, from, value)
}

// Msg is a top level transaction.
type Msg struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

type Receipt struct {
	TxHash common.Hash
	From   common.Address
	To     common.Address
	Value  *big.Int
	Nonce  uint64
	Status uint64
	Err    error
}

type journalEntry struct {
	addr common.Address
	prev *big.Int
}

type frameKey struct{}

type frame struct {
	chain    *Chain
	readOnly bool
}

type Chain struct {
	logger zerolog.Logger

	mu        sync.Mutex
	balances  map[common.Address]*big.Int
	nonces    map[common.Address]uint64
	code      map[common.Address]Receiver
	journal   []journalEntry
	txCounter uint64
}

func New(logger zerolog.Logger) *Chain {
	return &Chain{
		logger:   logger.With().Str("module", "dev_chain").Logger(),
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		code:     make(map[common.Address]Receiver),
	}
}

// Fund credits addr with amount outside of any transaction.
func (c *Chain) Fund(ctx context.Context, addr common.Address, amount *big.Int) error {
	if c.frame(ctx) != nil {
		return ErrNestedTx
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.credit(addr, amount)
	c.journal = nil

	return nil
}

// Deploy creates a contract account owned by deployer. The address follows the
// usual sender+nonce derivation. A nil Receiver makes an account that rejects
// plain transfers.
func (c *Chain) Deploy(
	ctx context.Context,
	deployer common.Address,
	create func(addr common.Address) (Receiver, error),
) (common.Address, error) {
	if c.frame(ctx) != nil {
		return common.Address{}, ErrNestedTx
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	addr := crypto.CreateAddress(deployer, c.nonces[deployer])
	if _, ok := c.code[addr]; ok {
		return common.Address{}, errors.Wrap(ErrAddressInUse, addr.Hex())
	}

	r, err := create(addr)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "contract creation failed")
	}

	c.nonces[deployer]++
	c.code[addr] = r

	c.logger.Debug().
		Str("deployer", deployer.Hex()).
		Str("address", addr.Hex()).
		Msg("contract deployed")

	return addr, nil
}

// Register attaches receive code to an existing address, e.g. a smart wallet
// that should react to incoming payments.
func (c *Chain) Register(ctx context.Context, addr common.Address, r Receiver) error {
	if c.frame(ctx) != nil {
		return ErrNestedTx
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.code[addr] = r

	return nil
}

// Transact runs fn as a transaction from msg.From. msg.Value is moved to
// msg.To before fn runs. If fn fails or panics, every balance change made by
// the transaction is reverted; the sender nonce is consumed either way.
func (c *Chain) Transact(ctx context.Context, msg Msg, fn func(ctx context.Context) error) (receipt *Receipt, err error) {
	if c.frame(ctx) != nil {
		return nil, ErrNestedTx
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce := c.nonces[msg.From]
	c.nonces[msg.From]++
	c.txCounter++

	receipt = &Receipt{
		TxHash: c.txHash(msg, nonce),
		From:   msg.From,
		To:     msg.To,
		Value:  new(big.Int).Set(value),
		Nonce:  nonce,
	}

	c.journal = c.journal[:0]
	ctx = context.WithValue(ctx, frameKey{}, &frame{chain: c})

	defer func() {
		if r := recover(); r != nil {
			c.revert(0)
			receipt.Status = ethtypes.ReceiptStatusFailed
			receipt.Err = errors.Errorf("transaction panicked: %v", r)
			err = receipt.Err

			c.logger.Error().
				Err(err).
				Str("tx", receipt.TxHash.Hex()).
				Str("from", msg.From.Hex()).
				Msg("transaction reverted")
		}
	}()

	err = c.move(msg.From, msg.To, value)
	if err == nil && fn != nil {
		err = fn(ctx)
	}

	if err != nil {
		c.revert(0)
		receipt.Status = ethtypes.ReceiptStatusFailed
		receipt.Err = err

		c.logger.Debug().
			Err(err).
			Str("tx", receipt.TxHash.Hex()).
			Str("from", msg.From.Hex()).
			Msg("transaction reverted")

		return receipt, err
	}

	c.journal = nil
	receipt.Status = ethtypes.ReceiptStatusSuccessful

	c.logger.Debug().
		Str("tx", receipt.TxHash.Hex()).
		Str("from", msg.From.Hex()).
		Str("to", msg.To.Hex()).
		Str("value", value.String()).
		Msg("transaction committed")

	return receipt, nil
}

// Send is a plain value transfer. When the recipient has receive code it runs
// inside the same transaction.
func (c *Chain) Send(ctx context.Context, from, to common.Address, value *big.Int) (*Receipt, error) {
	return c.Transact(ctx, Msg{From: from, To: to, Value: value}, func(ctx context.Context) error {
		return c.receive(ctx, from, to, value)
	})
}

// Transfer moves amount between accounts inside the transaction carried by
// ctx and runs the recipient's receive code. A failed transfer leaves no trace.
func (c *Chain) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	f := c.frame(ctx)
	switch {
	case f == nil:
		return ErrNoActiveTx

	case f.readOnly:
		return ErrReadOnly
	}

	if amount == nil {
		amount = new(big.Int)
	}

	snap := len(c.journal)

	if err := c.move(from, to, amount); err != nil {
		return err
	}

	if err := c.receive(ctx, from, to, amount); err != nil {
		c.revert(snap)
		return err
	}

	return nil
}

// BalanceAt returns the balance of addr. It can be called both from inside a
// transaction and from outside.
func (c *Chain) BalanceAt(ctx context.Context, addr common.Address) *big.Int {
	defer c.lock(ctx)()

	return c.balanceOf(addr)
}

// NonceAt returns the number of transactions sent by addr.
func (c *Chain) NonceAt(ctx context.Context, addr common.Address) uint64 {
	defer c.lock(ctx)()

	return c.nonces[addr]
}

// View runs fn with exclusive read access to the chain. Transfers inside fn
// fail with ErrReadOnly.
func (c *Chain) View(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.frame(ctx) != nil {
		return fn(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return fn(context.WithValue(ctx, frameKey{}, &frame{chain: c, readOnly: true}))
}

// lock takes the chain lock unless ctx already carries a frame of c, whose
// owner holds it.
func (c *Chain) lock(ctx context.Context) (unlock func()) {
	if c.frame(ctx) != nil {
		return func() {}
	}

	c.mu.Lock()
	return c.mu.Unlock
}

func (c *Chain) frame(ctx context.Context) *frame {
	f, ok := ctx.Value(frameKey{}).(*frame)
	if !ok || f.chain != c {
		return nil
	}

	return f
}

func (c *Chain) receive(ctx context.Context, from, to common.Address, value *big.Int) error {
	r, ok := c.code[to]
	if !ok {
		return nil
	}

	if r == nil {
		return errors.Wrap(ErrNoReceive, to.Hex())
	}

	return r.Receive(ctx, from, value)
}

func (c *Chain) move(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errors.Errorf("negative transfer amount %s", amount)
	}

	if amount.Sign() == 0 {
		return nil
	}

	if bal := c.balanceOf(from); bal.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "%s has %s, needs %s", from.Hex(), bal, amount)
	}

	c.debit(from, amount)
	c.credit(to, amount)

	return nil
}

func (c *Chain) balanceOf(addr common.Address) *big.Int {
	if bal, ok := c.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}

	return new(big.Int)
}

func (c *Chain) credit(addr common.Address, amount *big.Int) {
	c.record(addr)
	c.balances[addr] = new(big.Int).Add(c.balanceOf(addr), amount)
}

func (c *Chain) debit(addr common.Address, amount *big.Int) {
	c.record(addr)
	c.balances[addr] = new(big.Int).Sub(c.balanceOf(addr), amount)
}

func (c *Chain) record(addr common.Address) {
	var prev *big.Int
	if bal, ok := c.balances[addr]; ok {
		prev = new(big.Int).Set(bal)
	}

	c.journal = append(c.journal, journalEntry{addr: addr, prev: prev})
}

func (c *Chain) revert(snap int) {
	for i := len(c.journal) - 1; i >= snap; i-- {
		entry := c.journal[i]
		if entry.prev == nil {
			delete(c.balances, entry.addr)
		} else {
			c.balances[entry.addr] = entry.prev
		}
	}

	c.journal = c.journal[:snap]
}

func (c *Chain) txHash(msg Msg, nonce uint64) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], nonce)
	binary.BigEndian.PutUint64(buf[8:], c.txCounter)

	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}

	return crypto.Keccak256Hash(msg.From.Bytes(), msg.To.Bytes(), value.Bytes(), buf[:])
}
