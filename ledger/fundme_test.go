package ledger_test

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/umee-network/fundme/chain"
	"github.com/umee-network/fundme/ledger"
	"github.com/umee-network/fundme/mocks"
	"github.com/umee-network/fundme/pricefeed"
	"github.com/umee-network/fundme/units"
)

type FundMeTestSuite struct {
	suite.Suite

	ctx      context.Context
	logger   zerolog.Logger
	chain    *chain.Chain
	feed     *pricefeed.MockV3Aggregator
	ledger   *ledger.FundingLedger
	accounts []common.Address
	deployer common.Address
}

func TestFundMeTestSuite(t *testing.T) {
	suite.Run(t, new(FundMeTestSuite))
}

func (s *FundMeTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	s.chain = chain.New(s.logger)

	devAccounts, err := chain.DevAccounts(chain.DefaultMnemonic, 8)
	s.Require().NoError(err)

	s.accounts = make([]common.Address, 0, len(devAccounts))
	for _, acc := range devAccounts {
		s.accounts = append(s.accounts, acc.Address)
		s.Require().NoError(s.chain.Fund(s.ctx, acc.Address, units.MustParseEther("10000")))
	}
	s.deployer = s.accounts[0]

	s.feed = pricefeed.NewMockV3Aggregator(
		common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		pricefeed.DefaultDecimals,
		big.NewInt(pricefeed.DefaultInitialAnswer),
	)

	s.ledger = s.deploy(s.feed)
}

func (s *FundMeTestSuite) deploy(feed ledger.PriceFeed) *ledger.FundingLedger {
	var l *ledger.FundingLedger

	_, err := s.chain.Deploy(s.ctx, s.deployer, func(addr common.Address) (chain.Receiver, error) {
		var err error
		l, err = ledger.New(s.deployer, addr, feed, s.chain, ledger.WithLogger(s.logger))
		return l, err
	})
	s.Require().NoError(err)

	return l
}

func (s *FundMeTestSuite) fund(from common.Address, value *big.Int) (*chain.Receipt, error) {
	return s.chain.Transact(s.ctx, chain.Msg{From: from, To: s.ledger.Address(), Value: value},
		func(ctx context.Context) error {
			return s.ledger.Fund(ctx, from, value)
		},
	)
}

func (s *FundMeTestSuite) withdraw(from common.Address, cheaper bool) (*chain.Receipt, error) {
	return s.chain.Transact(s.ctx, chain.Msg{From: from, To: s.ledger.Address()},
		func(ctx context.Context) error {
			if cheaper {
				return s.ledger.CheaperWithdraw(ctx, from)
			}
			return s.ledger.Withdraw(ctx, from)
		},
	)
}

func (s *FundMeTestSuite) balance(addr common.Address) *big.Int {
	return s.chain.BalanceAt(s.ctx, addr)
}

func (s *FundMeTestSuite) sumOfContributions() *big.Int {
	sum := new(big.Int)
	for _, amount := range s.ledger.State().Amounts {
		sum.Add(sum, amount)
	}

	return sum
}

func (s *FundMeTestSuite) TestConstructor() {
	s.Require().Equal(s.feed.Address(), s.ledger.PriceFeed())
	s.Require().Equal(s.deployer, s.ledger.Owner())
	s.Require().Equal(uint64(1), s.chain.NonceAt(s.ctx, s.deployer))
}

func (s *FundMeTestSuite) TestFundRejectsSmallContributions() {
	before := s.balance(s.accounts[1])

	receipt, err := s.fund(s.accounts[1], units.MustParseEther("0.001"))
	s.Require().ErrorIs(err, ledger.ErrInsufficientContribution)
	s.Require().Equal(ethtypes.ReceiptStatusFailed, receipt.Status)

	s.Require().Equal(before, s.balance(s.accounts[1]))
	s.Require().Zero(s.ledger.ContractBalance(s.ctx).Sign())
	s.Require().Zero(s.ledger.FundersCount())
}

func (s *FundMeTestSuite) TestFundUpdatesState() {
	value := units.MustParseEther("0.03")

	receipt, err := s.fund(s.deployer, value)
	s.Require().NoError(err)
	s.Require().Equal(ethtypes.ReceiptStatusSuccessful, receipt.Status)

	s.Require().Equal(value, s.ledger.AddressToAmountFunded(s.deployer))
	s.Require().Equal(value, s.ledger.ContractBalance(s.ctx))

	funder, err := s.ledger.Funder(big.NewInt(0))
	s.Require().NoError(err)
	s.Require().Equal(s.deployer, funder)
}

func (s *FundMeTestSuite) TestConservation() {
	values := []string{"0.03", "1", "0.5", "2", "0.025", "0.001", "3"}

	for i, v := range values {
		_, _ = s.fund(s.accounts[i%len(s.accounts)], units.MustParseEther(v))
		s.Require().Equal(s.sumOfContributions(), s.ledger.ContractBalance(s.ctx), "after %s ether", v)
	}

	s.Require().Equal(6, s.ledger.FundersCount())
}

func (s *FundMeTestSuite) TestRawTransfer() {
	ledgerAddr := s.ledger.Address()

	_, err := s.chain.Send(s.ctx, s.accounts[1], ledgerAddr, units.MustParseEther("0.000000002"))
	s.Require().ErrorIs(err, ledger.ErrInsufficientContribution)
	s.Require().Zero(s.balance(ledgerAddr).Sign())

	value := units.MustParseEther("2")
	_, err = s.chain.Send(s.ctx, s.accounts[1], ledgerAddr, value)
	s.Require().NoError(err)
	s.Require().Equal(value, s.ledger.AddressToAmountFunded(s.accounts[1]))
	s.Require().Equal(value, s.balance(ledgerAddr))
}

func (s *FundMeTestSuite) TestWithdrawWithSingleFunder() {
	for _, cheaper := range []bool{false, true} {
		s.SetupTest()

		_, err := s.fund(s.deployer, units.MustParseEther("1"))
		s.Require().NoError(err)

		startingLedger := s.balance(s.ledger.Address())
		startingDeployer := s.balance(s.deployer)

		_, err = s.withdraw(s.deployer, cheaper)
		s.Require().NoError(err)

		s.Require().Zero(s.balance(s.ledger.Address()).Sign())
		s.Require().Equal(new(big.Int).Add(startingLedger, startingDeployer), s.balance(s.deployer))
	}
}

func (s *FundMeTestSuite) TestWithdrawWithMultipleFunders() {
	for _, cheaper := range []bool{false, true} {
		s.SetupTest()

		value := units.MustParseEther("1")
		for _, acc := range s.accounts[1:7] {
			_, err := s.fund(acc, value)
			s.Require().NoError(err)
		}

		startingLedger := s.balance(s.ledger.Address())
		startingDeployer := s.balance(s.deployer)
		s.Require().Equal(units.MustParseEther("6"), startingLedger)

		_, err := s.withdraw(s.deployer, cheaper)
		s.Require().NoError(err)

		s.Require().Zero(s.balance(s.ledger.Address()).Sign())
		s.Require().Equal(new(big.Int).Add(startingLedger, startingDeployer), s.balance(s.deployer))

		_, err = s.ledger.Funder(big.NewInt(0))
		s.Require().ErrorIs(err, ledger.ErrIndexOutOfRange)

		for _, acc := range s.accounts[1:7] {
			s.Require().Zero(s.ledger.AddressToAmountFunded(acc).Sign())
		}
	}
}

func (s *FundMeTestSuite) TestOnlyOwnerCanWithdraw() {
	for _, cheaper := range []bool{false, true} {
		s.SetupTest()

		_, err := s.fund(s.accounts[2], units.MustParseEther("1"))
		s.Require().NoError(err)

		receipt, err := s.withdraw(s.accounts[1], cheaper)
		s.Require().ErrorIs(err, ledger.ErrNotOwner)
		s.Require().Equal(ethtypes.ReceiptStatusFailed, receipt.Status)

		s.Require().Equal(units.MustParseEther("1"), s.ledger.ContractBalance(s.ctx))
		s.Require().Equal(1, s.ledger.FundersCount())
	}
}

func (s *FundMeTestSuite) TestWithdrawVariantsAreEquivalent() {
	type outcome struct {
		state    ledger.State
		alloc    chain.Alloc
		err      error
		reads    uint64
		ledgerTo *big.Int
	}

	run := func(cheaper bool, caller int) outcome {
		s.SetupTest()

		for i, v := range []string{"1", "0.5", "2", "0.03"} {
			_, err := s.fund(s.accounts[1+i%3], units.MustParseEther(v))
			s.Require().NoError(err)
		}

		before := s.ledger.StorageReads()
		_, err := s.withdraw(s.accounts[caller], cheaper)

		return outcome{
			state:    s.ledger.State(),
			alloc:    s.chain.Dump(s.ctx),
			err:      err,
			reads:    s.ledger.StorageReads() - before,
			ledgerTo: s.balance(s.ledger.Address()),
		}
	}

	for _, caller := range []int{0, 1} {
		plain := run(false, caller)
		cheaper := run(true, caller)

		s.Require().Equal(plain.state, cheaper.state)
		s.Require().Equal(plain.ledgerTo, cheaper.ledgerTo)
		s.Require().Equal(len(plain.alloc.Accounts), len(cheaper.alloc.Accounts))
		for i := range plain.alloc.Accounts {
			s.Require().Equal(plain.alloc.Accounts[i].Address, cheaper.alloc.Accounts[i].Address)
			s.Require().Equal(0, plain.alloc.Accounts[i].Balance.ToInt().Cmp(cheaper.alloc.Accounts[i].Balance.ToInt()))
		}

		if caller == 0 {
			s.Require().NoError(plain.err)
			s.Require().NoError(cheaper.err)
			s.Require().Less(cheaper.reads, plain.reads)
		} else {
			s.Require().ErrorIs(plain.err, ledger.ErrNotOwner)
			s.Require().ErrorIs(cheaper.err, ledger.ErrNotOwner)
		}
	}
}

func (s *FundMeTestSuite) TestReentrantOwnerCannotDoubleWithdraw() {
	for _, cheaper := range []bool{false, true} {
		s.SetupTest()

		for _, acc := range s.accounts[1:4] {
			_, err := s.fund(acc, units.MustParseEther("1"))
			s.Require().NoError(err)
		}

		var (
			calls     int
			nestedErr error
			seen      int
		)
		reenter := chain.ReceiverFunc(func(ctx context.Context, _ common.Address, _ *big.Int) error {
			calls++
			seen = s.ledger.FundersCount()
			if cheaper {
				nestedErr = s.ledger.CheaperWithdraw(ctx, s.deployer)
			} else {
				nestedErr = s.ledger.Withdraw(ctx, s.deployer)
			}
			return nil
		})
		s.Require().NoError(s.chain.Register(s.ctx, s.deployer, reenter))

		startingDeployer := s.balance(s.deployer)

		_, err := s.withdraw(s.deployer, cheaper)
		s.Require().NoError(err)
		s.Require().ErrorIs(nestedErr, ledger.ErrReentrantCall)
		s.Require().Equal(1, calls)
		s.Require().Zero(seen)
		s.Require().Equal(new(big.Int).Add(startingDeployer, units.MustParseEther("3")), s.balance(s.deployer))
	}
}

func (s *FundMeTestSuite) TestRejectingOwnerRollsBack() {
	for _, cheaper := range []bool{false, true} {
		s.SetupTest()

		_, err := s.fund(s.accounts[1], units.MustParseEther("1"))
		s.Require().NoError(err)

		// an owner account that refuses plain transfers
		s.Require().NoError(s.chain.Register(s.ctx, s.deployer, nil))

		receipt, err := s.withdraw(s.deployer, cheaper)
		s.Require().ErrorIs(err, ledger.ErrTransferFailed)
		s.Require().ErrorIs(receipt.Err, ledger.ErrTransferFailed)

		s.Require().Equal(units.MustParseEther("1"), s.ledger.ContractBalance(s.ctx))
		s.Require().Equal(units.MustParseEther("1"), s.ledger.AddressToAmountFunded(s.accounts[1]))
		s.Require().Equal(1, s.ledger.FundersCount())
	}
}

func (s *FundMeTestSuite) TestPriceMovesThreshold() {
	// at 1000 USD per ether, 0.03 ether is only 30 USD
	s.feed.UpdateAnswer(big.NewInt(1000e8))

	_, err := s.fund(s.accounts[1], units.MustParseEther("0.03"))
	s.Require().ErrorIs(err, ledger.ErrInsufficientContribution)

	_, err = s.fund(s.accounts[1], units.MustParseEther("0.05"))
	s.Require().NoError(err)
}

func TestFundWithUnavailableOracle(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	feedAddr := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

	feed := mocks.NewMockPriceFeed(ctrl)
	feed.EXPECT().Address().Return(feedAddr).AnyTimes()
	feed.EXPECT().LatestRoundData(gomock.Any()).Return(ledger.RoundData{}, context.DeadlineExceeded)
	feed.EXPECT().Decimals(gomock.Any()).Return(uint8(8), nil).AnyTimes()

	bank := mocks.NewMockBank(ctrl)

	owner := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	l, err := ledger.New(owner, common.HexToAddress("0x01"), feed, bank)
	require.NoError(t, err)
	require.Equal(t, feedAddr, l.PriceFeed())

	err = l.Fund(context.Background(), owner, units.MustParseEther("1"))
	require.ErrorIs(t, err, ledger.ErrOracleUnavailable)
	require.Zero(t, l.FundersCount())
}

func TestWithdrawPaysWholeBalance(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var (
		owner      = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
		ledgerAddr = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
		balance    = units.MustParseEther("7")
	)

	feed := mocks.NewMockPriceFeed(ctrl)
	bank := mocks.NewMockBank(ctrl)

	gomock.InOrder(
		bank.EXPECT().BalanceAt(gomock.Any(), ledgerAddr).Return(balance),
		bank.EXPECT().Transfer(gomock.Any(), ledgerAddr, owner, balance).Return(nil),
	)

	l, err := ledger.New(owner, ledgerAddr, feed, bank)
	require.NoError(t, err)
	require.NoError(t, l.CheaperWithdraw(context.Background(), owner))
}
