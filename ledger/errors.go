package ledger

import "github.com/pkg/errors"

var (
	// ErrInsufficientContribution is returned when a contribution converts to
	// less than MinimumUSD.
	ErrInsufficientContribution = errors.New("didn't send enough money")
	// ErrNotOwner is returned when anyone but the owner attempts a withdrawal.
	ErrNotOwner = errors.New("FundMe__NotOwner")
	// ErrTransferFailed is returned when the payout to the owner did not complete.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrIndexOutOfRange is returned for an invalid funder registry position.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrArithmeticOverflow is returned when a conversion leaves the uint256 range.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	// ErrOracleUnavailable is returned when the price feed cannot supply a rate.
	ErrOracleUnavailable = errors.New("oracle unavailable")
	// ErrReentrantCall is returned when a mutating operation is entered while
	// another one is still in progress.
	ErrReentrantCall = errors.New("reentrant call")
)
