package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/knadh/koanf"
	"github.com/spf13/cobra"

	"github.com/umee-network/fundme/chain"
	"github.com/umee-network/fundme/units"
)

func getFundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fund",
		Args:  cobra.NoArgs,
		Short: "Contribute value to the FundMe ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValueTx(cmd, func(ctx context.Context, d *devnet, from common.Address, value *big.Int) (*chain.Receipt, error) {
				return d.chain.Transact(ctx, chain.Msg{From: from, To: d.ledger.Address(), Value: value},
					func(ctx context.Context) error {
						return d.ledger.Fund(ctx, from, value)
					},
				)
			})
		},
	}

	cmd.Flags().AddFlagSet(txFlagSet())
	cmd.Flags().String(flagValue, "1ether", "Value to contribute, e.g. 1ether, 0.03ether or 2gwei")

	return cmd
}

func getSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Args:  cobra.NoArgs,
		Short: "Send a plain value transfer to the FundMe ledger address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValueTx(cmd, func(ctx context.Context, d *devnet, from common.Address, value *big.Int) (*chain.Receipt, error) {
				return d.chain.Send(ctx, from, d.ledger.Address(), value)
			})
		},
	}

	cmd.Flags().AddFlagSet(txFlagSet())
	cmd.Flags().String(flagValue, "1ether", "Value to send, e.g. 1ether or 2gwei")

	return cmd
}

type valueTxFunc func(ctx context.Context, d *devnet, from common.Address, value *big.Int) (*chain.Receipt, error)

// runValueTx opens the development network, submits a value carrying
// transaction and persists the outcome. Failed transactions are persisted as
// well since they still consume the sender nonce.
func runValueTx(cmd *cobra.Command, submit valueTxFunc) error {
	konfig, err := parseServerConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := getLogger(cmd)
	if err != nil {
		return err
	}

	statePath := konfig.String(flagStateFile)

	ctx := cmd.Context()

	d, err := openDevnet(ctx, logger, statePath)
	if err != nil {
		return err
	}

	from, value, err := parseValueTx(konfig, d)
	if err != nil {
		return err
	}

	receipt, txErr := submit(ctx, d, from, value)

	if err := d.save(ctx, statePath); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	if txErr != nil {
		if receipt != nil {
			logger.Debug().Str("tx", receipt.TxHash.Hex()).Msg("transaction reverted")
		}
		return fmt.Errorf("transaction reverted: %w", txErr)
	}

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), `Transaction successful!
Sender: %s
Value: %s ether
Transaction: %s
Contract Balance: %s wei
`,
		from.Hex(),
		units.FormatEther(value),
		receipt.TxHash.Hex(),
		d.ledger.ContractBalance(ctx).String(),
	)

	return nil
}

func parseValueTx(konfig *koanf.Koanf, d *devnet) (common.Address, *big.Int, error) {
	from, err := d.account(konfig.String(flagFrom))
	if err != nil {
		return common.Address{}, nil, err
	}

	value, err := units.ParseValue(konfig.String(flagValue))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("invalid %s: %w", flagValue, err)
	}

	return from, value, nil
}
