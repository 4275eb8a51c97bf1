package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/umee-network/fundme/chain"
	"github.com/umee-network/fundme/units"
)

var (
	errAborted        = errors.New("withdrawal aborted")
	errNotInteractive = fmt.Errorf("stdin is not a terminal; pass --%s to withdraw without confirmation", flagYes)
)

func getWithdrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw",
		Args:  cobra.NoArgs,
		Short: "Withdraw the whole FundMe balance to its owner",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			from, err := d.account(konfig.String(flagFrom))
			if err != nil {
				return err
			}

			out := cmd.ErrOrStderr()
			ledgerAddr := d.ledger.Address()

			initialFundBalance := d.chain.BalanceAt(ctx, ledgerAddr)
			initialOwnerBalance := d.chain.BalanceAt(ctx, from)

			_, _ = fmt.Fprintf(out, "Initial FundMe balance: %s wei\nInitial %s balance: %s ether\n",
				initialFundBalance, from.Hex(), units.FormatEther(initialOwnerBalance))

			if !konfig.Bool(flagYes) {
				if !isInteractive(cmd.InOrStdin()) {
					return errNotInteractive
				}

				prompt := fmt.Sprintf("Withdraw %s ether to %s?", units.FormatEther(initialFundBalance), d.ledger.Owner().Hex())
				if err := confirm(cmd.InOrStdin(), out, prompt); err != nil {
					return err
				}
			}

			cheaper := konfig.Bool(flagCheaper)
			receipt, txErr := d.chain.Transact(ctx, chain.Msg{From: from, To: ledgerAddr}, func(ctx context.Context) error {
				if cheaper {
					return d.ledger.CheaperWithdraw(ctx, from)
				}
				return d.ledger.Withdraw(ctx, from)
			})

			if err := d.save(ctx, statePath); err != nil {
				return fmt.Errorf("failed to write state file: %w", err)
			}

			if txErr != nil {
				return fmt.Errorf("transaction reverted: %w", txErr)
			}

			_, _ = fmt.Fprintf(out, `Withdrawal successful!
Transaction: %s
Storage Reads: %d
FundMe balance: %s wei
%s balance: %s ether
`,
				receipt.TxHash.Hex(),
				d.ledger.StorageReads(),
				d.chain.BalanceAt(ctx, ledgerAddr),
				from.Hex(), units.FormatEther(d.chain.BalanceAt(ctx, from)),
			)

			return nil
		},
	}

	cmd.Flags().AddFlagSet(txFlagSet())
	cmd.Flags().Bool(flagCheaper, false, "Use the storage-read optimised withdrawal")
	cmd.Flags().Bool(flagYes, false, "Do not ask for confirmation")

	return cmd
}

// isInteractive reports whether in can answer a prompt. Files must be
// terminals; other readers are assumed to be scripted input.
func isInteractive(in io.Reader) bool {
	f, ok := in.(*os.File)
	if !ok {
		return true
	}

	return term.IsTerminal(int(f.Fd()))
}

func confirm(in io.Reader, out io.Writer, prompt string) error {
	_, _ = fmt.Fprintf(out, "%s [y/N]: ", prompt)

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	default:
		return errAborted
	}
}
