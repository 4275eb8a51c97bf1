package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/umee-network/fundme/ledger"
	"github.com/umee-network/fundme/loops"
	"github.com/umee-network/fundme/metrics"
	"github.com/umee-network/fundme/units"
)

const (
	defaultMonitorInterval = 30 * time.Second
	shutdownTimeout        = 5 * time.Second
)

func getMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Args:  cobra.NoArgs,
		Short: "Periodically read the price feed and the ledger, and export Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			konfig, err := parseServerConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := getLogger(cmd)
			if err != nil {
				return err
			}

			interval := konfig.Duration(flagInterval)
			if interval <= 0 {
				return fmt.Errorf("invalid %s: %s", flagInterval, konfig.String(flagInterval))
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())

			m := &monitor{
				logger:    logger.With().Str("module", "monitor").Logger(),
				statePath: konfig.String(flagStateFile),
				oracle:    metrics.NewOracle(reg),
				ledger:    metrics.NewLedger(reg),
			}

			g, ctx := errgroup.WithContext(cmd.Context())

			g.Go(func() error {
				return loops.Run(ctx, m.logger, interval, m.tick)
			})

			if addr := konfig.String(flagMetricsAddr); len(addr) > 0 {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

				srv := &http.Server{
					Addr:              addr,
					Handler:           mux,
					ReadHeaderTimeout: 5 * time.Second,
				}

				g.Go(func() error {
					m.logger.Info().Str("addr", addr).Msg("serving metrics")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("metrics server failed: %w", err)
					}
					return nil
				})

				g.Go(func() error {
					<-ctx.Done()

					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()

					return srv.Shutdown(shutdownCtx)
				})
			}

			return g.Wait()
		},
	}

	cmd.Flags().AddFlagSet(monitorFlagSet())

	return cmd
}

type monitor struct {
	logger    zerolog.Logger
	statePath string
	oracle    *metrics.Oracle
	ledger    *metrics.Ledger
}

// tick reloads the state file so that changes made by other fundme
// invocations are picked up. Read failures are logged and counted but do not
// stop the loop.
func (m *monitor) tick(ctx context.Context) error {
	d, err := openDevnet(ctx, zerolog.Nop(), m.statePath, ledger.WithMetrics(m.ledger))
	if err != nil {
		m.logger.Err(err).Msg("failed to load state")
		return nil
	}

	balance := d.ledger.ContractBalance(ctx)
	m.ledger.SetHoldings(units.ToFloat(balance, 18), d.ledger.FundersCount())

	q, err := queryPrice(ctx, d.feed)
	if err != nil {
		m.oracle.Failure()
		m.logger.Err(err).Msg("failed to read price feed")
		return nil
	}

	m.oracle.SetPrice(
		units.ToFloat(q.price, ledger.PriceDecimals),
		units.ToFloat(q.minimum, 18),
	)

	m.logger.Info().
		Str("price_usd", units.FormatUnits(q.price, ledger.PriceDecimals)).
		Str("minimum_ether", units.FormatEther(q.minimum)).
		Str("balance_ether", units.FormatEther(balance)).
		Int("funders", d.ledger.FundersCount()).
		Msg("ledger status")

	return nil
}
