package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umee-network/fundme/chain"
	"github.com/umee-network/fundme/metrics"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append(args, "--log-level", "error", "--log-format", "json"))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDevnetLifecycle(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.yaml")
	state := "--state=" + statePath

	out, err := runCmd(t, "deploy", state, "--accounts", "4")
	require.NoError(t, err, out)
	assert.Contains(t, out, "FundMe successfully deployed!")

	_, err = runCmd(t, "deploy", state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	s, err := readStateFile(statePath)
	require.NoError(t, err)
	require.Len(t, s.Accounts, 4)

	deployer := s.Accounts[0]
	assert.Equal(t, crypto.CreateAddress(deployer, 0), s.Feed.Address)
	assert.Equal(t, crypto.CreateAddress(deployer, 1), s.Ledger.Address)
	assert.Equal(t, deployer, s.Ledger.Owner)
	assert.Equal(t, "200000000000", s.Feed.Answer.ToInt().String())

	// 0.001 ether is 2 USD
	_, err = runCmd(t, "fund", state, "--from", "1", "--value", "0.001ether")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "didn't send enough money")

	out, err = runCmd(t, "fund", state, "--from", "1", "--value", "0.03ether")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Contract Balance: 30000000000000000 wei")

	_, err = runCmd(t, "send", state, "--from", "2", "--value", "2gwei")
	require.Error(t, err)

	out, err = runCmd(t, "send", state, "--from", "2", "--value", "2ether")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Contract Balance: 2030000000000000000 wei")

	out, err = runCmd(t, "funders", state)
	require.NoError(t, err, out)
	assert.Contains(t, out, "0\t"+s.Accounts[1].Hex()+"\t0.03 ether")
	assert.Contains(t, out, "1\t"+s.Accounts[2].Hex()+"\t2 ether")

	out, err = runCmd(t, "balance", state, "2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "9998 ether")
	assert.Contains(t, out, "Funded: 2 ether")

	_, err = runCmd(t, "withdraw", state, "--from", "1", "--yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FundMe__NotOwner")

	// no confirmation on stdin
	_, err = runCmd(t, "withdraw", state)
	assert.ErrorIs(t, err, errAborted)

	out, err = runCmd(t, "withdraw", state, "--cheaper", "--yes")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Withdrawal successful!")
	assert.Contains(t, out, "Storage Reads: 3")

	out, err = runCmd(t, "balance", state)
	require.NoError(t, err, out)
	assert.Contains(t, out, s.Ledger.Address.Hex()+": 0 wei")

	out, err = runCmd(t, "balance", state, deployer.Hex())
	require.NoError(t, err, out)
	assert.Contains(t, out, "10002.03 ether")

	out, err = runCmd(t, "funders", state)
	require.NoError(t, err, out)
	assert.Contains(t, out, "No funders")

	out, err = runCmd(t, "price", state, "--set-answer", "100000000000")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Price: 1000 USD")
	assert.Contains(t, out, "Minimum Contribution: 0.05 ether")
	assert.Contains(t, out, "Round: 2\n")

	// the round survives a reload
	out, err = runCmd(t, "price", state)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Round: 2\n")
	assert.Contains(t, out, "Price: 1000 USD")

	// the new answer is persisted
	_, err = runCmd(t, "fund", state, "--from", "3", "--value", "0.03ether")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "didn't send enough money")
}

func TestMonitorTick(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.yaml")

	out, err := runCmd(t, "deploy", "--state", statePath, "--accounts", "3")
	require.NoError(t, err, out)

	out, err = runCmd(t, "fund", "--state", statePath, "--from", "1", "--value", "0.03ether")
	require.NoError(t, err, out)

	reg := prometheus.NewRegistry()
	m := &monitor{
		logger:    zerolog.Nop(),
		statePath: statePath,
		oracle:    metrics.NewOracle(reg),
		ledger:    metrics.NewLedger(reg),
	}
	require.NoError(t, m.tick(context.Background()))

	families, err := reg.Gather()
	require.NoError(t, err)

	gauges := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if metric.GetGauge() != nil {
				gauges[family.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 0.03, gauges["fundme_ledger_balance_ether"])
	assert.Equal(t, float64(1), gauges["fundme_ledger_funders"])
	assert.Equal(t, float64(2000), gauges["fundme_oracle_price_usd"])
	assert.Equal(t, 0.025, gauges["fundme_oracle_minimum_contribution_ether"])

	// a missing state file is logged, not fatal
	m.statePath = filepath.Join(t.TempDir(), "missing.yaml")
	assert.NoError(t, m.tick(context.Background()))
}

func TestMissingStateFile(t *testing.T) {
	_, err := runCmd(t, "funders", "--state", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run 'fundme deploy' first")
}

func TestParseDeployConfig(t *testing.T) {
	load := func(t *testing.T, overrides map[string]interface{}) *koanf.Koanf {
		t.Helper()

		values := map[string]interface{}{
			flagMnemonic:       chain.DefaultMnemonic,
			flagAccounts:       10,
			flagAccountBalance: "10000ether",
			flagPriceSource:    priceSourceMock,
			flagDecimals:       8,
			flagInitialAnswer:  "200000000000",
		}
		for k, v := range overrides {
			values[k] = v
		}

		konfig := koanf.New(".")
		require.NoError(t, konfig.Load(confmap.Provider(values, "."), nil))

		return konfig
	}

	t.Run("valid", func(t *testing.T) {
		cfg, err := parseDeployConfig(load(t, nil))
		require.NoError(t, err)
		assert.Equal(t, uint8(8), cfg.decimals)
		assert.Equal(t, "200000000000", cfg.initialAnswer.String())
		assert.Equal(t, "10000000000000000000000", cfg.balance.String())
	})

	t.Run("all errors are reported", func(t *testing.T) {
		_, err := parseDeployConfig(load(t, map[string]interface{}{
			flagAccounts:       0,
			flagAccountBalance: "lots",
			flagInitialAnswer:  "-1",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "3 errors occurred")
	})

	t.Run("unknown price source", func(t *testing.T) {
		_, err := parseDeployConfig(load(t, map[string]interface{}{flagPriceSource: "chainlink"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `invalid price-source "chainlink"`)
	})

	t.Run("coingecko", func(t *testing.T) {
		cfg, err := parseDeployConfig(load(t, map[string]interface{}{
			flagPriceSource:      priceSourceCoingecko,
			flagPriceFeedAddress: defaultPriceFeedAddress,
			flagCoinGeckoCoin:    "ethereum",
		}))
		require.NoError(t, err)
		assert.Equal(t, defaultPriceFeedAddress, cfg.feedAddress.Hex())
	})
}

func TestParseServerConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "fundme.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log-level: debug\nstate: from-file.yaml\n"), 0o600))

	t.Setenv("FUNDME_STATE", "from-env.yaml")

	cmd := NewRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", cfgPath}))

	konfig, err := parseServerConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "debug", konfig.String(flagLogLevel))
	assert.Equal(t, "from-env.yaml", konfig.String(flagStateFile))

	cmd = NewRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", cfgPath, "--state", "from-flag.yaml"}))

	konfig, err = parseServerConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-flag.yaml", konfig.String(flagStateFile))
}

func TestGetLogger(t *testing.T) {
	cmd := NewRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--log-format", "xml"}))

	_, err := getLogger(cmd)
	assert.EqualError(t, err, "invalid logging format: xml")

	cmd = NewRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--log-level", "loud"}))

	_, err = getLogger(cmd)
	assert.Error(t, err)
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer

	assert.NoError(t, confirm(strings.NewReader("y\n"), &out, "Withdraw?"))
	assert.NoError(t, confirm(strings.NewReader("YES"), &out, "Withdraw?"))
	assert.ErrorIs(t, confirm(strings.NewReader("n\n"), &out, "Withdraw?"), errAborted)
	assert.ErrorIs(t, confirm(strings.NewReader(""), &out, "Withdraw?"), errAborted)
	assert.Contains(t, out.String(), "Withdraw? [y/N]: ")
}

func TestWithdrawNeedsTerminal(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.yaml")

	out, err := runCmd(t, "deploy", "--state", statePath, "--accounts", "2")
	require.NoError(t, err, out)

	stdin, err := os.Create(filepath.Join(dir, "stdin"))
	require.NoError(t, err)
	defer stdin.Close()

	assert.False(t, isInteractive(stdin))
	assert.True(t, isInteractive(strings.NewReader("y\n")))

	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetIn(stdin)
	cmd.SetArgs([]string{"withdraw", "--state", statePath, "--log-level", "error"})

	err = cmd.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, errNotInteractive)
	assert.Contains(t, err.Error(), "--yes")
}

func TestEnvToFlag(t *testing.T) {
	assert.Equal(t, "log-level", envToFlag("FUNDME_LOG_LEVEL"))
	assert.Equal(t, "coingecko-api", envToFlag("FUNDME_COINGECKO_API"))
}
