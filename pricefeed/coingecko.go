package pricefeed

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/umee-network/fundme/ledger"
)

const (
	maxRespTime        = 15 * time.Second
	maxRespHeadersTime = 15 * time.Second

	// CoingeckoDecimals is the precision of answers reported by the
	// Coingecko feed, matching on-chain USD feeds.
	CoingeckoDecimals = 8

	defaultBaseURL = "https://api.coingecko.com/api/v3"
	defaultCoinID  = "ethereum"
)

type CoingeckoConfig struct {
	BaseURL string
	// CoinID is the Coingecko id of the native asset, e.g. "ethereum".
	CoinID string
	// Address is reported as the feed address.
	Address  common.Address
	Attempts uint
	Delay    time.Duration
}

// Coingecko is a price feed backed by the Coingecko simple price API.
type Coingecko struct {
	client *http.Client
	config CoingeckoConfig
	logger zerolog.Logger

	mu    sync.Mutex
	round uint64
}

func NewCoingecko(logger zerolog.Logger, cfg *CoingeckoConfig) *Coingecko {
	return &Coingecko{
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: maxRespHeadersTime,
			},
			Timeout: maxRespTime,
		},
		config: checkCoingeckoConfig(cfg),
		logger: logger.With().Str("module", "coingecko_pricefeed").Logger(),
	}
}

func checkCoingeckoConfig(cfg *CoingeckoConfig) CoingeckoConfig {
	if cfg == nil {
		cfg = &CoingeckoConfig{}
	}

	out := *cfg
	if len(out.BaseURL) == 0 {
		out.BaseURL = defaultBaseURL
	}

	if len(out.CoinID) == 0 {
		out.CoinID = defaultCoinID
	}

	if out.Attempts == 0 {
		out.Attempts = 3
	}

	if out.Delay == 0 {
		out.Delay = 500 * time.Millisecond
	}

	return out
}

func (cg *Coingecko) Address() common.Address {
	return cg.config.Address
}

func (cg *Coingecko) Decimals(context.Context) (uint8, error) {
	return CoingeckoDecimals, nil
}

// LatestRoundData fetches the current USD price. Every successful fetch is
// reported as a new round.
func (cg *Coingecko) LatestRoundData(ctx context.Context) (ledger.RoundData, error) {
	var quote coinQuote

	err := retry.Do(func() error {
		var err error
		quote, err = cg.queryUSDPrice(ctx)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(cg.config.Attempts),
		retry.Delay(cg.config.Delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			cg.logger.Err(err).Uint("retry", n).Msg("failed to query price; retrying...")
		}),
	)
	if err != nil {
		return ledger.RoundData{}, err
	}

	answer := decimal.NewFromFloat(quote.USD).Shift(CoingeckoDecimals).BigInt()

	updatedAt := quote.LastUpdatedAt
	if updatedAt == 0 {
		updatedAt = time.Now().Unix()
	}

	cg.mu.Lock()
	cg.round++
	round := new(big.Int).SetUint64(cg.round)
	cg.mu.Unlock()

	return ledger.RoundData{
		RoundID:         round,
		Answer:          answer,
		StartedAt:       big.NewInt(updatedAt),
		UpdatedAt:       big.NewInt(updatedAt),
		AnsweredInRound: new(big.Int).Set(round),
	}, nil
}

type coinQuote struct {
	USD           float64 `json:"usd"`
	LastUpdatedAt int64   `json:"last_updated_at"`
}

type priceResponse map[string]coinQuote

func (cg *Coingecko) queryUSDPrice(ctx context.Context) (coinQuote, error) {
	u, err := url.ParseRequestURI(urlJoin(cg.config.BaseURL, "simple", "price"))
	if err != nil {
		return coinQuote{}, retry.Unrecoverable(errors.Wrap(err, "failed to parse URL"))
	}

	q := make(url.Values)
	q.Set("ids", cg.config.CoinID)
	q.Set("vs_currencies", "usd")
	q.Set("include_last_updated_at", "true")
	u.RawQuery = q.Encode()

	reqURL := u.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return coinQuote{}, retry.Unrecoverable(errors.Wrap(err, "failed to create HTTP request"))
	}

	resp, err := cg.client.Do(req)
	if err != nil {
		return coinQuote{}, errors.Wrapf(err, "failed to fetch price from %s", reqURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return coinQuote{}, errors.Errorf("unexpected status %d from %s", resp.StatusCode, reqURL)
	}

	var respBody priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return coinQuote{}, errors.Wrapf(err, "failed to parse response body from %s", reqURL)
	}

	quote, ok := respBody[cg.config.CoinID]
	if !ok || quote.USD <= 0 {
		return coinQuote{}, errors.Errorf("failed to get price for %s", cg.config.CoinID)
	}

	return quote, nil
}

func urlJoin(baseURL string, segments ...string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}

	u.Path = path.Join(append([]string{u.Path}, segments...)...)
	return u.String()
}
