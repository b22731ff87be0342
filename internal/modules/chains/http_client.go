package chains

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// Client defaults. The provider allows a small sustained request rate;
// bursts cover a universe sweep without tripping upstream limits.
const (
	defaultRatePerSecond = 4
	defaultBurst         = 8
	breakerFailures      = 5
	breakerOpenFor       = 30 * time.Second
)

// HTTPClient fetches chains from the configured provider endpoint. Requests
// are rate limited, retried on 5xx, and guarded by a circuit breaker so a
// dead provider fails fast for the rest of the cycle.
type HTTPClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	log     zerolog.Logger
}

// NewHTTPClient creates a chain provider client. baseURL is the provider
// root; timeout applies per fetch.
func NewHTTPClient(baseURL string, timeout time.Duration, log zerolog.Logger) *HTTPClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return false // let timeouts and context errors surface immediately
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json")

	settings := gobreaker.Settings{
		Name:    "chain_provider",
		Timeout: breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
	}

	return &HTTPClient{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(defaultRatePerSecond), defaultBurst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: timeout,
		log:     log.With().Str("component", "chain_provider").Logger(),
	}
}

// FetchChain fetches the option chain for one underlying.
func (c *HTTPClient) FetchChain(ctx context.Context, symbol string) (*Chain, error) {
	norm, ok := domain.NormalizeSymbol(symbol)
	if !ok {
		return nil, &domain.ProviderError{
			Symbol: symbol, Reason: "INVALID_SYMBOL",
			Err: fmt.Errorf("blank symbol"),
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.classify(norm, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, norm)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.ProviderError{Symbol: norm, Reason: "CIRCUIT_OPEN", Err: err}
		}
		return nil, c.classify(norm, err)
	}
	return result.(*Chain), nil
}

func (c *HTTPClient) fetch(ctx context.Context, symbol string) (*Chain, error) {
	var chain Chain
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&chain).
		Get("/chain")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("no chain for %s", symbol)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}

	chain.Symbol = symbol
	chain.FetchedAt = time.Now().UTC()
	c.log.Debug().Str("symbol", symbol).Int("contracts", len(chain.Contracts)).Msg("Chain fetched")
	return &chain, nil
}

// classify wraps a transport error as a ProviderError, tagging deadline
// expiry as TIMEOUT so Stage 2 records it distinctly.
func (c *HTTPClient) classify(symbol string, err error) error {
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &domain.ProviderError{Symbol: symbol, Reason: "TIMEOUT", Err: err, Timeout: true}
	}
	if errors.Is(err, context.Canceled) {
		return &domain.ProviderError{Symbol: symbol, Reason: "CANCELED", Err: err}
	}
	return &domain.ProviderError{Symbol: symbol, Reason: "UPSTREAM", Err: err}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
