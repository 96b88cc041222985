// Package ratesource предоставляет клиент внешних поставщиков курсов валют.
package ratesource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/model"
)

var (
	// ErrNoQuote: поставщик не знает курса для пары.
	ErrNoQuote = errors.New("no quote for pair")
	// ErrRateLimited: поставщик попросил подождать (429), запрос не выполнялся.
	ErrRateLimited = errors.New("rate source is rate limited")
)

// Client инкапсулирует HTTP-взаимодействие с одним поставщиком курсов.
type Client struct {
	baseURL    string
	source     model.RateSource
	httpClient *http.Client
	now        func() time.Time

	mu           sync.Mutex
	blockedUntil time.Time
}

// Quote описывает ответ поставщика по одной валютной паре.
type Quote struct {
	Pair string          `json:"pair"`
	Rate decimal.Decimal `json:"rate"`
}

// NewClient создаёт HTTP-клиент поставщика курсов по указанному адресу.
// source определяет, под каким источником сохраняются полученные курсы.
func NewClient(baseURL string, source model.RateSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		source:  source,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		now: time.Now,
	}
}

// Source возвращает источник, который представляет клиент.
func (c *Client) Source() model.RateSource {
	return c.source
}

// GetQuote запрашивает текущий курс для пары.
func (c *Client) GetQuote(ctx context.Context, pair model.Pair) (*Quote, int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, 0, fmt.Errorf("rate source client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/rates/%s", base, pair.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil, resp.StatusCode, 0, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result Quote
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}

	return &result, resp.StatusCode, 0, nil
}

// Fetch возвращает положительный курс для пары. После ответа 429 клиент не обращается
// к поставщику до истечения Retry-After и сразу возвращает ErrRateLimited.
func (c *Client) Fetch(ctx context.Context, pair model.Pair) (decimal.Decimal, error) {
	c.mu.Lock()
	blocked := c.now().Before(c.blockedUntil)
	c.mu.Unlock()
	if blocked {
		return decimal.Decimal{}, ErrRateLimited
	}

	quote, code, retryAfter, err := c.GetQuote(ctx, pair)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if code == http.StatusTooManyRequests {
		c.mu.Lock()
		c.blockedUntil = c.now().Add(retryAfter)
		c.mu.Unlock()
		return decimal.Decimal{}, ErrRateLimited
	}

	if quote == nil {
		return decimal.Decimal{}, ErrNoQuote
	}

	if quote.Pair != "" && !strings.EqualFold(quote.Pair, pair.String()) {
		return decimal.Decimal{}, fmt.Errorf("quote for %s, want %s", quote.Pair, pair)
	}

	if !quote.Rate.IsPositive() {
		return decimal.Decimal{}, model.NewValidationError("rate", quote.Rate.String(), "must be positive")
	}

	return quote.Rate, nil
}
