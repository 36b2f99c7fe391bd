// Package bitget implements the exchange adapter against Bitget's v2
// USDT-futures REST API. Requests are signed with HMAC-SHA256 and retried
// with exponential backoff; demo accounts are selected with the paptrading
// header and behave identically at the adapter contract level.
package bitget

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://api.bitget.com"

	productTypeLive = "USDT-FUTURES"
	productTypeDemo = "SUSDT-FUTURES"

	requestTimeout = 10 * time.Second
	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

// Credentials holds the API key material for one Bitget account.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	Demo       bool
}

// Client is a signed Bitget v2 REST client implementing exchange.Exchange.
type Client struct {
	http        *resty.Client
	creds       Credentials
	productType string
	marginCoin  string
	logger      zerolog.Logger

	mu     sync.Mutex
	orders map[string]orderInfo // order id -> open details, for later close
}

type orderInfo struct {
	side string // "buy" or "sell"
	size float64
}

// NewClient creates a client for the given credentials. Demo credentials
// route to the paper-trading product type.
func NewClient(creds Credentials, logger zerolog.Logger) *Client {
	productType := productTypeLive
	if creds.Demo {
		productType = productTypeDemo
	}

	httpClient := resty.New().
		SetBaseURL(defaultBaseURL).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("locale", "en-US")

	return &Client{
		http:        httpClient,
		creds:       creds,
		productType: productType,
		marginCoin:  "USDT",
		logger:      logger.With().Str("component", "bitget").Logger(),
		orders:      make(map[string]orderInfo),
	}
}

// SetBaseURL overrides the API endpoint, used by tests.
func (c *Client) SetBaseURL(u string) {
	c.http.SetBaseURL(u)
}

// apiResponse is Bitget's standard envelope.
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

const codeOK = "00000"

// sign produces the base64 HMAC-SHA256 signature Bitget expects over
// timestamp + method + requestPath + body.
func (c *Client) sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.SecretKey))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// do executes one signed request with retries. Each attempt is re-signed
// with a fresh timestamp, so retrying cannot trip the server's clock-skew
// window. Returns the decoded data payload on success.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	requestPath := path
	if len(query) > 0 {
		// Encode sorts keys, which Bitget requires for signing.
		requestPath = path + "?" + query.Encode()
	}

	var bodyStr string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(raw)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffDelay(attempt)):
			}
		}

		data, retryable, err := c.attempt(ctx, method, requestPath, bodyStr)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.logger.Warn().Err(err).Int("attempt", attempt+1).
			Str("path", path).Msg("request failed, retrying")
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, requestPath, bodyStr string) (json.RawMessage, bool, error) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("ACCESS-KEY", c.creds.APIKey).
		SetHeader("ACCESS-SIGN", c.sign(timestamp, method, requestPath, bodyStr)).
		SetHeader("ACCESS-TIMESTAMP", timestamp).
		SetHeader("ACCESS-PASSPHRASE", c.creds.Passphrase)
	if c.creds.Demo {
		req.SetHeader("paptrading", "1")
	}
	if bodyStr != "" {
		req.SetBody(bodyStr)
	}

	resp, err := req.Execute(method, requestPath)
	if err != nil {
		return nil, true, newTransient(requestPath, err)
	}

	status := resp.StatusCode()
	if status == http.StatusTooManyRequests || status >= 500 {
		return nil, true, newTransient(requestPath,
			fmt.Errorf("status %d: %s", status, resp.String()))
	}

	var envelope apiResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, true, newTransient(requestPath,
			fmt.Errorf("decode response: %w", err))
	}

	if envelope.Code != codeOK {
		apiErr := classify(requestPath, envelope.Code, envelope.Msg, status)
		return nil, retryableCode(envelope.Code), apiErr
	}
	return envelope.Data, false, nil
}

func backoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(retryBaseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.2)
	return delay + jitter
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

var errMissingField = errors.New("missing field in exchange response")
