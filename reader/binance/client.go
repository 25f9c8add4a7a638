package binance

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"cryptoledger/config"
	"cryptoledger/internal/metrics"
	"cryptoledger/logger"
	"cryptoledger/models"
)

const component = "binance_client"

// APIError is an error response returned by the exchange. It only affects
// the request that produced it.
type APIError struct {
	Status int
	Code   int64
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error (status %d, code %d): %s", e.Status, e.Code, e.Msg)
}

// Client sends signed and public REST requests to Binance. The SDK client
// owns the HTTP client, base URL and credentials; history endpoints the SDK
// does not cover are signed here and sent through the same HTTP client.
type Client struct {
	sdk        *gobinance.Client
	recvWindow int64
	loc        *time.Location
	usedWeight bool
	log        *logger.Log
	now        func() time.Time
	prices     map[priceKey]decimal.Decimal
}

// NewClient builds a client from the exchange section of cfg.
func NewClient(cfg *config.Config) *Client {
	log := logger.GetLogger()
	pool := cfg.Exchange.ConnectionPool

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        pool.MaxIdleConns,
		MaxIdleConnsPerHost: pool.MaxIdleConns,
		MaxConnsPerHost:     pool.MaxConnsPerHost,
		IdleConnTimeout:     pool.IdleConnTimeout,
	}

	sdk := gobinance.NewClient(cfg.Exchange.APIKey, cfg.Exchange.SecretKey)
	sdk.HTTPClient = &http.Client{
		Transport: transport,
		Timeout:   cfg.Exchange.Timeout,
	}
	sdk.BaseURL = strings.TrimRight(cfg.Exchange.BaseURL, "/")

	c := &Client{
		sdk:        sdk,
		recvWindow: cfg.Exchange.RecvWindow,
		loc:        cfg.Export.Location(),
		usedWeight: cfg.Metrics.UsedWeight,
		log:        log,
		now:        time.Now,
		prices:     make(map[priceKey]decimal.Decimal),
	}

	log.WithComponent(component).WithFields(logger.Fields{
		"base_url":           sdk.BaseURL,
		"max_idle_conns":     pool.MaxIdleConns,
		"max_conns_per_host": pool.MaxConnsPerHost,
		"timeout":            cfg.Exchange.Timeout.String(),
	}).Debug("binance client initialized")

	return c
}

// Location is the time zone used to interpret date strings.
func (c *Client) Location() *time.Location {
	return c.loc
}

// History fetches the raw history response for one transaction type.
func (c *Client) History(ctx context.Context, t models.TransactionType, opts Options) (any, error) {
	path, err := Resolve(t)
	if err != nil {
		return nil, err
	}
	params, err := BuildParams(path, opts, c.loc)
	if err != nil {
		return nil, err
	}
	return c.SendSigned(ctx, http.MethodGet, path, params)
}

// SendSigned sends a request authenticated with the API key header and an
// HMAC-SHA256 signature over the query string.
func (c *Client) SendSigned(ctx context.Context, method, path string, params url.Values) (any, error) {
	if err := Validate(path); err != nil {
		return nil, err
	}
	if c.sdk.APIKey == "" || c.sdk.SecretKey == "" {
		return nil, fmt.Errorf("%w: binance API credentials are not set", config.ErrConfiguration)
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	if c.recvWindow > 0 {
		q.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	}
	q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))

	query := q.Encode()
	query += "&signature=" + sign(c.sdk.SecretKey, query)
	return c.do(ctx, method, path, query, true)
}

// SendPublic sends an unauthenticated GET request.
func (c *Client) SendPublic(ctx context.Context, path string, params url.Values) (any, error) {
	if err := Validate(path); err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodGet, path, params.Encode(), false)
}

func sign(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path, query string, signed bool) (any, error) {
	log := c.log.WithComponent(component).WithFields(logger.Fields{
		"endpoint": path,
		"method":   method,
	})

	reqURL := c.sdk.BaseURL + path
	if query != "" {
		reqURL += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json;charset=utf-8")
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.sdk.APIKey)
	}

	logger.IncrementAPIRequest()
	start := time.Now()
	resp, err := c.sdk.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	logger.LogPerformanceEntry(log, component, "api_request", time.Since(start), logger.Fields{
		"status": resp.StatusCode,
	})
	if c.usedWeight {
		metrics.ReportUsedWeight(c.log, resp.Header, component, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		logger.IncrementAPIError()
		return nil, parseAPIError(resp.StatusCode, body)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	if isErrorPayload(out) {
		logger.IncrementAPIError()
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return out, nil
}

// isErrorPayload reports whether a successfully decoded body is a Binance
// error object: a map with a non-zero code and a msg. Success envelopes such
// as the fiat endpoints' {"code":"000000","message":"success"} do not match.
func isErrorPayload(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	code, hasCode := m["code"]
	if _, hasMsg := m["msg"]; !hasCode || !hasMsg || code == nil {
		return false
	}
	s := strings.TrimSpace(fmt.Sprint(code))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n != 0
	}
	return s != ""
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var payload struct {
		Code    any    `json:"code"`
		Msg     string `json:"msg"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		apiErr.Msg = strings.TrimSpace(http.StatusText(status) + " " + string(body))
		return apiErr
	}

	apiErr.Msg = payload.Msg
	if apiErr.Msg == "" {
		apiErr.Msg = payload.Message
	}
	if code, err := strconv.ParseInt(strings.TrimSpace(fmt.Sprint(payload.Code)), 10, 64); err == nil {
		apiErr.Code = code
	}
	return apiErr
}

// translateError maps SDK API errors onto *APIError so callers only need
// to check one type.
func translateError(err error) error {
	var sdkErr *common.APIError
	if errors.As(err, &sdkErr) {
		logger.IncrementAPIError()
		return &APIError{Code: sdkErr.Code, Msg: sdkErr.Message}
	}
	return err
}
