package bittrex

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
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

	"github.com/shopspring/decimal"

	"bittrex-client/trading"
)

const (
	DefaultURL            = "https://bittrex.com/api/v1.1/"
	DefaultTimeout        = 10 * time.Second
	DefaultOrderBookDepth = 20

	SignatureHeader = "apisign"
)

type Config struct {
	// URL is the API root every endpoint path is appended to. It must end
	// with a slash.
	URL       string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

type client struct {
	config     Config
	httpClient *http.Client
	now        func() time.Time
}

// NewClient returns a client for the v1.1 API. When httpClient is nil one is
// built with config.Timeout.
func NewClient(config Config, httpClient *http.Client) trading.Client {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &client{
		config:     config,
		httpClient: httpClient,
		now:        time.Now,
	}
}

func (c *client) GetMarkets() (trading.Response, error) {
	return c.request("public/getmarkets", nil)
}

func (c *client) GetCurrencies() (trading.Response, error) {
	return c.request("public/getcurrencies", nil)
}

func (c *client) GetTicker(market string) (trading.Response, error) {
	return c.request("public/getticker", params{}.add("market", market))
}

func (c *client) GetMarketSummaries() (trading.Response, error) {
	return c.request("public/getmarketsummaries", nil)
}

func (c *client) GetMarketSummary(market string) (trading.Response, error) {
	return c.request("public/getmarketsummary", params{}.add("market", market))
}

// GetOrderBook fetches the book for market. bookType is "buy", "sell" or
// "both". depth defaults to DefaultOrderBookDepth when omitted; an explicit
// zero is sent as is.
func (c *client) GetOrderBook(market, bookType string, depth ...int) (trading.Response, error) {
	d := DefaultOrderBookDepth
	if len(depth) > 0 {
		d = depth[0]
	}

	p := params{}.
		add("market", market).
		add("type", bookType).
		add("depth", strconv.Itoa(d))

	return c.request("public/getorderbook", p)
}

func (c *client) GetMarketHistory(market string) (trading.Response, error) {
	return c.request("public/getmarkethistory", params{}.add("market", market))
}

func (c *client) BuyLimit(market string, quantity, rate decimal.Decimal) (trading.Response, error) {
	return c.request("market/buylimit", limitParams(market, quantity, rate))
}

func (c *client) SellLimit(market string, quantity, rate decimal.Decimal) (trading.Response, error) {
	return c.request("market/selllimit", limitParams(market, quantity, rate))
}

func (c *client) Cancel(orderID string) (trading.Response, error) {
	return c.request("market/cancel", params{}.add("uuid", orderID))
}

// GetOpenOrders lists open orders, across all markets when market is empty.
func (c *client) GetOpenOrders(market string) (trading.Response, error) {
	return c.request("market/getopenorders", params{}.addOptional("market", market))
}

func (c *client) GetBalances() (trading.Response, error) {
	return c.request("account/getbalances", nil)
}

func (c *client) GetBalance(currency string) (trading.Response, error) {
	return c.request("account/getbalance", params{}.add("currency", currency))
}

func (c *client) GetDepositAddress(currency string) (trading.Response, error) {
	return c.request("account/getdepositaddress", params{}.add("currency", currency))
}

// Withdraw sends quantity of currency to address. paymentID is only sent when
// non-empty.
func (c *client) Withdraw(currency string, quantity decimal.Decimal, address, paymentID string) (trading.Response, error) {
	p := params{}.
		add("currency", currency).
		add("quantity", quantity.String()).
		add("address", address).
		addOptional("paymentid", paymentID)

	return c.request("account/withdraw", p)
}

func (c *client) GetOrder(orderID string) (trading.Response, error) {
	return c.request("account/getorder", params{}.add("uuid", orderID))
}

func (c *client) GetOrderHistory(market string) (trading.Response, error) {
	return c.request("account/getorderhistory", params{}.addOptional("market", market))
}

func (c *client) GetWithdrawalHistory(currency string) (trading.Response, error) {
	return c.request("account/getwithdrawalhistory", params{}.addOptional("currency", currency))
}

func (c *client) GetDepositHistory(currency string) (trading.Response, error) {
	return c.request("account/getdeposithistory", params{}.addOptional("currency", currency))
}

// request signs and sends a GET for path. The query always starts with apikey
// and nonce; args follow in the order they were added. The URL that is signed
// is the URL that is sent, so the query must not be rebuilt after signing.
func (c *client) request(path string, args params) (trading.Response, error) {
	query := params{}.
		add("apikey", c.config.APIKey).
		add("nonce", strconv.FormatInt(c.now().Unix(), 10))
	query = append(query, args...)

	uri := c.config.URL + path + "?" + query.encode()

	httpReq, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		return trading.Response{}, NewTransportError(0, nil, fmt.Errorf("build request for %s: %w", path, err))
	}

	httpReq.Header.Set(SignatureHeader, Sign(uri, c.config.APISecret))

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return trading.Response{}, NewTransportError(0, nil, err)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return trading.Response{}, NewTransportError(res.StatusCode, nil, err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return trading.Response{}, NewTransportError(res.StatusCode, resBody, nil)
	}

	return decode(resBody)
}

// Sign returns the lowercase hex HMAC-SHA512 of uri keyed with secret.
func Sign(uri, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(uri))

	return hex.EncodeToString(mac.Sum(nil))
}

func decode(body []byte) (trading.Response, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return trading.Response{}, NewDecodeError(body, err)
	}

	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return trading.Response{}, NewDecodeError(body, err)
	}

	return trading.Response{Value: v}, nil
}

func limitParams(market string, quantity, rate decimal.Decimal) params {
	return params{}.
		add("market", market).
		add("quantity", quantity.String()).
		add("rate", rate.String())
}

type param struct {
	key   string
	value string
}

// params keeps insertion order, unlike url.Values whose Encode sorts by key.
type params []param

func (p params) add(key, value string) params {
	return append(p, param{key: key, value: value})
}

func (p params) addOptional(key, value string) params {
	if value == "" {
		return p
	}

	return p.add(key, value)
}

func (p params) encode() string {
	parts := make([]string, 0, len(p))
	for _, kv := range p {
		parts = append(parts, url.QueryEscape(kv.key)+"="+url.QueryEscape(kv.value))
	}

	return strings.Join(parts, "&")
}
