package bittrex

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bittrex-client/sandbox"
	"bittrex-client/trading"
)

const (
	testKey    = "key"
	testSecret = "secret"
	testNonce  = 1700000000
)

type captured struct {
	mu       sync.Mutex
	hits     int
	path     string
	rawQuery string
	sign     string
}

func (c *captured) snapshot() (int, string, string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hits, c.path, c.rawQuery, c.sign
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *captured) {
	t.Helper()

	capt := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capt.mu.Lock()
		capt.hits++
		capt.path = r.URL.Path
		capt.rawQuery = r.URL.RawQuery
		capt.sign = r.Header.Get(SignatureHeader)
		capt.mu.Unlock()

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv, capt
}

func newTestClient(baseURL string) *client {
	c := NewClient(Config{
		URL:       baseURL + "/api/v1.1/",
		APIKey:    testKey,
		APISecret: testSecret,
	}, nil).(*client)
	c.now = func() time.Time { return time.Unix(testNonce, 0) }

	return c
}

func decodeFixture(t *testing.T, body string) interface{} {
	t.Helper()

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		t.Fatal(err)
	}

	return v
}

func TestSign(t *testing.T) {
	uri := "https://bittrex.com/api/v1.1/public/getticker?apikey=key&nonce=1700000000&market=BTC-LTC"
	want := "7a4c87309244ff33d26fbfe6ebf8d25210be6ccf6729080ee62e33e133852e4db653857dc545109b9bf7dcab19ce0c005f09c1a02a2b45b936c4b47b48a158c0"

	if got := Sign(uri, testSecret); got != want {
		t.Fatalf("got signature %s, want %s", got, want)
	}

	if Sign(uri, testSecret) != Sign(uri, testSecret) {
		t.Fatal("signature is not deterministic")
	}

	if Sign(uri, "other") == want {
		t.Fatal("signature does not depend on the secret")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{APIKey: testKey, APISecret: testSecret}, nil).(*client)

	if c.config.URL != DefaultURL {
		t.Errorf("got URL %s, want %s", c.config.URL, DefaultURL)
	}

	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("got timeout %s, want %s", c.httpClient.Timeout, DefaultTimeout)
	}
}

func TestClient_GetTicker(t *testing.T) {
	body := `{"success":true,"result":{"Last":0.0123}}`
	srv, capt := newServer(t, http.StatusOK, body)
	c := newTestClient(srv.URL)

	resp, err := c.GetTicker("BTC-LTC")
	if err != nil {
		t.Fatal(err)
	}

	_, path, rawQuery, sign := capt.snapshot()

	if path != "/api/v1.1/public/getticker" {
		t.Errorf("got path %s", path)
	}

	wantQuery := "apikey=key&nonce=1700000000&market=BTC-LTC"
	if rawQuery != wantQuery {
		t.Errorf("got query %s, want %s", rawQuery, wantQuery)
	}

	if want := Sign(srv.URL+path+"?"+wantQuery, testSecret); sign != want {
		t.Errorf("got apisign %s, want %s", sign, want)
	}

	if !reflect.DeepEqual(resp.Value, decodeFixture(t, body)) {
		t.Errorf("got %#v", resp.Value)
	}

	if !resp.Success() {
		t.Error("expected success")
	}

	result, _ := resp.Result().(map[string]interface{})
	if result["Last"] != json.Number("0.0123") {
		t.Errorf("got Last %v", result["Last"])
	}
}

func TestClient_Endpoints(t *testing.T) {
	dec := decimal.RequireFromString
	orderID := uuid.NewString()

	cases := []struct {
		name  string
		call  func(trading.Client) (trading.Response, error)
		path  string
		query string
	}{
		{"GetMarkets", func(c trading.Client) (trading.Response, error) { return c.GetMarkets() },
			"public/getmarkets", ""},
		{"GetCurrencies", func(c trading.Client) (trading.Response, error) { return c.GetCurrencies() },
			"public/getcurrencies", ""},
		{"GetMarketSummaries", func(c trading.Client) (trading.Response, error) { return c.GetMarketSummaries() },
			"public/getmarketsummaries", ""},
		{"GetMarketSummary", func(c trading.Client) (trading.Response, error) { return c.GetMarketSummary("BTC-LTC") },
			"public/getmarketsummary", "&market=BTC-LTC"},
		{"GetOrderBook", func(c trading.Client) (trading.Response, error) { return c.GetOrderBook("BTC-LTC", "both") },
			"public/getorderbook", "&market=BTC-LTC&type=both&depth=20"},
		{"GetOrderBookDepth", func(c trading.Client) (trading.Response, error) { return c.GetOrderBook("BTC-LTC", "buy", 5) },
			"public/getorderbook", "&market=BTC-LTC&type=buy&depth=5"},
		{"GetOrderBookZeroDepth", func(c trading.Client) (trading.Response, error) { return c.GetOrderBook("BTC-LTC", "sell", 0) },
			"public/getorderbook", "&market=BTC-LTC&type=sell&depth=0"},
		{"GetMarketHistory", func(c trading.Client) (trading.Response, error) { return c.GetMarketHistory("BTC-LTC") },
			"public/getmarkethistory", "&market=BTC-LTC"},
		{"BuyLimit", func(c trading.Client) (trading.Response, error) {
			return c.BuyLimit("BTC-LTC", dec("1.5"), dec("0.0123"))
		}, "market/buylimit", "&market=BTC-LTC&quantity=1.5&rate=0.0123"},
		{"SellLimit", func(c trading.Client) (trading.Response, error) {
			return c.SellLimit("BTC-LTC", dec("2"), dec("0.02"))
		}, "market/selllimit", "&market=BTC-LTC&quantity=2&rate=0.02"},
		{"Cancel", func(c trading.Client) (trading.Response, error) { return c.Cancel(orderID) },
			"market/cancel", "&uuid=" + orderID},
		{"GetOpenOrders", func(c trading.Client) (trading.Response, error) { return c.GetOpenOrders("") },
			"market/getopenorders", ""},
		{"GetOpenOrdersMarket", func(c trading.Client) (trading.Response, error) { return c.GetOpenOrders("BTC-LTC") },
			"market/getopenorders", "&market=BTC-LTC"},
		{"GetBalances", func(c trading.Client) (trading.Response, error) { return c.GetBalances() },
			"account/getbalances", ""},
		{"GetBalance", func(c trading.Client) (trading.Response, error) { return c.GetBalance("BTC") },
			"account/getbalance", "&currency=BTC"},
		{"GetDepositAddress", func(c trading.Client) (trading.Response, error) { return c.GetDepositAddress("BTC") },
			"account/getdepositaddress", "&currency=BTC"},
		{"Withdraw", func(c trading.Client) (trading.Response, error) {
			return c.Withdraw("BTC", dec("0.25"), "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", "")
		}, "account/withdraw", "&currency=BTC&quantity=0.25&address=1BoatSLRHtKNngkdXEeobR76b53LETtpyT"},
		{"WithdrawPaymentID", func(c trading.Client) (trading.Response, error) {
			return c.Withdraw("XRP", dec("10"), "rAddr", "memo 1")
		}, "account/withdraw", "&currency=XRP&quantity=10&address=rAddr&paymentid=memo+1"},
		{"GetOrder", func(c trading.Client) (trading.Response, error) { return c.GetOrder(orderID) },
			"account/getorder", "&uuid=" + orderID},
		{"GetOrderHistory", func(c trading.Client) (trading.Response, error) { return c.GetOrderHistory("") },
			"account/getorderhistory", ""},
		{"GetOrderHistoryMarket", func(c trading.Client) (trading.Response, error) { return c.GetOrderHistory("BTC-LTC") },
			"account/getorderhistory", "&market=BTC-LTC"},
		{"GetWithdrawalHistory", func(c trading.Client) (trading.Response, error) { return c.GetWithdrawalHistory("BTC") },
			"account/getwithdrawalhistory", "&currency=BTC"},
		{"GetWithdrawalHistoryAll", func(c trading.Client) (trading.Response, error) { return c.GetWithdrawalHistory("") },
			"account/getwithdrawalhistory", ""},
		{"GetDepositHistory", func(c trading.Client) (trading.Response, error) { return c.GetDepositHistory("LTC") },
			"account/getdeposithistory", "&currency=LTC"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, capt := newServer(t, http.StatusOK, `{"success":true,"message":"","result":null}`)

			if _, err := tc.call(newTestClient(srv.URL)); err != nil {
				t.Fatal(err)
			}

			hits, path, rawQuery, sign := capt.snapshot()

			if hits != 1 {
				t.Errorf("got %d requests, want 1", hits)
			}

			if want := "/api/v1.1/" + tc.path; path != want {
				t.Errorf("got path %s, want %s", path, want)
			}

			wantQuery := "apikey=key&nonce=1700000000" + tc.query
			if rawQuery != wantQuery {
				t.Errorf("got query %s, want %s", rawQuery, wantQuery)
			}

			if want := Sign(srv.URL+path+"?"+wantQuery, testSecret); sign != want {
				t.Errorf("got apisign %s, want %s", sign, want)
			}
		})
	}
}

func TestClient_NonceChangesBetweenCalls(t *testing.T) {
	srv, capt := newServer(t, http.StatusOK, `{"success":true,"result":[]}`)
	c := newTestClient(srv.URL)

	nonce := int64(testNonce)
	c.now = func() time.Time {
		nonce++
		return time.Unix(nonce, 0)
	}

	if _, err := c.GetMarkets(); err != nil {
		t.Fatal(err)
	}
	_, firstPath, firstQuery, firstSign := capt.snapshot()

	if _, err := c.GetMarkets(); err != nil {
		t.Fatal(err)
	}
	hits, secondPath, secondQuery, secondSign := capt.snapshot()

	if hits != 2 {
		t.Fatalf("got %d requests, want 2", hits)
	}

	if firstPath != secondPath {
		t.Errorf("paths differ: %s vs %s", firstPath, secondPath)
	}

	if firstQuery != "apikey=key&nonce=1700000001" || secondQuery != "apikey=key&nonce=1700000002" {
		t.Errorf("got queries %s and %s", firstQuery, secondQuery)
	}

	if firstSign == secondSign {
		t.Error("signatures should differ when the nonce differs")
	}
}

func TestClient_ApplicationFailureIsData(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, `{"success":false,"message":"INVALID_MARKET","result":null}`)

	resp, err := newTestClient(srv.URL).GetTicker("BTC-NOPE")
	if err != nil {
		t.Fatal(err)
	}

	if resp.Success() || resp.Message() != "INVALID_MARKET" || resp.Result() != nil {
		t.Errorf("got %#v", resp.Value)
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	resp, err := newTestClient(baseURL).GetMarkets()
	if err == nil {
		t.Fatal("expected an error")
	}

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("got %T, want *TransportError", err)
	}

	if transportErr.StatusCode != 0 || transportErr.Err == nil {
		t.Errorf("got %#v", transportErr)
	}

	if resp.Value != nil {
		t.Errorf("got partial result %#v", resp.Value)
	}
}

func TestClient_MalformedURL(t *testing.T) {
	c := NewClient(Config{URL: "http://[::1/api/v1.1/", APIKey: testKey, APISecret: testSecret}, nil)

	resp, err := c.GetMarkets()
	if err == nil {
		t.Fatal("expected an error")
	}

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("got %T, want *TransportError", err)
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		t.Errorf("got %#v, want no *DecodeError", decodeErr)
	}

	if transportErr.StatusCode != 0 || transportErr.Err == nil {
		t.Errorf("got %#v", transportErr)
	}

	if resp.Value != nil {
		t.Errorf("got partial result %#v", resp.Value)
	}
}

func TestClient_ConcurrentUse(t *testing.T) {
	srv, capt := newServer(t, http.StatusOK, `{"success":true,"message":"","result":{"Bid":1,"Ask":2,"Last":1.5}}`)
	c := newTestClient(srv.URL)

	const workers = 32

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			resp, err := c.GetTicker("BTC-LTC")
			if err == nil && !resp.Success() {
				err = errors.New(resp.Message())
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}

	if hits, _, _, _ := capt.snapshot(); hits != workers {
		t.Errorf("got %d requests, want %d", hits, workers)
	}
}

func TestClient_HTTPStatusNotRetried(t *testing.T) {
	srv, capt := newServer(t, http.StatusServiceUnavailable, `upstream down`)

	_, err := newTestClient(srv.URL).GetBalances()

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("got %v, want *TransportError", err)
	}

	if transportErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("got status %d", transportErr.StatusCode)
	}

	if string(transportErr.Body) != "upstream down" {
		t.Errorf("got body %q", transportErr.Body)
	}

	if hits, _, _, _ := capt.snapshot(); hits != 1 {
		t.Errorf("got %d requests, want 1", hits)
	}
}

func TestClient_MalformedJSON(t *testing.T) {
	for _, body := range []string{`not json`, ``, `{"success":true} trailing`} {
		srv, _ := newServer(t, http.StatusOK, body)

		_, err := newTestClient(srv.URL).GetMarkets()

		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("body %q: got %v, want *DecodeError", body, err)
		}

		var transportErr *TransportError
		if errors.As(err, &transportErr) {
			t.Fatalf("body %q: decode error must not be a transport error", body)
		}

		if string(decodeErr.Body) != body {
			t.Errorf("got body %q, want %q", decodeErr.Body, body)
		}
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{
		URL:       srv.URL + "/api/v1.1/",
		APIKey:    testKey,
		APISecret: testSecret,
		Timeout:   50 * time.Millisecond,
	}, nil)

	_, err := c.GetCurrencies()

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("got %v, want *TransportError", err)
	}

	if !transportErr.Timeout() {
		t.Errorf("expected a timeout, got %v", transportErr)
	}
}

func TestClient_Sandbox(t *testing.T) {
	srv := httptest.NewServer(sandbox.NewRouter(sandbox.DefaultConfig(testKey, testSecret)))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL + "/api/v1.1/", APIKey: testKey, APISecret: testSecret}, nil)

	placed, err := c.BuyLimit("BTC-LTC", decimal.NewFromInt(10), decimal.RequireFromString("0.01"))
	if err != nil {
		t.Fatal(err)
	}
	if !placed.Success() {
		t.Fatalf("buy failed: %s", placed.Message())
	}

	orderID, _ := placed.Result().(map[string]interface{})["uuid"].(string)
	if _, err := uuid.Parse(orderID); err != nil {
		t.Fatalf("got order id %q: %s", orderID, err)
	}

	order, err := c.GetOrder(orderID)
	if err != nil {
		t.Fatal(err)
	}
	if isOpen, _ := order.Result().(map[string]interface{})["IsOpen"].(bool); !isOpen {
		t.Errorf("order should be open: %#v", order.Value)
	}

	cancelled, err := c.Cancel(orderID)
	if err != nil {
		t.Fatal(err)
	}
	if !cancelled.Success() {
		t.Fatalf("cancel failed: %s", cancelled.Message())
	}

	forged := NewClient(Config{URL: srv.URL + "/api/v1.1/", APIKey: testKey, APISecret: "wrong"}, nil)

	resp, err := forged.GetBalances()
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success() || resp.Message() != "INVALID_SIGNATURE" {
		t.Errorf("got %#v", resp.Value)
	}
}
