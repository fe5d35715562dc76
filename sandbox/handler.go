package sandbox

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const timeLayout = "2006-01-02T15:04:05.000"

const (
	limitBuy  = "LIMIT_BUY"
	limitSell = "LIMIT_SELL"
)

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Result  interface{} `json:"result"`
}

type order struct {
	id       string
	market   string
	kind     string
	quantity decimal.Decimal
	rate     decimal.Decimal
	opened   time.Time
	closed   time.Time
	open     bool
}

type withdrawal struct {
	id        string
	currency  string
	quantity  decimal.Decimal
	address   string
	paymentID string
	opened    time.Time
}

type handler struct {
	config Config
	now    func() time.Time

	mu          sync.Mutex
	markets     map[string]decimal.Decimal
	balances    map[string]decimal.Decimal
	orders      map[string]*order
	orderIDs    []string
	withdrawals []withdrawal
}

func newHandler(config Config) *handler {
	h := &handler{
		config:   config,
		now:      time.Now,
		markets:  make(map[string]decimal.Decimal, len(config.Markets)),
		balances: make(map[string]decimal.Decimal, len(config.Balances)),
		orders:   make(map[string]*order),
	}

	for name, last := range config.Markets {
		h.markets[name] = last
	}
	for currency, amount := range config.Balances {
		h.balances[currency] = amount
	}

	return h
}

// authenticate rejects requests whose apisign header is not the HMAC-SHA512
// of the full request URL under the configured secret.
func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		switch {
		case q.Get("apikey") == "":
			writeFailure(w, "APIKEY_NOT_PROVIDED")
			return
		case q.Get("apikey") != h.config.APIKey:
			writeFailure(w, "APIKEY_INVALID")
			return
		}

		if _, err := strconv.ParseInt(q.Get("nonce"), 10, 64); err != nil {
			writeFailure(w, "NONCE_NOT_PROVIDED")
			return
		}

		sign := r.Header.Get("apisign")
		if sign == "" {
			writeFailure(w, "APISIGN_NOT_PROVIDED")
			return
		}

		mac := hmac.New(sha512.New, []byte(h.config.APISecret))
		mac.Write([]byte(requestURL(r)))
		if !hmac.Equal([]byte(sign), []byte(hex.EncodeToString(mac.Sum(nil)))) {
			writeFailure(w, "INVALID_SIGNATURE")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *handler) getMarkets(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make([]map[string]interface{}, 0, len(h.markets))
	for _, name := range h.marketNames() {
		base, currency := splitMarket(name)
		result = append(result, map[string]interface{}{
			"MarketName":     name,
			"BaseCurrency":   base,
			"MarketCurrency": currency,
			"IsActive":       true,
		})
	}

	writeResult(w, result)
}

func (h *handler) getCurrencies(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool)
	for _, name := range h.marketNames() {
		base, currency := splitMarket(name)
		seen[base] = true
		seen[currency] = true
	}
	for currency := range h.balances {
		seen[currency] = true
	}

	result := make([]map[string]interface{}, 0, len(seen))
	for _, currency := range sortedKeys(seen) {
		result = append(result, map[string]interface{}{
			"Currency": currency,
			"IsActive": true,
		})
	}

	writeResult(w, result)
}

func (h *handler) getTicker(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name, ok := h.requireMarket(w, r)
	if !ok {
		return
	}

	// Each side quotes its best resting rate, or the last rate when empty.
	last := h.markets[name]
	bid, ask := last, last
	hasBid, hasAsk := false, false
	for _, o := range h.openOrders(name) {
		switch {
		case o.kind == limitBuy && (!hasBid || o.rate.GreaterThan(bid)):
			bid, hasBid = o.rate, true
		case o.kind == limitSell && (!hasAsk || o.rate.LessThan(ask)):
			ask, hasAsk = o.rate, true
		}
	}

	writeResult(w, map[string]interface{}{
		"Bid":  number(bid),
		"Ask":  number(ask),
		"Last": number(last),
	})
}

func (h *handler) getMarketSummaries(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make([]map[string]interface{}, 0, len(h.markets))
	for _, name := range h.marketNames() {
		result = append(result, h.summary(name))
	}

	writeResult(w, result)
}

func (h *handler) getMarketSummary(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name, ok := h.requireMarket(w, r)
	if !ok {
		return
	}

	writeResult(w, []map[string]interface{}{h.summary(name)})
}

func (h *handler) getOrderBook(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name, ok := h.requireMarket(w, r)
	if !ok {
		return
	}

	depth, err := strconv.Atoi(r.URL.Query().Get("depth"))
	if err != nil || depth < 0 {
		writeFailure(w, "DEPTH_INVALID")
		return
	}

	buy, sell := h.book(name, depth)

	switch r.URL.Query().Get("type") {
	case "buy":
		writeResult(w, buy)
	case "sell":
		writeResult(w, sell)
	case "both":
		writeResult(w, map[string]interface{}{"buy": buy, "sell": sell})
	default:
		writeFailure(w, "TYPE_INVALID")
	}
}

// getMarketHistory is always empty: the sandbox never matches orders.
func (h *handler) getMarketHistory(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.requireMarket(w, r); !ok {
		return
	}

	writeResult(w, []interface{}{})
}

func (h *handler) buyLimit(w http.ResponseWriter, r *http.Request) {
	h.placeLimit(w, r, limitBuy)
}

func (h *handler) sellLimit(w http.ResponseWriter, r *http.Request) {
	h.placeLimit(w, r, limitSell)
}

// placeLimit reserves the funds an order needs and rests it on the book.
func (h *handler) placeLimit(w http.ResponseWriter, r *http.Request, kind string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name, ok := h.requireMarket(w, r)
	if !ok {
		return
	}

	quantity, err := decimal.NewFromString(r.URL.Query().Get("quantity"))
	if err != nil || !quantity.IsPositive() {
		writeFailure(w, "QUANTITY_INVALID")
		return
	}

	rate, err := decimal.NewFromString(r.URL.Query().Get("rate"))
	if err != nil || !rate.IsPositive() {
		writeFailure(w, "RATE_INVALID")
		return
	}

	currency, cost := reservation(name, kind, quantity, rate)
	if h.balances[currency].LessThan(cost) {
		writeFailure(w, "INSUFFICIENT_FUNDS")
		return
	}
	h.balances[currency] = h.balances[currency].Sub(cost)

	o := &order{
		id:       uuid.NewString(),
		market:   name,
		kind:     kind,
		quantity: quantity,
		rate:     rate,
		opened:   h.now(),
		open:     true,
	}
	h.orders[o.id] = o
	h.orderIDs = append(h.orderIDs, o.id)

	writeResult(w, map[string]interface{}{"uuid": o.id})
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	o, ok := h.requireOrder(w, r)
	if !ok {
		return
	}

	if !o.open {
		writeFailure(w, "ORDER_NOT_OPEN")
		return
	}

	currency, cost := reservation(o.market, o.kind, o.quantity, o.rate)
	h.balances[currency] = h.balances[currency].Add(cost)
	o.open = false
	o.closed = h.now()

	writeResult(w, nil)
}

func (h *handler) getOpenOrders(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	market := r.URL.Query().Get("market")

	result := make([]map[string]interface{}, 0)
	for _, o := range h.openOrders(market) {
		result = append(result, o.view())
	}

	writeResult(w, result)
}

func (h *handler) getBalances(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make([]map[string]interface{}, 0, len(h.balances))
	for _, currency := range sortedKeys(h.balances) {
		result = append(result, h.balance(currency))
	}

	writeResult(w, result)
}

func (h *handler) getBalance(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	currency, ok := requireCurrency(w, r)
	if !ok {
		return
	}

	writeResult(w, h.balance(currency))
}

// getDepositAddress derives a stable address per key and currency.
func (h *handler) getDepositAddress(w http.ResponseWriter, r *http.Request) {
	currency, ok := requireCurrency(w, r)
	if !ok {
		return
	}

	address := uuid.NewSHA1(uuid.NameSpaceURL, []byte(h.config.APIKey+"/"+currency)).String()

	writeResult(w, map[string]interface{}{
		"Currency": currency,
		"Address":  strings.ReplaceAll(address, "-", ""),
	})
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	currency, ok := requireCurrency(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()

	quantity, err := decimal.NewFromString(q.Get("quantity"))
	if err != nil || !quantity.IsPositive() {
		writeFailure(w, "QUANTITY_INVALID")
		return
	}

	if q.Get("address") == "" {
		writeFailure(w, "ADDRESS_NOT_PROVIDED")
		return
	}

	if h.balances[currency].LessThan(quantity) {
		writeFailure(w, "INSUFFICIENT_FUNDS")
		return
	}
	h.balances[currency] = h.balances[currency].Sub(quantity)

	wd := withdrawal{
		id:        uuid.NewString(),
		currency:  currency,
		quantity:  quantity,
		address:   q.Get("address"),
		paymentID: q.Get("paymentid"),
		opened:    h.now(),
	}
	h.withdrawals = append(h.withdrawals, wd)

	writeResult(w, map[string]interface{}{"uuid": wd.id})
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	o, ok := h.requireOrder(w, r)
	if !ok {
		return
	}

	writeResult(w, o.view())
}

func (h *handler) getOrderHistory(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	market := r.URL.Query().Get("market")

	result := make([]map[string]interface{}, 0)
	for _, id := range h.orderIDs {
		o := h.orders[id]
		if o.open || (market != "" && o.market != market) {
			continue
		}
		result = append(result, o.view())
	}

	writeResult(w, result)
}

func (h *handler) getWithdrawalHistory(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	currency := r.URL.Query().Get("currency")

	result := make([]map[string]interface{}, 0)
	for _, wd := range h.withdrawals {
		if currency != "" && wd.currency != currency {
			continue
		}
		result = append(result, map[string]interface{}{
			"PaymentUuid": wd.id,
			"Currency":    wd.currency,
			"Amount":      number(wd.quantity),
			"Address":     wd.address,
			"PaymentId":   wd.paymentID,
			"Opened":      wd.opened.UTC().Format(timeLayout),
			"Authorized":  true,
		})
	}

	writeResult(w, result)
}

// getDepositHistory is always empty: funds only enter through Config.
func (h *handler) getDepositHistory(w http.ResponseWriter, r *http.Request) {
	writeResult(w, []interface{}{})
}

func (h *handler) requireMarket(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.URL.Query().Get("market")
	if name == "" {
		writeFailure(w, "MARKET_NOT_PROVIDED")
		return "", false
	}

	if _, ok := h.markets[name]; !ok {
		writeFailure(w, "INVALID_MARKET")
		return "", false
	}

	return name, true
}

func (h *handler) requireOrder(w http.ResponseWriter, r *http.Request) (*order, bool) {
	o, ok := h.orders[r.URL.Query().Get("uuid")]
	if !ok {
		writeFailure(w, "UUID_INVALID")
		return nil, false
	}

	return o, true
}

func requireCurrency(w http.ResponseWriter, r *http.Request) (string, bool) {
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		writeFailure(w, "CURRENCY_NOT_PROVIDED")
		return "", false
	}

	return currency, true
}

func (h *handler) marketNames() []string {
	return sortedKeys(h.markets)
}

// openOrders returns resting orders in placement order, for every market when
// market is empty.
func (h *handler) openOrders(market string) []*order {
	orders := make([]*order, 0)
	for _, id := range h.orderIDs {
		o := h.orders[id]
		if o.open && (market == "" || o.market == market) {
			orders = append(orders, o)
		}
	}

	return orders
}

func (h *handler) summary(name string) map[string]interface{} {
	buys, sells := 0, 0
	for _, o := range h.openOrders(name) {
		if o.kind == limitBuy {
			buys++
		} else {
			sells++
		}
	}

	return map[string]interface{}{
		"MarketName":     name,
		"Last":           number(h.markets[name]),
		"OpenBuyOrders":  buys,
		"OpenSellOrders": sells,
		"TimeStamp":      h.now().UTC().Format(timeLayout),
	}
}

// book aggregates open orders by rate, best rate first, keeping at most depth
// levels per side.
func (h *handler) book(name string, depth int) ([]map[string]interface{}, []map[string]interface{}) {
	levels := map[string]map[string]decimal.Decimal{
		limitBuy:  {},
		limitSell: {},
	}
	for _, o := range h.openOrders(name) {
		key := o.rate.String()
		levels[o.kind][key] = levels[o.kind][key].Add(o.quantity)
	}

	side := func(kind string, best func(a, b decimal.Decimal) bool) []map[string]interface{} {
		rates := make([]decimal.Decimal, 0, len(levels[kind]))
		for key := range levels[kind] {
			rates = append(rates, decimal.RequireFromString(key))
		}
		sort.Slice(rates, func(i, j int) bool { return best(rates[i], rates[j]) })

		if len(rates) > depth {
			rates = rates[:depth]
		}

		out := make([]map[string]interface{}, 0, len(rates))
		for _, rate := range rates {
			out = append(out, map[string]interface{}{
				"Quantity": number(levels[kind][rate.String()]),
				"Rate":     number(rate),
			})
		}
		return out
	}

	buy := side(limitBuy, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
	sell := side(limitSell, func(a, b decimal.Decimal) bool { return a.LessThan(b) })

	return buy, sell
}

// balance reports available funds plus whatever open orders hold in reserve.
func (h *handler) balance(currency string) map[string]interface{} {
	available := h.balances[currency]
	reserved := decimal.Zero
	for _, o := range h.openOrders("") {
		if c, cost := reservation(o.market, o.kind, o.quantity, o.rate); c == currency {
			reserved = reserved.Add(cost)
		}
	}

	return map[string]interface{}{
		"Currency":  currency,
		"Balance":   number(available.Add(reserved)),
		"Available": number(available),
		"Pending":   number(decimal.Zero),
	}
}

func (o *order) view() map[string]interface{} {
	view := map[string]interface{}{
		"OrderUuid":         o.id,
		"Exchange":          o.market,
		"OrderType":         o.kind,
		"Quantity":          number(o.quantity),
		"QuantityRemaining": number(o.quantity),
		"Limit":             number(o.rate),
		"Opened":            o.opened.UTC().Format(timeLayout),
		"Closed":            nil,
		"IsOpen":            o.open,
		"CancelInitiated":   !o.open,
	}
	if !o.open {
		view["Closed"] = o.closed.UTC().Format(timeLayout)
	}

	return view
}

// reservation is the currency and amount an order locks up: the base
// currency for buys, the market currency for sells.
func reservation(market, kind string, quantity, rate decimal.Decimal) (string, decimal.Decimal) {
	base, currency := splitMarket(market)
	if kind == limitBuy {
		return base, quantity.Mul(rate)
	}

	return currency, quantity
}

// splitMarket splits "BTC-LTC" into base "BTC" and market currency "LTC".
func splitMarket(name string) (string, string) {
	base, currency, _ := strings.Cut(name, "-")
	return base, currency
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// requestURL rebuilds the URL the client signed from the request line.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return scheme + "://" + r.Host + r.RequestURI
}

func writeResult(w http.ResponseWriter, result interface{}) {
	writeEnvelope(w, envelope{Success: true, Result: result})
}

// writeFailure answers 200 with success false, as the exchange does for
// request-level errors.
func writeFailure(w http.ResponseWriter, message string) {
	writeEnvelope(w, envelope{Success: false, Message: message})
}

func writeEnvelope(w http.ResponseWriter, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.Printf("Failed to write response. (Error: %s)", err)
	}
}
