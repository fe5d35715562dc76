package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const (
	logName   = "≪sandbox≫"
	APIPrefix = "/api/v1.1"
)

var logger = log.New(log.Writer(), fmt.Sprintf("%-17s ", logName), log.Ldate|log.Ltime|log.Lmsgprefix)

// Config seeds the sandbox. Markets maps a market name such as "BTC-LTC" to
// its last traded rate; Balances maps a currency to its available amount.
type Config struct {
	APIKey    string
	APISecret string
	Markets   map[string]decimal.Decimal
	Balances  map[string]decimal.Decimal
}

// DefaultConfig returns a small book of markets and funded balances for the
// given credentials.
func DefaultConfig(apiKey, apiSecret string) Config {
	return Config{
		APIKey:    apiKey,
		APISecret: apiSecret,
		Markets: map[string]decimal.Decimal{
			"BTC-LTC": decimal.RequireFromString("0.0123"),
			"BTC-ETH": decimal.RequireFromString("0.0345"),
			"USD-BTC": decimal.RequireFromString("9500"),
		},
		Balances: map[string]decimal.Decimal{
			"BTC": decimal.NewFromInt(2),
			"LTC": decimal.NewFromInt(100),
			"USD": decimal.NewFromInt(10000),
		},
	}
}

type Sandbox struct {
	server   *http.Server
	listener net.Listener
}

func NewSandbox(listener net.Listener, config Config) *Sandbox {
	return &Sandbox{
		server: &http.Server{
			Handler:           NewRouter(config),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
	}
}

// NewRouter returns the v1.1 API routes backed by a fresh in-memory exchange.
func NewRouter(config Config) http.Handler {
	h := newHandler(config)

	r := mux.NewRouter()
	api := r.PathPrefix(APIPrefix).Subrouter()

	public := api.PathPrefix("/public").Subrouter()
	public.HandleFunc("/getmarkets", h.getMarkets).Methods(http.MethodGet)
	public.HandleFunc("/getcurrencies", h.getCurrencies).Methods(http.MethodGet)
	public.HandleFunc("/getticker", h.getTicker).Methods(http.MethodGet)
	public.HandleFunc("/getmarketsummaries", h.getMarketSummaries).Methods(http.MethodGet)
	public.HandleFunc("/getmarketsummary", h.getMarketSummary).Methods(http.MethodGet)
	public.HandleFunc("/getorderbook", h.getOrderBook).Methods(http.MethodGet)
	public.HandleFunc("/getmarkethistory", h.getMarketHistory).Methods(http.MethodGet)

	market := api.PathPrefix("/market").Subrouter()
	market.Use(h.authenticate)
	market.HandleFunc("/buylimit", h.buyLimit).Methods(http.MethodGet)
	market.HandleFunc("/selllimit", h.sellLimit).Methods(http.MethodGet)
	market.HandleFunc("/cancel", h.cancel).Methods(http.MethodGet)
	market.HandleFunc("/getopenorders", h.getOpenOrders).Methods(http.MethodGet)

	account := api.PathPrefix("/account").Subrouter()
	account.Use(h.authenticate)
	account.HandleFunc("/getbalances", h.getBalances).Methods(http.MethodGet)
	account.HandleFunc("/getbalance", h.getBalance).Methods(http.MethodGet)
	account.HandleFunc("/getdepositaddress", h.getDepositAddress).Methods(http.MethodGet)
	account.HandleFunc("/withdraw", h.withdraw).Methods(http.MethodGet)
	account.HandleFunc("/getorder", h.getOrder).Methods(http.MethodGet)
	account.HandleFunc("/getorderhistory", h.getOrderHistory).Methods(http.MethodGet)
	account.HandleFunc("/getwithdrawalhistory", h.getWithdrawalHistory).Methods(http.MethodGet)
	account.HandleFunc("/getdeposithistory", h.getDepositHistory).Methods(http.MethodGet)

	r.Use(logRequests)

	return r
}

// Name identifies the server in CLI logs.
func (s *Sandbox) Name() string {
	return "sandbox"
}

// Serve blocks until the listener fails or ctx is done. On cancellation it
// returns only after in-flight requests have drained.
func (s *Sandbox) Serve(ctx context.Context) error {
	logger.Printf("Listening on %s.", s.listener.Addr())

	served := make(chan error, 1)
	go func() {
		served <- s.server.Serve(s.listener)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	shutdownErr := s.Shutdown(shutdownCtx)

	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return shutdownErr
}

func (s *Sandbox) Shutdown(ctx context.Context) error {
	logger.Printf("Stopping...")

	return s.server.Shutdown(ctx)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
