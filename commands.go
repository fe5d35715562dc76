package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"bittrex-client/trading"
)

type command struct {
	usage   string
	minArgs int
	maxArgs int
	run     func(c trading.Client, args []string) (trading.Response, error)
}

var commands = map[string]command{
	"markets": {"markets", 0, 0, func(c trading.Client, _ []string) (trading.Response, error) {
		return c.GetMarkets()
	}},
	"currencies": {"currencies", 0, 0, func(c trading.Client, _ []string) (trading.Response, error) {
		return c.GetCurrencies()
	}},
	"ticker": {"ticker MARKET", 1, 1, func(c trading.Client, args []string) (trading.Response, error) {
		return c.GetTicker(args[0])
	}},
	"summaries": {"summaries", 0, 0, func(c trading.Client, _ []string) (trading.Response, error) {
		return c.GetMarketSummaries()
	}},
	"summary": {"summary MARKET", 1, 1, func(c trading.Client, args []string) (trading.Response, error) {
		return c.GetMarketSummary(args[0])
	}},
	"orderbook": {"orderbook MARKET buy|sell|both [DEPTH]", 2, 3, runOrderBook},
	"history": {"history MARKET", 1, 1, func(c trading.Client, args []string) (trading.Response, error) {
		return c.GetMarketHistory(args[0])
	}},
	"buy":  {"buy MARKET QUANTITY RATE", 3, 3, runLimit(trading.Client.BuyLimit)},
	"sell": {"sell MARKET QUANTITY RATE", 3, 3, runLimit(trading.Client.SellLimit)},
	"cancel": {"cancel UUID", 1, 1, func(c trading.Client, args []string) (trading.Response, error) {
		return c.Cancel(args[0])
	}},
	"openorders": {"openorders [MARKET]", 0, 1, func(c trading.Client, args []string) (trading.Response, error) {
		return c.GetOpenOrders(optional(args, 0))
	}},
	"balances": {"balances", 0, 0, func(c trading.Client, _ []string) (trading.Response, error) {
		return c.GetBalances()
	}},
	"balance": {"balance CURRENCY", 1, 1, func(c trading.Client, args []string) (trading.Response, error) {
		return c.GetBalance(args[0])
	}},
	"address": {"address CURRENCY", 1, 1, func(c trading.Client, args []string) (trading.Response, error) {
		return c.GetDepositAddress(args[0])
	}},
	"withdraw": {"withdraw CURRENCY QUANTITY ADDRESS [PAYMENTID]", 3, 4, runWithdraw},
	"order": {"order UUID", 1, 1, func(c trading.Client, args []string) (trading.Response, error) {
		return c.GetOrder(args[0])
	}},
	"orderhistory": {"orderhistory [MARKET]", 0, 1, func(c trading.Client, args []string) (trading.Response, error) {
		return c.GetOrderHistory(optional(args, 0))
	}},
	"withdrawals": {"withdrawals [CURRENCY]", 0, 1, func(c trading.Client, args []string) (trading.Response, error) {
		return c.GetWithdrawalHistory(optional(args, 0))
	}},
	"deposits": {"deposits [CURRENCY]", 0, 1, func(c trading.Client, args []string) (trading.Response, error) {
		return c.GetDepositHistory(optional(args, 0))
	}},
}

// runCommand checks the argument count for name and calls it.
func runCommand(c trading.Client, name string, args []string) (trading.Response, error) {
	cmd, ok := commands[name]
	if !ok {
		return trading.Response{}, fmt.Errorf("unknown command %q", name)
	}

	if len(args) < cmd.minArgs || len(args) > cmd.maxArgs {
		return trading.Response{}, fmt.Errorf("usage: %s", cmd.usage)
	}

	return cmd.run(c, args)
}

func usages() []string {
	out := make([]string, 0, len(commands))
	for _, cmd := range commands {
		out = append(out, cmd.usage)
	}
	sort.Strings(out)

	return out
}

func runOrderBook(c trading.Client, args []string) (trading.Response, error) {
	if len(args) == 2 {
		return c.GetOrderBook(args[0], args[1])
	}

	depth, err := strconv.Atoi(args[2])
	if err != nil {
		return trading.Response{}, fmt.Errorf("parse depth %q: %w", args[2], err)
	}

	return c.GetOrderBook(args[0], args[1], depth)
}

func runLimit(
	place func(trading.Client, string, decimal.Decimal, decimal.Decimal) (trading.Response, error),
) func(trading.Client, []string) (trading.Response, error) {
	return func(c trading.Client, args []string) (trading.Response, error) {
		quantity, err := decimal.NewFromString(args[1])
		if err != nil {
			return trading.Response{}, fmt.Errorf("parse quantity %q: %w", args[1], err)
		}

		rate, err := decimal.NewFromString(args[2])
		if err != nil {
			return trading.Response{}, fmt.Errorf("parse rate %q: %w", args[2], err)
		}

		return place(c, args[0], quantity, rate)
	}
}

func runWithdraw(c trading.Client, args []string) (trading.Response, error) {
	quantity, err := decimal.NewFromString(args[1])
	if err != nil {
		return trading.Response{}, fmt.Errorf("parse quantity %q: %w", args[1], err)
	}

	return c.Withdraw(args[0], quantity, args[2], optional(args, 3))
}

func optional(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}

	return ""
}
