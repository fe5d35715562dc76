package trading

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type Client interface {
	GetMarkets() (Response, error)
	GetCurrencies() (Response, error)
	GetTicker(market string) (Response, error)
	GetMarketSummaries() (Response, error)
	GetMarketSummary(market string) (Response, error)
	GetOrderBook(market, bookType string, depth ...int) (Response, error)
	GetMarketHistory(market string) (Response, error)

	BuyLimit(market string, quantity, rate decimal.Decimal) (Response, error)
	SellLimit(market string, quantity, rate decimal.Decimal) (Response, error)
	Cancel(orderID string) (Response, error)
	GetOpenOrders(market string) (Response, error)

	GetBalances() (Response, error)
	GetBalance(currency string) (Response, error)
	GetDepositAddress(currency string) (Response, error)
	Withdraw(currency string, quantity decimal.Decimal, address, paymentID string) (Response, error)
	GetOrder(orderID string) (Response, error)
	GetOrderHistory(market string) (Response, error)
	GetWithdrawalHistory(currency string) (Response, error)
	GetDepositHistory(currency string) (Response, error)
}

// Response is a decoded exchange reply. Its shape is endpoint specific, so
// Value holds whatever the body decoded to: map[string]interface{},
// []interface{}, string, json.Number, bool or nil.
type Response struct {
	Value interface{}
}

// Success reports the envelope's success flag. It is false when the body is
// not an envelope.
func (r Response) Success() bool {
	success, _ := r.field("success").(bool)
	return success
}

func (r Response) Message() string {
	message, _ := r.field("message").(string)
	return message
}

// Result returns the envelope payload, or nil when absent.
func (r Response) Result() interface{} {
	return r.field("result")
}

func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Value)
}

func (r Response) field(name string) interface{} {
	obj, ok := r.Value.(map[string]interface{})
	if !ok {
		return nil
	}

	return obj[name]
}
