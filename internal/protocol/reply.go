package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/xtrntr/venue/internal/models"
)

// Fixed reply texts
const (
	ReplyUnknownUser    = "Error! Unknown User"
	ReplyUnknownRequest = "Unknown request"
	ReplyNoOrders       = "No orders"
	ReplyBye            = "Bye"
)

// OrderAccepted is the reply to an accepted Buy or Sell.
func OrderAccepted(o models.Order) string {
	return fmt.Sprintf("-->Order to %s %s for %s apiece accepted (id %d)",
		o.Side, o.Volume, o.Price, o.ID)
}

// OrderCanceled is the reply to an accepted Cancel.
func OrderCanceled(o models.Order) string {
	return fmt.Sprintf("-->Cancel order to %s %s for %s apiece accepted (id %d)",
		o.Side, o.Volume, o.Price, o.ID)
}

func DepositAccepted(amt models.CurrencyAmount) string {
	return fmt.Sprintf("-->Deposit %s accepted", amt)
}

func WithdrawAccepted(amt models.CurrencyAmount) string {
	return fmt.Sprintf("-->Withdraw %s accepted", amt)
}

// Failure formats an error reply.
func Failure(reason string) string {
	return "Error! " + reason
}

// EncodeBalance renders a balance as a JSON object of currency to amount.
func EncodeBalance(balance map[string]float64) (string, error) {
	b, err := json.Marshal(balance)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeOrders renders the Orders listing: the "No orders" sentinel, or an
// object with a count and the orders keyed "1".."count".
func EncodeOrders(orders []models.Order) (string, error) {
	if len(orders) == 0 {
		return ReplyNoOrders, nil
	}
	listing := make(map[string]any, len(orders)+1)
	listing["count"] = len(orders)
	for i, o := range orders {
		listing[strconv.Itoa(i+1)] = OrderPayload{
			ID:     o.ID,
			Volume: o.Volume,
			Price:  o.Price,
			Type:   o.Side,
			Time:   o.CreatedAt.Unix(),
		}
	}
	b, err := json.Marshal(listing)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeOrders parses an Orders reply. The sentinel yields no orders.
func DecodeOrders(reply string) ([]OrderPayload, error) {
	if reply == ReplyNoOrders {
		return nil, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(reply), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var count int
	if err := json.Unmarshal(raw["count"], &count); err != nil {
		return nil, fmt.Errorf("%w: count: %v", ErrMalformedPayload, err)
	}
	out := make([]OrderPayload, 0, count)
	for i := 1; i <= count; i++ {
		var p OrderPayload
		if err := json.Unmarshal(raw[strconv.Itoa(i)], &p); err != nil {
			return nil, fmt.Errorf("%w: order %d: %v", ErrMalformedPayload, i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
