package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xtrntr/venue/internal/models"
)

var (
	ErrUnknownRequest   = errors.New("unknown request")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Kind is the request-type tag carried in ReqType.
type Kind string

const (
	KindSignIn   Kind = "SignIn"
	KindSignUp   Kind = "SignUp"
	KindBuy      Kind = "Buy"
	KindSell     Kind = "Sell"
	KindBalance  Kind = "Balance"
	KindDeposit  Kind = "Deposit"
	KindWithdraw Kind = "Withdraw"
	KindOrders   Kind = "Orders"
	KindCancel   Kind = "Cancel"
	KindExit     Kind = "Exit"
)

// Older clients send these tags for SignUp.
var kindAliases = map[string]Kind{
	"Registration": KindSignUp,
	"Register":     KindSignUp,
}

// Envelope is one message on the wire.
type Envelope struct {
	UserID  string          `json:"UserId"`
	ReqType string          `json:"ReqType"`
	Message json.RawMessage `json:"Message,omitempty"`
}

// Request is one decoded request variant.
type Request interface {
	Kind() Kind
}

type SignIn struct{ Name string }

type SignUp struct{ Name string }

// PlaceOrder is a Buy or Sell request. Time is the client's own timestamp and
// is informational only.
type PlaceOrder struct {
	Side   models.Side
	Volume models.CurrencyAmount
	Price  models.CurrencyAmount
	Time   int64
}

type Balance struct{}

type Deposit struct{ Amount models.CurrencyAmount }

type Withdraw struct{ Amount models.CurrencyAmount }

type Orders struct{}

// Cancel names an order by ID, or by its 1-based Index in the Orders
// listing. Exactly one of the two is set.
type Cancel struct {
	OrderID uint64
	Index   int
}

type Exit struct{}

func (SignIn) Kind() Kind   { return KindSignIn }
func (SignUp) Kind() Kind   { return KindSignUp }
func (Balance) Kind() Kind  { return KindBalance }
func (Deposit) Kind() Kind  { return KindDeposit }
func (Withdraw) Kind() Kind { return KindWithdraw }
func (Orders) Kind() Kind   { return KindOrders }
func (Cancel) Kind() Kind   { return KindCancel }
func (Exit) Kind() Kind     { return KindExit }

func (p PlaceOrder) Kind() Kind {
	if p.Side == models.SideSell {
		return KindSell
	}
	return KindBuy
}

// OrderPayload is the wire shape of an order.
type OrderPayload struct {
	ID     uint64                `json:"id,omitempty"`
	Volume models.CurrencyAmount `json:"volume"`
	Price  models.CurrencyAmount `json:"price"`
	Type   models.Side           `json:"type"`
	Time   int64                 `json:"time"`
}

type cancelPayload struct {
	ID    *uint64 `json:"id"`
	Index *int    `json:"index"`
}

// Decode parses one wire message into the requester identity and a request
// variant. Errors wrap ErrUnknownRequest or ErrMalformedPayload; the
// requester is returned whenever the envelope itself parsed.
func Decode(line []byte) (string, Request, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	kind := Kind(env.ReqType)
	if alias, ok := kindAliases[env.ReqType]; ok {
		kind = alias
	}

	var (
		req Request
		err error
	)
	switch kind {
	case KindSignIn:
		var name string
		name, err = decodeName(env.Message)
		req = SignIn{Name: name}
	case KindSignUp:
		var name string
		name, err = decodeName(env.Message)
		req = SignUp{Name: name}
	case KindBuy, KindSell:
		req, err = decodeOrder(kind, env.Message)
	case KindBalance:
		req = Balance{}
	case KindDeposit:
		var amt models.CurrencyAmount
		amt, err = decodeAmount(env.Message)
		req = Deposit{Amount: amt}
	case KindWithdraw:
		var amt models.CurrencyAmount
		amt, err = decodeAmount(env.Message)
		req = Withdraw{Amount: amt}
	case KindOrders:
		req = Orders{}
	case KindCancel:
		req, err = decodeCancel(env.Message)
	case KindExit:
		req = Exit{}
	default:
		return env.UserID, nil, fmt.Errorf("%w: %q", ErrUnknownRequest, env.ReqType)
	}
	if err != nil {
		return env.UserID, nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, kind, err)
	}
	return env.UserID, req, nil
}

// unwrap returns the JSON inside a string-encoded object or number payload,
// or raw as is.
func unwrap(raw json.RawMessage) []byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return []byte(s)
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil && json.Valid([]byte(s)) {
		return []byte(s)
	}
	return raw
}

func decodeName(raw json.RawMessage) (string, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", errors.New("name must be a string")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name cannot be empty")
	}
	return name, nil
}

func decodeOrder(kind Kind, raw json.RawMessage) (Request, error) {
	var p OrderPayload
	if err := strictObject(unwrap(raw), &p); err != nil {
		return nil, err
	}
	if p.Volume.Currency == "" || p.Price.Currency == "" {
		return nil, errors.New("volume and price need a currencyType")
	}
	side := models.SideBuy
	if kind == KindSell {
		side = models.SideSell
	}
	return PlaceOrder{Side: side, Volume: p.Volume, Price: p.Price, Time: p.Time}, nil
}

func decodeAmount(raw json.RawMessage) (models.CurrencyAmount, error) {
	var amt models.CurrencyAmount
	if err := strictObject(unwrap(raw), &amt); err != nil {
		return amt, err
	}
	if amt.Currency == "" {
		return amt, errors.New("currencyType is required")
	}
	return amt, nil
}

func decodeCancel(raw json.RawMessage) (Request, error) {
	body := unwrap(raw)
	var index int
	if err := json.Unmarshal(body, &index); err == nil {
		if index < 1 {
			return nil, errors.New("index must be at least 1")
		}
		return Cancel{Index: index}, nil
	}

	var p cancelPayload
	if err := strictObject(body, &p); err != nil {
		return nil, err
	}
	switch {
	case p.ID != nil && p.Index != nil:
		return nil, errors.New("give either id or index, not both")
	case p.ID != nil:
		if *p.ID == 0 {
			return nil, errors.New("id must be positive")
		}
		return Cancel{OrderID: *p.ID}, nil
	case p.Index != nil:
		if *p.Index < 1 {
			return nil, errors.New("index must be at least 1")
		}
		return Cancel{Index: *p.Index}, nil
	default:
		return nil, errors.New("id or index is required")
	}
}

// strictObject decodes a JSON object; null and non-object payloads fail.
func strictObject(body []byte, v any) error {
	if len(body) == 0 || body[0] != '{' {
		return errors.New("expected a JSON object")
	}
	return json.Unmarshal(body, v)
}
