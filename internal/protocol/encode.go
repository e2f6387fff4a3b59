package protocol

import (
	"encoding/json"
	"fmt"
)

// Encode builds the wire message for a request sent on behalf of userID.
func Encode(userID string, req Request) ([]byte, error) {
	var payload any
	switch r := req.(type) {
	case SignIn:
		payload = r.Name
	case SignUp:
		payload = r.Name
	case PlaceOrder:
		payload = OrderPayload{Volume: r.Volume, Price: r.Price, Type: r.Side, Time: r.Time}
	case Deposit:
		payload = r.Amount
	case Withdraw:
		payload = r.Amount
	case Cancel:
		if r.OrderID != 0 {
			payload = map[string]uint64{"id": r.OrderID}
		} else {
			payload = map[string]int{"index": r.Index}
		}
	case Balance, Orders, Exit:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownRequest, req)
	}

	env := Envelope{UserID: userID, ReqType: string(req.Kind())}
	if payload != nil {
		msg, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Message = msg
	}
	return json.Marshal(env)
}
