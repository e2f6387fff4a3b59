package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/venue/internal/models"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		expectUser string
		expectReq  Request
		expectErr  error
	}{
		{
			name:      "SignUp",
			line:      `{"UserId":"","ReqType":"SignUp","Message":"alice"}`,
			expectReq: SignUp{Name: "alice"},
		},
		{
			name:      "RegistrationAlias",
			line:      `{"ReqType":"Registration","Message":" bob "}`,
			expectReq: SignUp{Name: "bob"},
		},
		{
			name:      "SignIn",
			line:      `{"ReqType":"SignIn","Message":"alice"}`,
			expectReq: SignIn{Name: "alice"},
		},
		{
			name:       "Buy",
			line:       `{"UserId":"3","ReqType":"Buy","Message":{"volume":{"currencyType":"RU","value":10},"price":{"currencyType":"USD","value":5},"type":1,"time":1700000000}}`,
			expectUser: "3",
			expectReq: PlaceOrder{
				Side:   models.SideBuy,
				Volume: models.CurrencyAmount{Currency: "RU", Value: 10},
				Price:  models.CurrencyAmount{Currency: "USD", Value: 5},
				Time:   1700000000,
			},
		},
		{
			name:       "SellStringEncodedPayload",
			line:       `{"UserId":"1","ReqType":"Sell","Message":"{\"volume\":{\"currencyType\":\"RU\",\"value\":2},\"price\":{\"currencyType\":\"USD\",\"value\":3}}"}`,
			expectUser: "1",
			expectReq: PlaceOrder{
				Side:   models.SideSell,
				Volume: models.CurrencyAmount{Currency: "RU", Value: 2},
				Price:  models.CurrencyAmount{Currency: "USD", Value: 3},
			},
		},
		{
			name:       "TagDecidesSide",
			line:       `{"UserId":"1","ReqType":"Sell","Message":{"volume":{"currencyType":"RU","value":2},"price":{"currencyType":"USD","value":3},"type":1}}`,
			expectUser: "1",
			expectReq: PlaceOrder{
				Side:   models.SideSell,
				Volume: models.CurrencyAmount{Currency: "RU", Value: 2},
				Price:  models.CurrencyAmount{Currency: "USD", Value: 3},
			},
		},
		{
			name:       "Balance",
			line:       `{"UserId":"0","ReqType":"Balance","Message":""}`,
			expectUser: "0",
			expectReq:  Balance{},
		},
		{
			name:       "Deposit",
			line:       `{"UserId":"0","ReqType":"Deposit","Message":{"currencyType":"USD","value":100}}`,
			expectUser: "0",
			expectReq:  Deposit{Amount: models.CurrencyAmount{Currency: "USD", Value: 100}},
		},
		{
			name:       "Withdraw",
			line:       `{"UserId":"0","ReqType":"Withdraw","Message":{"currencyType":"RU","value":1.5}}`,
			expectUser: "0",
			expectReq:  Withdraw{Amount: models.CurrencyAmount{Currency: "RU", Value: 1.5}},
		},
		{
			name:       "Orders",
			line:       `{"UserId":"0","ReqType":"Orders"}`,
			expectUser: "0",
			expectReq:  Orders{},
		},
		{
			name:       "CancelByID",
			line:       `{"UserId":"0","ReqType":"Cancel","Message":{"id":7}}`,
			expectUser: "0",
			expectReq:  Cancel{OrderID: 7},
		},
		{
			name:       "CancelByIndexObject",
			line:       `{"UserId":"0","ReqType":"Cancel","Message":{"index":2}}`,
			expectUser: "0",
			expectReq:  Cancel{Index: 2},
		},
		{
			name:       "CancelByBareIndex",
			line:       `{"UserId":"0","ReqType":"Cancel","Message":1}`,
			expectUser: "0",
			expectReq:  Cancel{Index: 1},
		},
		{
			name:       "CancelByStringIndex",
			line:       `{"UserId":"0","ReqType":"Cancel","Message":"2"}`,
			expectUser: "0",
			expectReq:  Cancel{Index: 2},
		},
		{
			name:       "CancelByStringWord",
			line:       `{"UserId":"0","ReqType":"Cancel","Message":"two"}`,
			expectUser: "0",
			expectErr:  ErrMalformedPayload,
		},
		{
			name:      "Exit",
			line:      `{"ReqType":"Exit"}`,
			expectReq: Exit{},
		},
		{name: "NotJSON", line: `hello`, expectErr: ErrMalformedPayload},
		{name: "UnknownType", line: `{"UserId":"0","ReqType":"Teleport"}`, expectUser: "0", expectErr: ErrUnknownRequest},
		{name: "MissingType", line: `{"UserId":"0"}`, expectUser: "0", expectErr: ErrUnknownRequest},
		{name: "EmptyName", line: `{"ReqType":"SignUp","Message":""}`, expectErr: ErrMalformedPayload},
		{name: "NameNotString", line: `{"ReqType":"SignIn","Message":{"name":"x"}}`, expectErr: ErrMalformedPayload},
		{name: "OrderNotObject", line: `{"UserId":"0","ReqType":"Buy","Message":"10 RU"}`, expectUser: "0", expectErr: ErrMalformedPayload},
		{name: "OrderMissingCurrency", line: `{"UserId":"0","ReqType":"Buy","Message":{"volume":{"value":1},"price":{"currencyType":"USD","value":1}}}`, expectUser: "0", expectErr: ErrMalformedPayload},
		{name: "OrderBadValue", line: `{"UserId":"0","ReqType":"Buy","Message":{"volume":{"currencyType":"RU","value":"ten"},"price":{"currencyType":"USD","value":1}}}`, expectUser: "0", expectErr: ErrMalformedPayload},
		{name: "DepositMissing", line: `{"UserId":"0","ReqType":"Deposit"}`, expectUser: "0", expectErr: ErrMalformedPayload},
		{name: "CancelEmpty", line: `{"UserId":"0","ReqType":"Cancel","Message":{}}`, expectUser: "0", expectErr: ErrMalformedPayload},
		{name: "CancelBoth", line: `{"UserId":"0","ReqType":"Cancel","Message":{"id":1,"index":1}}`, expectUser: "0", expectErr: ErrMalformedPayload},
		{name: "CancelZeroIndex", line: `{"UserId":"0","ReqType":"Cancel","Message":0}`, expectUser: "0", expectErr: ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, req, err := Decode([]byte(tt.line))
			assert.Equal(t, tt.expectUser, user)
			if tt.expectErr != nil {
				assert.True(t, errors.Is(err, tt.expectErr), "got %v", err)
				assert.Nil(t, req)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectReq, req)
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	requests := []Request{
		SignIn{Name: "alice"},
		SignUp{Name: "bob"},
		PlaceOrder{Side: models.SideSell, Volume: models.CurrencyAmount{Currency: "RU", Value: 1}, Price: models.CurrencyAmount{Currency: "USD", Value: 2}},
		Balance{},
		Deposit{Amount: models.CurrencyAmount{Currency: "USD", Value: 3}},
		Withdraw{Amount: models.CurrencyAmount{Currency: "RU", Value: 4}},
		Orders{},
		Cancel{OrderID: 5},
		Cancel{Index: 1},
		Exit{},
	}

	for _, req := range requests {
		t.Run(string(req.Kind()), func(t *testing.T) {
			line, err := Encode("7", req)
			require.NoError(t, err)
			user, got, err := Decode(line)
			require.NoError(t, err)
			assert.Equal(t, "7", user)
			assert.Equal(t, req, got)
		})
	}
}

func TestEncodeOrders(t *testing.T) {
	reply, err := EncodeOrders(nil)
	require.NoError(t, err)
	assert.Equal(t, ReplyNoOrders, reply)

	created := time.Unix(1700000000, 0)
	orders := []models.Order{
		{ID: 3, Side: models.SideBuy, Volume: models.CurrencyAmount{Currency: "RU", Value: 10}, Price: models.CurrencyAmount{Currency: "USD", Value: 5}, CreatedAt: created},
		{ID: 8, Side: models.SideSell, Volume: models.CurrencyAmount{Currency: "USD", Value: 1}, Price: models.CurrencyAmount{Currency: "RU", Value: 9}, CreatedAt: created},
	}
	reply, err = EncodeOrders(orders)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"count": 2,
		"1": {"id": 3, "volume": {"currencyType": "RU", "value": 10}, "price": {"currencyType": "USD", "value": 5}, "type": 1, "time": 1700000000},
		"2": {"id": 8, "volume": {"currencyType": "USD", "value": 1}, "price": {"currencyType": "RU", "value": 9}, "type": 2, "time": 1700000000}
	}`, reply)

	parsed, err := DecodeOrders(reply)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, uint64(8), parsed[1].ID)
	assert.Equal(t, models.SideSell, parsed[1].Type)
}

func TestReplies(t *testing.T) {
	o := models.Order{ID: 4, Side: models.SideBuy, Volume: models.CurrencyAmount{Currency: "RU", Value: 10}, Price: models.CurrencyAmount{Currency: "USD", Value: 5}}
	assert.Equal(t, "-->Order to buy 10.000000RU for 5.000000USD apiece accepted (id 4)", OrderAccepted(o))
	assert.Equal(t, "-->Cancel order to buy 10.000000RU for 5.000000USD apiece accepted (id 4)", OrderCanceled(o))
	assert.Equal(t, "-->Deposit 100.000000USD accepted", DepositAccepted(models.CurrencyAmount{Currency: "USD", Value: 100}))

	balance, err := EncodeBalance(map[string]float64{"USD": 100, "RU": 0})
	require.NoError(t, err)
	assert.Equal(t, `{"RU":0,"USD":100}`, balance)
}
