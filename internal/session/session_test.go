package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/venue/internal/exchange"
	"github.com/xtrntr/venue/internal/logging"
	"github.com/xtrntr/venue/internal/protocol"
)

func newTestExchange() *exchange.Exchange {
	return exchange.NewExchange(logging.NewTestLogger(), exchange.Options{
		Currencies:        []string{"RU", "USD"},
		MaxMatchesPerTick: 1,
	})
}

type countingRecorder struct {
	ok, failed map[string]int
}

func (r *countingRecorder) RequestHandled(kind string, ok bool) {
	if ok {
		r.ok[kind]++
	} else {
		r.failed[kind]++
	}
}

func newSession(ex Exchange, rec Recorder) *Session {
	server, _ := net.Pipe()
	return New(server, ex, logging.NewTestLogger(), rec)
}

func TestSession_StateMachine(t *testing.T) {
	ex := newTestExchange()
	rec := &countingRecorder{ok: map[string]int{}, failed: map[string]int{}}
	s := newSession(ex, rec)
	assert.Equal(t, Unauthenticated, s.State())

	// Trading before sign in has no identity to act for.
	assert.Equal(t, protocol.ReplyUnknownUser, s.Handle([]byte(`{"UserId":"0","ReqType":"Balance"}`)))
	assert.Equal(t, Unauthenticated, s.State())

	assert.Equal(t, protocol.ReplyUnknownUser, s.Handle([]byte(`{"ReqType":"SignIn","Message":"alice"}`)))
	assert.Equal(t, Unauthenticated, s.State())

	assert.Equal(t, "0", s.Handle([]byte(`{"ReqType":"SignUp","Message":"alice"}`)))
	assert.Equal(t, Authenticated, s.State())
	assert.Equal(t, "0", s.UserID())

	assert.Equal(t, protocol.ReplyBye, s.Handle([]byte(`{"UserId":"0","ReqType":"Exit"}`)))
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, protocol.ReplyBye, s.Handle([]byte(`{"UserId":"0","ReqType":"Balance"}`)))

	assert.Equal(t, 1, rec.ok["SignUp"])
	assert.Equal(t, 1, rec.ok["Exit"])
	assert.Equal(t, 1, rec.failed["Balance"])
	assert.Equal(t, 1, rec.failed["SignIn"])
}

func TestSession_Handle(t *testing.T) {
	ex := newTestExchange()
	s := newSession(ex, nil)
	require.Equal(t, "0", s.Handle([]byte(`{"ReqType":"SignUp","Message":"alice"}`)))

	tests := []struct {
		name   string
		line   string
		expect string
	}{
		{name: "Balance", line: `{"UserId":"0","ReqType":"Balance"}`, expect: `{"RU":0,"USD":0}`},
		{name: "Deposit", line: `{"UserId":"0","ReqType":"Deposit","Message":{"currencyType":"USD","value":100}}`, expect: "-->Deposit 100.000000USD accepted"},
		{name: "BalanceAfterDeposit", line: `{"UserId":"0","ReqType":"Balance"}`, expect: `{"RU":0,"USD":100}`},
		{name: "Withdraw", line: `{"UserId":"0","ReqType":"Withdraw","Message":{"currencyType":"USD","value":30}}`, expect: "-->Withdraw 30.000000USD accepted"},
		{name: "DepositUnknownCurrency", line: `{"UserId":"0","ReqType":"Deposit","Message":{"currencyType":"EUR","value":1}}`, expect: `Error! currency "EUR": currency mismatch`},
		{name: "NoOrders", line: `{"UserId":"0","ReqType":"Orders"}`, expect: protocol.ReplyNoOrders},
		{name: "Buy", line: `{"UserId":"0","ReqType":"Buy","Message":{"volume":{"currencyType":"RU","value":10},"price":{"currencyType":"USD","value":5}}}`, expect: "-->Order to buy 10.000000RU for 5.000000USD apiece accepted (id 1)"},
		{name: "BuySameCurrency", line: `{"UserId":"0","ReqType":"Buy","Message":{"volume":{"currencyType":"USD","value":10},"price":{"currencyType":"USD","value":5}}}`, expect: "Error! volume and price both in USD: currency mismatch"},
		{name: "CancelMissing", line: `{"UserId":"0","ReqType":"Cancel","Message":{"id":99}}`, expect: "Error! order 99: order not found"},
		{name: "CancelByIndex", line: `{"UserId":"0","ReqType":"Cancel","Message":1}`, expect: "-->Cancel order to buy 10.000000RU for 5.000000USD apiece accepted (id 1)"},
		{name: "OtherRequester", line: `{"UserId":"5","ReqType":"Balance"}`, expect: protocol.ReplyUnknownUser},
		{name: "EmptyRequesterUsesSession", line: `{"ReqType":"Balance"}`, expect: `{"RU":0,"USD":70}`},
		{name: "UnknownRequest", line: `{"UserId":"0","ReqType":"Teleport"}`, expect: protocol.ReplyUnknownRequest},
		{name: "Malformed", line: `{"UserId":"0","ReqType":"Deposit","Message":"lots"}`, expect: "Error! malformed payload: Deposit: expected a JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, s.Handle([]byte(tt.line)))
			assert.Equal(t, Authenticated, s.State())
		})
	}
}

func TestSession_UnknownUserDoesNotMutate(t *testing.T) {
	ex := newTestExchange()
	owner, err := ex.Register("owner")
	require.NoError(t, err)

	s := newSession(ex, nil)
	for _, line := range []string{
		`{"UserId":"0","ReqType":"Deposit","Message":{"currencyType":"USD","value":100}}`,
		`{"UserId":"0","ReqType":"Buy","Message":{"volume":{"currencyType":"RU","value":1},"price":{"currencyType":"USD","value":1}}}`,
		`{"UserId":"0","ReqType":"Cancel","Message":1}`,
	} {
		assert.Equal(t, protocol.ReplyUnknownUser, s.Handle([]byte(line)))
	}

	balance, err := ex.Balance(owner)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"RU": 0, "USD": 0}, balance)
	orders, _ := ex.Orders(owner)
	assert.Empty(t, orders)
}

func TestSession_OutOfRangeAmounts(t *testing.T) {
	ex := newTestExchange()
	s := newSession(ex, nil)
	require.Equal(t, "0", s.Handle([]byte(`{"ReqType":"SignUp","Message":"alice"}`)))

	deposit := `{"UserId":"0","ReqType":"Deposit","Message":{"currencyType":"USD","value":1e308}}`
	reply := s.Handle([]byte(deposit))
	assert.True(t, strings.HasPrefix(reply, "-->Deposit ") && strings.HasSuffix(reply, "USD accepted"), reply)
	assert.Equal(t, `Error! USD balance: amount out of range`, s.Handle([]byte(deposit)))

	// The balance still encodes after the rejected deposit.
	var balance map[string]float64
	require.NoError(t, json.Unmarshal([]byte(s.Handle([]byte(`{"ReqType":"Balance"}`))), &balance))
	assert.Equal(t, 1e308, balance["USD"])

	assert.Equal(t, "Error! order value: amount out of range",
		s.Handle([]byte(`{"ReqType":"Buy","Message":{"volume":{"currencyType":"RU","value":1e200},"price":{"currencyType":"USD","value":1e200}}}`)))
	assert.Equal(t, protocol.ReplyNoOrders, s.Handle([]byte(`{"ReqType":"Orders"}`)))
}

// client drives the far end of a pipe.
type client struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (c *client) send(t *testing.T, line string) string {
	t.Helper()
	require.NoError(t, c.conn.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := fmt.Fprintf(c.conn, "%s\n", line)
	require.NoError(t, err)
	reply, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	return reply[:len(reply)-1]
}

func serve(t *testing.T, ex Exchange) (*client, <-chan error, context.CancelFunc) {
	t.Helper()
	server, conn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	s := New(server, ex, logging.NewTestLogger(), nil)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		conn.Close()
	})
	return &client{conn: conn, reader: bufio.NewReader(conn)}, done, cancel
}

func TestSession_Serve(t *testing.T) {
	ex := newTestExchange()
	c, done, _ := serve(t, ex)

	id := c.send(t, `{"ReqType":"SignUp","Message":"alice"}`)
	assert.Equal(t, "0", id)

	c.send(t, `{"UserId":"0","ReqType":"Sell","Message":{"volume":{"currencyType":"RU","value":2},"price":{"currencyType":"USD","value":3}}}`)
	reply := c.send(t, `{"UserId":"0","ReqType":"Orders"}`)
	listing, err := protocol.DecodeOrders(reply)
	require.NoError(t, err)
	require.Len(t, listing, 1)
	assert.Equal(t, uint64(1), listing[0].ID)

	// Blank lines are skipped, not answered.
	_, err = fmt.Fprint(c.conn, "\n")
	require.NoError(t, err)
	var balance map[string]float64
	require.NoError(t, json.Unmarshal([]byte(c.send(t, `{"ReqType":"Balance"}`)), &balance))
	assert.Equal(t, map[string]float64{"RU": 0, "USD": 0}, balance)

	assert.Equal(t, protocol.ReplyUnknownRequest, c.send(t, `{"ReqType":"Nope"}`))
	assert.Equal(t, protocol.ReplyBye, c.send(t, `{"ReqType":"Exit"}`))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after Exit")
	}
}

func TestSession_ServeOversizedLine(t *testing.T) {
	ex := newTestExchange()
	c, _, _ := serve(t, ex)

	huge := `{"ReqType":"SignUp","Message":"` + strings.Repeat("a", 70*1024) + `"}`
	assert.Equal(t, "Error! malformed payload: request too large", c.send(t, huge))

	// The connection keeps serving after the oversized request.
	assert.Equal(t, "0", c.send(t, `{"ReqType":"SignUp","Message":"alice"}`))
	assert.Equal(t, protocol.ReplyBye, c.send(t, `{"ReqType":"Exit"}`))
}

func TestSession_ServeStopsOnDisconnect(t *testing.T) {
	ex := newTestExchange()
	c, done, _ := serve(t, ex)
	c.send(t, `{"ReqType":"SignUp","Message":"alice"}`)
	c.conn.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not notice the disconnect")
	}

	// The exchange is unaffected by the dropped connection.
	balance, err := ex.Balance("0")
	require.NoError(t, err)
	assert.Len(t, balance, 2)
}

func TestSession_ServeStopsOnCancel(t *testing.T) {
	ex := newTestExchange()
	_, done, cancel := serve(t, ex)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop on cancel")
	}
}
