package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/xtrntr/venue/internal/models"
	"github.com/xtrntr/venue/internal/protocol"
)

// ErrRejected is returned when the venue answers with an error reply.
var ErrRejected = errors.New("request rejected")

// Client speaks the line protocol to a venue. It is safe for concurrent use;
// requests are serialised on the connection.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	userID  string
	timeout time.Duration
}

// Dial connects to the venue at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: 5 * time.Second,
	}
}

// UserID returns the identity bound by the last successful SignUp or SignIn.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Send issues one request and returns the raw reply line.
func (c *Client) Send(req protocol.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := protocol.Encode(c.userID, req)
	if err != nil {
		return "", err
	}
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", err
	}
	if _, err := c.conn.Write(append(msg, '\n')); err != nil {
		return "", fmt.Errorf("send %s: %w", req.Kind(), err)
	}
	reply, err := c.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read %s reply: %w", req.Kind(), err)
	}
	return strings.TrimRight(reply, "\r\n"), nil
}

// SignUp creates a new identity and binds the connection to it.
func (c *Client) SignUp(name string) (string, error) {
	return c.authenticate(protocol.SignUp{Name: name})
}

// SignIn binds the connection to the earliest identity called name.
func (c *Client) SignIn(name string) (string, error) {
	return c.authenticate(protocol.SignIn{Name: name})
}

func (c *Client) authenticate(req protocol.Request) (string, error) {
	reply, err := c.Send(req)
	if err != nil {
		return "", err
	}
	if err := replyError(reply); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.userID = reply
	c.mu.Unlock()
	return reply, nil
}

func (c *Client) Buy(volume, price models.CurrencyAmount) (string, error) {
	return c.expectOK(protocol.PlaceOrder{Side: models.SideBuy, Volume: volume, Price: price, Time: time.Now().Unix()})
}

func (c *Client) Sell(volume, price models.CurrencyAmount) (string, error) {
	return c.expectOK(protocol.PlaceOrder{Side: models.SideSell, Volume: volume, Price: price, Time: time.Now().Unix()})
}

func (c *Client) Deposit(amt models.CurrencyAmount) (string, error) {
	return c.expectOK(protocol.Deposit{Amount: amt})
}

func (c *Client) Withdraw(amt models.CurrencyAmount) (string, error) {
	return c.expectOK(protocol.Withdraw{Amount: amt})
}

// Cancel withdraws a resting order by its ID.
func (c *Client) Cancel(orderID uint64) (string, error) {
	return c.expectOK(protocol.Cancel{OrderID: orderID})
}

// Balance returns the per-currency balance of the bound identity.
func (c *Client) Balance() (map[string]float64, error) {
	reply, err := c.Send(protocol.Balance{})
	if err != nil {
		return nil, err
	}
	if err := replyError(reply); err != nil {
		return nil, err
	}
	var balance map[string]float64
	if err := json.Unmarshal([]byte(reply), &balance); err != nil {
		return nil, fmt.Errorf("decode balance %q: %w", reply, err)
	}
	return balance, nil
}

// Orders returns the resting orders of the bound identity.
func (c *Client) Orders() ([]protocol.OrderPayload, error) {
	reply, err := c.Send(protocol.Orders{})
	if err != nil {
		return nil, err
	}
	if err := replyError(reply); err != nil {
		return nil, err
	}
	return protocol.DecodeOrders(reply)
}

// Exit ends the conversation. The server closes the connection afterwards.
func (c *Client) Exit() error {
	reply, err := c.Send(protocol.Exit{})
	if err != nil {
		return err
	}
	if reply != protocol.ReplyBye {
		return fmt.Errorf("%w: %s", ErrRejected, reply)
	}
	return nil
}

func (c *Client) expectOK(req protocol.Request) (string, error) {
	reply, err := c.Send(req)
	if err != nil {
		return "", err
	}
	return reply, replyError(reply)
}

func replyError(reply string) error {
	switch {
	case reply == protocol.ReplyUnknownUser, reply == protocol.ReplyUnknownRequest,
		strings.HasPrefix(reply, "Error!"):
		return fmt.Errorf("%w: %s", ErrRejected, reply)
	}
	return nil
}
