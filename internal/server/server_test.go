package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/venue/internal/client"
	"github.com/xtrntr/venue/internal/exchange"
	"github.com/xtrntr/venue/internal/logging"
	"github.com/xtrntr/venue/internal/models"
)

func usd(v float64) models.CurrencyAmount { return models.CurrencyAmount{Currency: "USD", Value: v} }
func ru(v float64) models.CurrencyAmount  { return models.CurrencyAmount{Currency: "RU", Value: v} }

func newTestServer(t *testing.T, tick time.Duration) (*Server, string) {
	t.Helper()
	ex := exchange.NewExchange(logging.NewTestLogger(), exchange.Options{
		Currencies:        []string{"RU", "USD"},
		MaxMatchesPerTick: 1,
	})
	srv := New(ex, logging.NewTestLogger(), Options{TickInterval: tick})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, lis.Addr().String()
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServer_Tick(t *testing.T) {
	// A long period keeps the background loop out of the way.
	srv, addr := newTestServer(t, time.Hour)

	var (
		mu     sync.Mutex
		logged []models.Trade
	)
	srv.OnTrades(func(_ context.Context, trades []models.Trade) {
		mu.Lock()
		defer mu.Unlock()
		logged = append(logged, trades...)
	})

	buyer := dial(t, addr)
	seller := dial(t, addr)
	_, err := buyer.SignUp("buyer")
	require.NoError(t, err)
	_, err = seller.SignUp("seller")
	require.NoError(t, err)

	_, err = buyer.Buy(ru(10), usd(5))
	require.NoError(t, err)
	_, err = seller.Sell(ru(4), usd(5))
	require.NoError(t, err)

	trades := srv.Tick(context.Background())
	require.Len(t, trades, 1)

	mu.Lock()
	assert.Equal(t, trades, logged)
	mu.Unlock()

	bal, err := buyer.Balance()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"RU": 4, "USD": -20}, bal)

	orders, err := buyer.Orders()
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 6.0, orders[0].Volume.Value)

	assert.Empty(t, srv.Tick(context.Background()))
}

func TestServer_MatchLoop(t *testing.T) {
	_, addr := newTestServer(t, 10*time.Millisecond)

	alice := dial(t, addr)
	_, err := alice.SignUp("alice")
	require.NoError(t, err)
	_, err = alice.Sell(ru(1), usd(2))
	require.NoError(t, err)
	_, err = alice.Buy(ru(1), usd(3))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		orders, err := alice.Orders()
		return err == nil && len(orders) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_SessionsAreTracked(t *testing.T) {
	srv, addr := newTestServer(t, time.Hour)

	c := dial(t, addr)
	_, err := c.SignUp("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.SessionCount())

	require.NoError(t, c.Exit())
	assert.Eventually(t, func() bool { return srv.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_SharedState(t *testing.T) {
	srv, addr := newTestServer(t, time.Hour)

	first := dial(t, addr)
	id, err := first.SignUp("alice")
	require.NoError(t, err)
	_, err = first.Deposit(usd(50))
	require.NoError(t, err)
	require.NoError(t, first.Exit())

	// A later connection signing in by name sees the same account.
	second := dial(t, addr)
	again, err := second.SignIn("alice")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	bal, err := second.Balance()
	require.NoError(t, err)
	assert.Equal(t, 50.0, bal["USD"])

	name, err := srv.Exchange().UserName(id)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
}
