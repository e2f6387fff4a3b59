package main

import (
	"context"
	"flag"
	"time"

	"github.com/xtrntr/venue/internal/client"
	"github.com/xtrntr/venue/internal/logging"
	"github.com/xtrntr/venue/internal/models"
	"go.uber.org/zap"
)

// Seed a running venue with two traders and a crossing pair of orders, then
// report the balances once the next tick has matched them.
func main() {
	addr := flag.String("addr", "localhost:5555", "venue session address")
	base := flag.String("base", "RU", "currency bought and sold")
	quote := flag.String("quote", "USD", "currency prices are quoted in")
	wait := flag.Duration("wait", 2*time.Second, "how long to wait for the match")
	flag.Parse()

	log := logging.NewLoggerFromEnv("dev").Named("seed")
	defer log.AtExit()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	buyer := connect(ctx, log, *addr, "trader1")
	defer buyer.Close()
	seller := connect(ctx, log, *addr, "trader2")
	defer seller.Close()

	amt := func(c string, v float64) models.CurrencyAmount { return models.CurrencyAmount{Currency: c, Value: v} }

	steps := []struct {
		name string
		do   func() (string, error)
	}{
		{"buyer deposit", func() (string, error) { return buyer.Deposit(amt(*quote, 1000)) }},
		{"seller deposit", func() (string, error) { return seller.Deposit(amt(*base, 100)) }},
		{"buy", func() (string, error) { return buyer.Buy(amt(*base, 10), amt(*quote, 5)) }},
		{"sell", func() (string, error) { return seller.Sell(amt(*base, 4), amt(*quote, 4.5)) }},
	}
	for _, step := range steps {
		reply, err := step.do()
		if err != nil {
			log.Fatal("seed step failed", zap.String("step", step.name), zap.Error(err))
		}
		log.Info(reply, zap.String("step", step.name))
	}

	time.Sleep(*wait)

	for name, c := range map[string]*client.Client{"trader1": buyer, "trader2": seller} {
		balance, err := c.Balance()
		if err != nil {
			log.Fatal("balance failed", zap.String("trader", name), zap.Error(err))
		}
		orders, err := c.Orders()
		if err != nil {
			log.Fatal("orders failed", zap.String("trader", name), zap.Error(err))
		}
		log.Info("trader state", zap.String("trader", name), zap.Any("balance", balance), zap.Int("open_orders", len(orders)))
		if err := c.Exit(); err != nil {
			log.Warn("exit failed", zap.String("trader", name), zap.Error(err))
		}
	}
}

func connect(ctx context.Context, log *logging.Logger, addr, name string) *client.Client {
	c, err := client.Dial(ctx, addr)
	if err != nil {
		log.Fatal("failed to connect", zap.Error(err))
	}
	id, err := c.SignUp(name)
	if err != nil {
		log.Fatal("sign up failed", zap.String("name", name), zap.Error(err))
	}
	log.Info("signed up", zap.String("name", name), zap.String("user_id", id))
	return c
}
