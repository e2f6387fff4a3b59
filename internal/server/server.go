package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/xtrntr/venue/internal/exchange"
	"github.com/xtrntr/venue/internal/logging"
	"github.com/xtrntr/venue/internal/models"
	"github.com/xtrntr/venue/internal/session"
	"go.uber.org/zap"
)

// Observer is told about sessions and matching ticks. All methods must be
// safe for concurrent use.
type Observer interface {
	session.Recorder
	SessionOpened()
	SessionClosed()
	TickCompleted(trades []models.Trade)
}

// TradeSink receives the trades of each tick after the exchange lock has been
// released.
type TradeSink func(ctx context.Context, trades []models.Trade)

type nopObserver struct{}

func (nopObserver) RequestHandled(string, bool)   {}
func (nopObserver) SessionOpened()                {}
func (nopObserver) SessionClosed()                {}
func (nopObserver) TickCompleted([]models.Trade) {}

// Server owns the shared exchange, accepts protocol connections and drives
// the matching engine on a fixed period.
type Server struct {
	ex           *exchange.Exchange
	log          *logging.Logger
	tickInterval time.Duration
	observer     Observer
	sinks        []TradeSink

	mu       sync.Mutex
	sessions map[uint64]net.Conn
	nextConn uint64
	wg       sync.WaitGroup
}

// Options configures a Server
type Options struct {
	TickInterval time.Duration
	Observer     Observer // may be nil
}

// New creates a server around ex
func New(ex *exchange.Exchange, log *logging.Logger, opts Options) *Server {
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	return &Server{
		ex:           ex,
		log:          log.Named("server"),
		tickInterval: opts.TickInterval,
		observer:     opts.Observer,
		sessions:     make(map[uint64]net.Conn),
	}
}

// OnTrades registers a sink for executed trades. Call before Run.
func (s *Server) OnTrades(sink TradeSink) {
	s.sinks = append(s.sinks, sink)
}

// Exchange returns the shared exchange.
func (s *Server) Exchange() *exchange.Exchange {
	return s.ex
}

// Run accepts connections on lis and runs the matching loop until ctx is
// cancelled. It closes lis and every open session before returning.
func (s *Server) Run(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info("server started", zap.Stringer("addr", lis.Addr()), zap.Duration("tick", s.tickInterval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.matchLoop(ctx)
	}()

	stop := context.AfterFunc(ctx, func() { lis.Close() })
	defer stop()

	var err error
	for {
		conn, aerr := lis.Accept()
		if aerr != nil {
			if ctx.Err() == nil && !errors.Is(aerr, net.ErrClosed) {
				err = aerr
			}
			break
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}

	cancel()
	s.closeSessions()
	s.wg.Wait()
	s.log.Info("server stopped")
	return err
}

// matchLoop runs one tick per period. Ticks run on this goroutine only, so
// they never overlap; a slow tick delays the next one instead of queueing.
func (s *Server) matchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs the matching engine once and hands the trades to the sinks.
func (s *Server) Tick(ctx context.Context) []models.Trade {
	trades := s.ex.Match()
	s.observer.TickCompleted(trades)
	if len(trades) == 0 {
		return nil
	}
	for _, sink := range s.sinks {
		sink(ctx, trades)
	}
	return trades
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	id := s.addSession(conn)
	defer s.delSession(id)

	s.observer.SessionOpened()
	defer s.observer.SessionClosed()

	sess := session.New(conn, s.ex, s.log, s.observer)
	if err := sess.Serve(ctx); err != nil {
		s.log.Debug("session ended with error", zap.Uint64("conn_id", id), zap.Error(err))
	}
}

func (s *Server) addSession(conn net.Conn) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConn++
	s.sessions[s.nextConn] = conn
	return s.nextConn
}

func (s *Server) delSession(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// SessionCount returns the number of open connections.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.sessions {
		conn.Close()
	}
}
