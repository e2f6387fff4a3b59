package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/xtrntr/venue/internal/exchange"
	"github.com/xtrntr/venue/internal/logging"
	"github.com/xtrntr/venue/internal/models"
	"github.com/xtrntr/venue/internal/protocol"
	"go.uber.org/zap"
)

const maxLineSize = 64 * 1024

// State is the protocol state of one connection.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Closed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// Exchange is the part of the exchange a session drives.
type Exchange interface {
	Register(name string) (string, error)
	SignIn(name string) (string, error)
	Balance(userID string) (map[string]float64, error)
	Deposit(userID string, amt models.CurrencyAmount) error
	Withdraw(userID string, amt models.CurrencyAmount) error
	PlaceOrder(userID string, side models.Side, volume, price models.CurrencyAmount) (models.Order, error)
	CancelOrder(userID string, orderID uint64) (models.Order, error)
	CancelOrderAt(userID string, index int) (models.Order, error)
	Orders(userID string) ([]models.Order, error)
}

// Recorder is told about every handled request.
type Recorder interface {
	RequestHandled(kind string, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) RequestHandled(string, bool) {}

// Session serves the request/reply protocol on one connection. Requests are
// handled one at a time; each gets exactly one reply line.
type Session struct {
	conn     net.Conn
	ex       Exchange
	log      *logging.Logger
	recorder Recorder

	state  State
	userID string
}

// New creates a session for conn. recorder may be nil.
func New(conn net.Conn, ex Exchange, log *logging.Logger, recorder Recorder) *Session {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Session{
		conn:     conn,
		ex:       ex,
		log:      log.Named("session").With(zap.Stringer("remote", conn.RemoteAddr())),
		recorder: recorder,
		state:    Unauthenticated,
	}
}

// State returns the current protocol state
func (s *Session) State() State {
	return s.state
}

// UserID returns the bound identity, empty until sign in.
func (s *Session) UserID() string {
	return s.userID
}

// Serve reads requests until the peer disconnects, sends Exit, ctx is
// cancelled or the transport fails. The connection is closed on return. A
// clean end of the conversation returns nil.
func (s *Session) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()
	defer s.close()

	r := bufio.NewReaderSize(s.conn, maxLineSize)
	w := bufio.NewWriter(s.conn)

	for {
		line, tooLong, err := readLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return s.transportError("read", err)
		}

		var reply string
		if tooLong {
			s.log.Debug("rejected oversized request")
			s.recorder.RequestHandled("invalid", false)
			reply = protocol.Failure(protocol.ErrMalformedPayload.Error() + ": request too large")
		} else {
			text := strings.TrimSpace(string(line))
			if text == "" {
				continue
			}
			reply = s.Handle([]byte(text))
		}

		if _, err := w.WriteString(sanitize(reply) + "\n"); err != nil {
			return s.transportError("write", err)
		}
		if err := w.Flush(); err != nil {
			return s.transportError("write", err)
		}
		if s.state == Closed {
			return nil
		}
	}
}

// readLine returns the next newline-terminated line. A line longer than the
// reader's buffer is consumed and discarded, and reported with tooLong set.
// The returned slice is only valid until the next read.
func readLine(r *bufio.Reader) (line []byte, tooLong bool, err error) {
	line, err = r.ReadSlice('\n')
	switch {
	case err == nil:
		return line, false, nil
	case errors.Is(err, bufio.ErrBufferFull):
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = r.ReadSlice('\n')
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, false, err
		}
		return nil, true, nil
	case errors.Is(err, io.EOF) && len(line) > 0:
		// Last request without a trailing newline.
		return line, false, nil
	default:
		return nil, false, err
	}
}

func (s *Session) close() {
	s.state = Closed
	s.conn.Close()
	s.log.Debug("session closed", zap.String("user_id", s.userID))
}

func (s *Session) transportError(op string, err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	s.log.Warn("session transport failed", zap.String("op", op), zap.Error(err))
	return err
}

// Handle processes one wire message and returns the reply text.
func (s *Session) Handle(line []byte) string {
	if s.state == Closed {
		return protocol.ReplyBye
	}

	requester, req, err := protocol.Decode(line)
	if err != nil {
		kind := "invalid"
		var reply string
		if errors.Is(err, protocol.ErrUnknownRequest) {
			kind = "unknown"
			reply = protocol.ReplyUnknownRequest
		} else {
			reply = protocol.Failure(err.Error())
		}
		s.log.Debug("rejected request", zap.Error(err))
		s.recorder.RequestHandled(kind, false)
		return reply
	}

	reply, err := s.dispatch(requester, req)
	s.recorder.RequestHandled(string(req.Kind()), err == nil)
	if err != nil {
		return s.replyForError(req.Kind(), err)
	}
	return reply
}

func (s *Session) dispatch(requester string, req protocol.Request) (string, error) {
	switch r := req.(type) {
	case protocol.SignUp:
		id, err := s.ex.Register(r.Name)
		if err != nil {
			return "", err
		}
		s.bind(id)
		return id, nil
	case protocol.SignIn:
		id, err := s.ex.SignIn(r.Name)
		if err != nil {
			return "", err
		}
		s.bind(id)
		return id, nil
	case protocol.Exit:
		s.state = Closed
		return protocol.ReplyBye, nil
	}

	// Everything else needs a bound identity, and a requester that names a
	// different user does not resolve.
	if s.state != Authenticated || (requester != "" && requester != s.userID) {
		return "", exchange.ErrUnknownUser
	}
	userID := s.userID

	switch r := req.(type) {
	case protocol.PlaceOrder:
		o, err := s.ex.PlaceOrder(userID, r.Side, r.Volume, r.Price)
		if err != nil {
			return "", err
		}
		return protocol.OrderAccepted(o), nil
	case protocol.Balance:
		balance, err := s.ex.Balance(userID)
		if err != nil {
			return "", err
		}
		return protocol.EncodeBalance(balance)
	case protocol.Deposit:
		if err := s.ex.Deposit(userID, r.Amount); err != nil {
			return "", err
		}
		return protocol.DepositAccepted(r.Amount), nil
	case protocol.Withdraw:
		if err := s.ex.Withdraw(userID, r.Amount); err != nil {
			return "", err
		}
		return protocol.WithdrawAccepted(r.Amount), nil
	case protocol.Orders:
		orders, err := s.ex.Orders(userID)
		if err != nil {
			return "", err
		}
		return protocol.EncodeOrders(orders)
	case protocol.Cancel:
		var (
			o   models.Order
			err error
		)
		if r.OrderID != 0 {
			o, err = s.ex.CancelOrder(userID, r.OrderID)
		} else {
			o, err = s.ex.CancelOrderAt(userID, r.Index)
		}
		if err != nil {
			return "", err
		}
		return protocol.OrderCanceled(o), nil
	}
	return "", protocol.ErrUnknownRequest
}

func (s *Session) bind(userID string) {
	s.userID = userID
	s.state = Authenticated
	s.log.Info("session authenticated", zap.String("user_id", userID))
}

func (s *Session) replyForError(kind protocol.Kind, err error) string {
	switch {
	case errors.Is(err, exchange.ErrUnknownUser):
		return protocol.ReplyUnknownUser
	case errors.Is(err, protocol.ErrUnknownRequest):
		return protocol.ReplyUnknownRequest
	case errors.Is(err, exchange.ErrCurrencyMismatch),
		errors.Is(err, exchange.ErrInvalidOrder),
		errors.Is(err, exchange.ErrInvalidAmount),
		errors.Is(err, exchange.ErrInvalidName),
		errors.Is(err, exchange.ErrOrderNotFound),
		errors.Is(err, exchange.ErrAmountOutOfRange):
		return protocol.Failure(err.Error())
	default:
		s.log.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
		return protocol.Failure("internal error")
	}
}

func sanitize(reply string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(reply)
}
