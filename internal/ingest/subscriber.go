package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const drainTimeout = 10 * time.Second

// ErrNotConnected is returned when the NATS connection is not usable.
var ErrNotConnected = errors.New("not connected to NATS")

// Connect dials NATS with reconnect handling that reports through logger.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	logger = logger.With("component", "nats")
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.PingInterval(20 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DrainTimeout(drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS async error", "subject", subject, "error", err)
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

// Subscriber answers routing requests on a queue subscription, so several
// service instances share the load.
type Subscriber struct {
	conn    *nats.Conn
	subject string
	queue   string
	handler *Handler
	logger  *slog.Logger
}

// NewSubscriber creates a subscriber. Call Run to start consuming.
func NewSubscriber(conn *nats.Conn, subject, queue string, handler *Handler, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		conn:    conn,
		subject: subject,
		queue:   queue,
		handler: handler,
		logger:  logger.With("component", "ingest", "subject", subject),
	}
}

// Run subscribes and blocks until ctx is done, then drains the subscription
// so in-flight messages are answered before returning.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.conn == nil || !s.conn.IsConnected() {
		return ErrNotConnected
	}

	// Messages still draining after ctx is done must not see it canceled.
	msgCtx := context.WithoutCancel(ctx)
	sub, err := s.conn.QueueSubscribe(s.subject, s.queue, func(msg *nats.Msg) {
		reply := s.handler.Handle(msgCtx, msg.Data)
		if msg.Reply == "" {
			s.logger.Warn("request without reply subject dropped")
			return
		}
		if err := msg.Respond(reply); err != nil {
			s.logger.Error("failed to send reply", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.logger.Info("ingest subscriber started", "queue", s.queue)

	<-ctx.Done()

	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("drain %s: %w", s.subject, err)
	}
	// Drain is asynchronous; the subscription turns invalid once pending
	// messages have been handled.
	deadline := time.Now().Add(drainTimeout)
	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	s.logger.Info("ingest subscriber stopped")
	return nil
}
