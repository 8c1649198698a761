package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS publishes and subscribes over a NATS connection.
type NATS struct {
	nc     *nats.Conn
	logger *zap.Logger
	owned  bool
}

// ConnectNATS dials url. token may be empty.
func ConnectNATS(url, token string, logger *zap.Logger) (*NATS, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("assistantd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	logger.Info("connected to nats", zap.String("url", url))
	return &NATS{nc: nc, logger: logger, owned: true}, nil
}

// NewNATS wraps a connection the caller keeps ownership of.
func NewNATS(nc *nats.Conn, logger *zap.Logger) *NATS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATS{nc: nc, logger: logger}
}

func (n *NATS) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validSubject(subject, false); err != nil {
		return err
	}
	data, err := encode(payload)
	if err != nil {
		return err
	}
	if err := n.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers messages on the connection's dispatch goroutine. The
// handler context carries no deadline.
func (n *NATS) Subscribe(subject string, h Handler) (Subscription, error) {
	if err := validSubject(subject, true); err != nil {
		return nil, err
	}
	sub, err := n.nc.Subscribe(subject, func(m *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				n.logger.Error("bus handler panicked",
					zap.String("subject", m.Subject), zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		h(context.Background(), m.Subject, m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return sub, nil
}

// Flush waits until the server has processed everything published so far.
// ctx must carry a deadline.
func (n *NATS) Flush(ctx context.Context) error {
	return n.nc.FlushWithContext(ctx)
}

// Close drains the connection when this bus opened it.
func (n *NATS) Close() error {
	if !n.owned {
		return nil
	}
	return n.nc.Drain()
}
