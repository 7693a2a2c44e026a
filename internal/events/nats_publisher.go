package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsPublisher publishes Events to NATS, adapted from the teacher's
// queue/nats.Queue connection setup.
type NatsPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func NewNatsPublisher(natsURL string, logger *zap.Logger) (*NatsPublisher, error) {
	opts := []nats.Option{
		nats.Name("imessage-scheduler"),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS for event fan-out", zap.String("url", conn.ConnectedUrl()))
	return &NatsPublisher{conn: conn, logger: logger}, nil
}

func (p *NatsPublisher) Close() {
	p.conn.Close()
}

func (p *NatsPublisher) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("failed to encode event", zap.Error(err))
		return
	}

	if err := p.conn.Publish(subject(ev.Status), payload); err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("message_id", ev.MessageID.String()),
			zap.String("status", ev.Status),
			zap.Error(err))
	}
}
