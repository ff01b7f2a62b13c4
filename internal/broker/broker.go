// Package broker publishes room lifecycle events for downstream consumers
// (analytics, leaderboards). Nothing in the server reads them back.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects, relative to the configured prefix.
const (
	SubjectRoomCreated  = "room.created"
	SubjectRoomDeleted  = "room.deleted"
	SubjectGameStarted  = "game.started"
	SubjectGameFinished = "game.finished"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close() error
}

type RoomEvent struct {
	RoomID   string    `json:"roomId"`
	RoomCode string    `json:"roomCode"`
	RoomName string    `json:"roomName,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

type GameFinishedEvent struct {
	RoomID     string    `json:"roomId"`
	RoomCode   string    `json:"roomCode"`
	Outcome    string    `json:"outcome"`
	WinnerName string    `json:"winnerName,omitempty"`
	Moves      int       `json:"moves"`
	At         time.Time `json:"at"`
}

// Nop discards every event; used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close() error                               { return nil }

// conn is the slice of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

type NATSPublisher struct {
	conn   conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher connects to url and keeps reconnecting forever in the background.
func NewNATSPublisher(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("connect4-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return newPublisher(nc, prefix, logger), nil
}

func newPublisher(c conn, prefix string, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{conn: c, prefix: prefix, logger: logger}
}

// Publish is fire-and-forget core NATS; ctx is only honoured by Close's flush.
func (p *NATSPublisher) Publish(_ context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	full := subject
	if p.prefix != "" {
		full = p.prefix + "." + subject
	}
	if err := p.conn.Publish(full, data); err != nil {
		return fmt.Errorf("publish %s: %w", full, err)
	}
	return nil
}

// Close flushes buffered events and drains the connection.
func (p *NATSPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.conn.FlushWithContext(ctx); err != nil {
		p.logger.Warn("nats flush failed", zap.Error(err))
	}
	return p.conn.Drain()
}
