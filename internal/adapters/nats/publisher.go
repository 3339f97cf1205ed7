package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// Subjects and streams used by the terrain pipeline.
const (
	SubjectGridGenerated = "terrain.grid.generated"
	SubjectGridRequests  = "terrain.grid.requests"

	streamGrids    = "TERRAIN_GRIDS"
	streamRequests = "TERRAIN_REQUESTS"
)

// Publisher implements ports.GridPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

func connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("terragrid"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := connect(url)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	// Ensure streams exist
	streams := []nats.StreamConfig{
		{
			Name:      streamGrids,
			Subjects:  []string{SubjectGridGenerated},
			Retention: nats.InterestPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      streamRequests,
			Subjects:  []string{SubjectGridRequests},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    1 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist; update it instead
			if _, err := js.UpdateStream(&cfg); err != nil {
				conn.Close()
				return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishGrid publishes a generated grid as JSON.
func (p *Publisher) PublishGrid(ctx context.Context, event *domain.GridGenerated) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode grid event: %w", err)
	}
	_, err = p.js.Publish(SubjectGridGenerated, data, nats.Context(ctx))
	return err
}

// Conn exposes the underlying connection for core subscriptions such as
// the websocket grid feed.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Connected reports whether the connection is currently up.
func (p *Publisher) Connected() bool {
	return p.conn.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}
