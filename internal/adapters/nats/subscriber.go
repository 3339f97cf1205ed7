package natsadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/terragrid/internal/core/domain"
	"github.com/samirrijal/terragrid/internal/core/usecases"
)

// GridRequestMessage is the JSON body of a message on SubjectGridRequests.
type GridRequestMessage struct {
	Lat            float64  `json:"lat"`
	Lon            float64  `json:"lon"`
	RadiusMeters   float64  `json:"radius_m"`
	CellSizeMeters float64  `json:"cell_size_m"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	Sources        []string `json:"sources,omitempty"`
}

// ToRequest converts the message into a pipeline request.
func (m GridRequestMessage) ToRequest() usecases.GridRequest {
	return usecases.GridRequest{
		Center:         domain.GeoPoint{Lat: m.Lat, Lon: m.Lon},
		RadiusMeters:   m.RadiusMeters,
		CellSizeMeters: m.CellSizeMeters,
		Width:          m.Width,
		Height:         m.Height,
		Sources:        m.Sources,
	}
}

// DecodeGridRequest parses a request message body.
func DecodeGridRequest(data []byte) (usecases.GridRequest, error) {
	var m GridRequestMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return usecases.GridRequest{}, fmt.Errorf("decode grid request: %w", err)
	}
	return m.ToRequest(), nil
}

// Subscriber consumes grid requests from NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := connect(url)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeGridRequests runs handler for each request message. Malformed
// and invalid requests are terminated; other handler errors are redelivered
// up to three times.
func (s *Subscriber) SubscribeGridRequests(ctx context.Context, handler func(ctx context.Context, req usecases.GridRequest) error) error {
	sub, err := s.js.Subscribe(SubjectGridRequests, func(msg *nats.Msg) {
		req, err := DecodeGridRequest(msg.Data)
		if err != nil {
			_ = msg.Term()
			return
		}
		if err := handler(ctx, req); err != nil {
			if errors.Is(err, domain.ErrInvalidRequest) {
				_ = msg.Term()
			} else {
				_ = msg.Nak()
			}
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("grid-generator"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
