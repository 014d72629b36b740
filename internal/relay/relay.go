// Package relay bridges the local broadcast fan-out over NATS so that every
// server instance delivers the same event stream to its own websocket
// clients.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/eshcamp/esh/internal/events"
	"github.com/eshcamp/esh/internal/gateway"
)

const originHeader = "Esh-Origin"

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Subject:       "esh.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Relay implements events.Broadcaster. Every event goes to the local hub and
// onto the wire; events arriving from peer instances are re-injected into the
// local hub. The origin header keeps an instance from replaying its own
// publishes.
type Relay struct {
	hub        *gateway.Hub
	nc         *nats.Conn
	sub        *nats.Subscription
	subject    string
	instanceID string
}

// New connects to NATS and starts relaying inbound events into the hub.
func New(hub *gateway.Hub, config Config) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	r := &Relay{
		hub:        hub,
		nc:         nc,
		subject:    config.Subject,
		instanceID: uuid.New().String()[:8],
	}

	sub, err := nc.Subscribe(config.Subject, r.handleInbound)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", config.Subject, err)
	}
	r.sub = sub

	log.Info().
		Str("url", config.URL).
		Str("subject", config.Subject).
		Str("instance_id", r.instanceID).
		Msg("event relay started")
	return r, nil
}

// Broadcast delivers the event locally and publishes it for peer instances.
// Publish failures are logged; local clients already got the event.
func (r *Relay) Broadcast(event events.Event) {
	r.hub.Broadcast(event)

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.EventType())).
			Msg("failed to marshal event for relay")
		return
	}
	msg := &nats.Msg{
		Subject: r.subject,
		Data:    data,
		Header:  nats.Header{originHeader: []string{r.instanceID}},
	}
	if err := r.nc.PublishMsg(msg); err != nil {
		log.Error().Err(err).Msg("failed to publish event to relay")
	}
}

func (r *Relay) handleInbound(msg *nats.Msg) {
	if msg.Header.Get(originHeader) == r.instanceID {
		return
	}
	r.hub.BroadcastRaw(msg.Data)
}

// Close drains the subscription and closes the connection.
func (r *Relay) Close() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	r.nc.Close()
}
