// Package bus republishes selected game events on NATS for consumers
// outside the websocket fan-out.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/ernie/noughts/internal/domain"
)

// DefaultPrefix is used when no subject prefix is configured.
const DefaultPrefix = "noughts"

// published lists the event types that leave the process.
var published = map[string]bool{
	domain.EventGameStarted: true,
	domain.EventGameOver:    true,
	domain.EventStats:       true,
}

// Publisher sends events to <prefix>.<event>. A nil *Publisher is valid
// and drops everything.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials url. Reconnects are retried forever in the background.
func Connect(url, prefix string) (*Publisher, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	nc, err := nats.Connect(url,
		nats.Name("noughts"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &Publisher{nc: nc, prefix: prefix}, nil
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Publish sends ev when its type is one of the published ones. It never
// blocks on the network; failures are logged.
func (p *Publisher) Publish(ev domain.Event) {
	if p == nil || !published[ev.Type] {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.Type).Msg("encoding bus event")
		return
	}
	if err := p.nc.Publish(p.Subject(ev.Type), data); err != nil {
		log.Warn().Err(err).Str("event", ev.Type).Msg("publishing bus event")
	}
}

// Close flushes pending messages and disconnects.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
