// Package relay republishes a session's live frames onto NATS so external
// consumers (result boards, dashboards) can follow a session without
// holding their own socket into the quiz server.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/quizlive/quizlive/internal/conn"
	"github.com/quizlive/quizlive/internal/protocol"
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "quizlive",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Relay decorates a conn.Handler: every authenticated frame is forwarded
// to the wrapped handler first, then mirrored to
// <prefix>.session.<id>.<type>. Publish failures are logged and never
// interfere with dispatch.
type Relay struct {
	nc        *nats.Conn
	prefix    string
	sessionID string
	inner     conn.Handler
}

// New connects to NATS and wraps inner.
func New(cfg Config, sessionID string, inner conn.Handler) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Relay{
		nc:        nc,
		prefix:    cfg.SubjectPrefix,
		sessionID: sessionID,
		inner:     inner,
	}, nil
}

// HandleFrame implements conn.Handler.
func (r *Relay) HandleFrame(env protocol.Envelope, payload any) {
	r.inner.HandleFrame(env, payload)
	r.publish(string(env.Type), env.Data)
}

// HandleConnected implements conn.Handler.
func (r *Relay) HandleConnected() {
	r.inner.HandleConnected()
	r.publish("connected", nil)
}

// HandleDisconnected implements conn.Handler.
func (r *Relay) HandleDisconnected() {
	r.inner.HandleDisconnected()
	r.publish("disconnected", nil)
}

// HandleConnectionLost implements conn.Handler.
func (r *Relay) HandleConnectionLost() {
	r.inner.HandleConnectionLost()
	r.publish("connection_lost", nil)
}

func (r *Relay) publish(eventType string, payload json.RawMessage) {
	subject := fmt.Sprintf("%s.session.%s.%s", r.prefix, r.sessionID, eventType)

	envelope := map[string]any{
		"sessionId": r.sessionID,
		"eventType": eventType,
		"timestamp": time.Now().UTC(),
		"payload":   payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to marshal relay envelope")
		return
	}

	if err := r.nc.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to publish relay event")
	}
}

// Close flushes and closes the NATS connection.
func (r *Relay) Close() {
	if err := r.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("NATS drain failed")
		r.nc.Close()
	}
}
