package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const originHeader = "Castmatch-Origin"

// NATSBridge fans room emissions out to other instances over core NATS.
type NATSBridge struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	prefix string
	hub    *Hub
	log    zerolog.Logger
}

// ConnectNATS dials the server with reconnects enabled.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

func NewNATSBridge(nc *nats.Conn, prefix string, hub *Hub, log zerolog.Logger) *NATSBridge {
	if prefix == "" {
		prefix = "castmatch.relay"
	}
	return &NATSBridge{
		nc:     nc,
		prefix: strings.TrimSuffix(prefix, "."),
		hub:    hub,
		log:    log.With().Str("component", "relay-nats").Logger(),
	}
}

// Subject maps a room to its NATS subject.
func (b *NATSBridge) Subject(room string) string {
	return b.prefix + "." + room
}

// Room maps a subject back to its room.
func (b *NATSBridge) Room(subject string) (string, bool) {
	head := b.prefix + "."
	if !strings.HasPrefix(subject, head) || len(subject) == len(head) {
		return "", false
	}
	return strings.TrimPrefix(subject, head), true
}

// Start subscribes to every room subject and attaches the bridge to the hub.
func (b *NATSBridge) Start() error {
	sub, err := b.nc.Subscribe(b.prefix+".>", b.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.prefix, err)
	}
	b.sub = sub
	b.hub.AttachBridge(b)
	b.log.Info().Str("subject", b.prefix+".>").Str("instance", b.hub.InstanceID()).Msg("relay bridge started")
	return nil
}

// Publish implements Publisher.
func (b *NATSBridge) Publish(room string, frame []byte) error {
	msg := nats.NewMsg(b.Subject(room))
	msg.Header.Set(originHeader, b.hub.InstanceID())
	msg.Data = frame
	return b.nc.PublishMsg(msg)
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	if msg.Header.Get(originHeader) == b.hub.InstanceID() {
		return
	}
	room, ok := b.Room(msg.Subject)
	if !ok {
		return
	}
	b.hub.DeliverRemote(room, msg.Data)
}

// Close drains the subscription and the connection.
func (b *NATSBridge) Close() error {
	b.hub.AttachBridge(nil)
	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			b.log.Warn().Err(err).Msg("failed to drain relay subscription")
		}
	}
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
