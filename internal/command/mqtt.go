package command

import (
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const defaultConnectTimeout = 10 * time.Second

var ErrBridgeConnect = errors.New("mqtt bridge: connection failed")

// Broadcaster fans a topic out to every mounted map.
type Broadcaster interface {
	Broadcast(topic string) int
}

type MQTTOptions struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// MQTTBridge forwards commands published on <prefix>/command/<name> to a
// Broadcaster, so a wall display can be recentered from building control.
type MQTTBridge struct {
	log    zerolog.Logger
	target Broadcaster
	prefix string
	qos    byte
	client pahomqtt.Client
}

func NewMQTTBridge(log zerolog.Logger, opts MQTTOptions, target Broadcaster) *MQTTBridge {
	prefix := strings.Trim(strings.TrimSpace(opts.TopicPrefix), "/")
	if prefix == "" {
		prefix = "aedmap"
	}
	b := &MQTTBridge{
		log:    log,
		target: target,
		prefix: prefix,
		qos:    opts.QoS,
	}

	clientID := opts.ClientID
	if clientID == "" {
		clientID = "aedmap-core"
	}
	co := pahomqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(defaultConnectTimeout)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	// Subscriptions are not persisted by the broker for clean sessions.
	co.SetOnConnectHandler(func(c pahomqtt.Client) {
		token := c.Subscribe(b.Topic(), b.qos, func(_ pahomqtt.Client, m pahomqtt.Message) {
			b.handle(m.Topic(), m.Payload())
		})
		if token.WaitTimeout(defaultConnectTimeout) && token.Error() != nil {
			b.log.Error().Err(token.Error()).Str("topic", b.Topic()).Msg("mqtt subscribe failed")
		}
	})
	co.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		b.log.Warn().Err(err).Msg("mqtt connection lost")
	})
	b.client = pahomqtt.NewClient(co)
	return b
}

// Topic is the wildcard subscription the bridge listens on.
func (b *MQTTBridge) Topic() string {
	return b.prefix + "/command/+"
}

func (b *MQTTBridge) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrBridgeConnect, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrBridgeConnect, err)
	}
	b.log.Info().Str("topic", b.Topic()).Msg("mqtt command bridge connected")
	return nil
}

func (b *MQTTBridge) Close() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}

// handle maps the last topic segment onto a command topic. Payloads are
// ignored; commands carry no data.
func (b *MQTTBridge) handle(topic string, _ []byte) {
	name := topic
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		name = topic[i+1:]
	}
	if !Known(name) {
		b.log.Debug().Str("topic", topic).Msg("ignoring unknown mqtt command")
		return
	}
	n := b.target.Broadcast(name)
	b.log.Info().Str("topic", topic).Int("sessions", n).Msg("command received over mqtt")
}
