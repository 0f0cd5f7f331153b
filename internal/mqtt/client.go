// Package mqtt wraps paho.mqtt.golang with connection management,
// re-subscription on reconnect and JSON publishing.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/colornotifyd/internal/config"
)

const (
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
)

// MessageHandler is the callback for received messages. Handlers run on
// paho goroutines and must not block for long.
type MessageHandler func(topic string, payload []byte)

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client is a connected MQTT client. Safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// Tracked for re-subscription after a reconnect
	subMu         sync.RWMutex
	subscriptions map[string]subscription
}

// Connect builds client options from the config and establishes the initial
// connection, blocking up to the configured connect timeout.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}

	opts := pahomqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.MinRetryBackoff.Duration())
	opts.SetMaxReconnectInterval(cfg.MaxRetryBackoff.Duration())
	opts.SetConnectTimeout(cfg.ConnectTimeout.Duration())
	opts.SetKeepAlive(keepAlive)
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("MQTT connected")
		c.restoreSubscriptions()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost, reconnecting")
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout.Duration()) {
		return nil, fmt.Errorf("mqtt connect timeout after %s", cfg.ConnectTimeout.Duration())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", err)
	}
	return c, nil
}

// Subscribe registers a handler for a topic filter. The subscription is
// restored automatically after reconnects.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	qos := c.cfg.QoS

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("topic", msg.Topic()).Msg("Message handler panicked")
			}
		}()
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe to %q timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %q failed: %w", topic, err)
	}
	log.Debug().Str("topic", topic).Msg("Subscribed")
	return nil
}

// Publish marshals the payload to JSON and publishes it.
func (c *Client) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %q: %w", topic, err)
	}
	token := c.client.Publish(topic, c.cfg.QoS, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %q timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %q failed: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker, letting in-flight operations finish.
func (c *Client) Close() {
	c.client.Disconnect(disconnectQuiesce)
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		subs = append(subs, s)
	}
	c.subMu.RUnlock()

	for _, s := range subs {
		handler := s.handler
		token := c.client.Subscribe(s.topic, s.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			handler(msg.Topic(), msg.Payload())
		})
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", s.topic).Msg("Failed to restore subscription")
		}
	}
}
