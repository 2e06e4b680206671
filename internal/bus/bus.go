// Package bus wraps the MQTT client used to publish and consume platform
// events.
package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	platformerrors "github.com/11bztaylor/TaylorDashv1-sub001/internal/errors"
)

const (
	connectRetryInterval = 1 * time.Second
	maxReconnectInterval = 30 * time.Second

	// handlerTimeout is the per-message soft cap. Handlers exceeding it are
	// abandoned without an ack so the broker redelivers.
	handlerTimeout = 60 * time.Second

	// closeGrace bounds how long Close waits for in-flight handlers.
	closeGrace = 30 * time.Second

	// handlerWorkers bounds concurrent handler invocations.
	handlerWorkers = 32
)

// Handler processes one delivered message. A nil return acks the message;
// an error leaves it unacked for broker redelivery.
type Handler func(ctx context.Context, topic string, payload []byte) error

// Config carries broker connection settings.
type Config struct {
	BrokerURL string
	Username  string
	Password  string
	ClientID  string
}

// Client is the shared bus connection.
type Client struct {
	mqtt mqtt.Client

	inflight sync.WaitGroup
	slots    chan struct{}

	mu     sync.Mutex
	closed bool
}

// Connect establishes the broker connection. The client keeps reconnecting
// across transient failures with exponential backoff capped at 30s.
func Connect(cfg Config) (*Client, error) {
	c := &Client{
		slots: make(chan struct{}, handlerWorkers),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetOrderMatters(false).
		SetAutoAckDisabled(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("Bus connection lost, reconnecting")
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			log.Info().Str("broker", cfg.BrokerURL).Msg("Bus connected")
		})

	c.mqtt = mqtt.NewClient(opts)

	token := c.mqtt.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, platformerrors.Upstream("bus.connect", fmt.Errorf("broker connect timed out"))
	}
	if err := token.Error(); err != nil {
		return nil, platformerrors.Upstream("bus.connect", err)
	}

	return c, nil
}

// Subscribe registers handler for a topic pattern at qos 1. Handler
// invocations run concurrently on a bounded worker pool.
func (c *Client) Subscribe(pattern string, handler Handler) error {
	token := c.mqtt.Subscribe(pattern, 1, func(_ mqtt.Client, msg mqtt.Message) {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.inflight.Add(1)
		c.mu.Unlock()

		c.slots <- struct{}{}
		go func() {
			defer func() {
				<-c.slots
				c.inflight.Done()
			}()
			c.dispatch(msg, handler)
		}()
	})

	if !token.WaitTimeout(10 * time.Second) {
		return platformerrors.Upstream("bus.subscribe", fmt.Errorf("subscribe to %s timed out", pattern))
	}
	if err := token.Error(); err != nil {
		return platformerrors.Upstream("bus.subscribe", err)
	}
	return nil
}

func (c *Client) dispatch(msg mqtt.Message, handler Handler) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	err := handler(ctx, msg.Topic(), msg.Payload())
	if err != nil {
		// No ack: the broker will redeliver after reconnect.
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Bus handler failed, message left for redelivery")
		return
	}
	msg.Ack()
}

// Publish sends payload to topic and, for qos >= 1, blocks until the broker
// acknowledges or ctx expires.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	token := c.mqtt.Publish(topic, qos, false, payload)
	if qos == 0 {
		return nil
	}

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return platformerrors.Upstream("bus.publish", err)
		}
		return nil
	case <-ctx.Done():
		return platformerrors.New(platformerrors.KindTimeout, "bus.publish", ctx.Err())
	}
}

// HealthStatus reports the bus connection state.
type HealthStatus struct {
	Connected bool `json:"connected"`
	Inflight  int  `json:"inflight_handlers"`
}

// Health reports connection state and in-flight handler count.
func (c *Client) Health() HealthStatus {
	return HealthStatus{
		Connected: c.mqtt.IsConnectionOpen(),
		Inflight:  len(c.slots),
	}
}

// Close stops accepting deliveries, waits up to 30s for in-flight handlers,
// then disconnects.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(closeGrace):
		log.Warn().Msg("Bus close grace expired with handlers still in flight")
	}

	c.mqtt.Disconnect(uint(250))
}

// TopicMatches reports whether an MQTT topic matches a subscription pattern.
// "+" matches exactly one level, "#" matches any remaining levels and must
// be the final element.
func TopicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")

	for i, pp := range patternParts {
		if pp == "#" {
			return i == len(patternParts)-1
		}
		if i >= len(topicParts) {
			return false
		}
		if pp != "+" && pp != topicParts[i] {
			return false
		}
	}

	return len(patternParts) == len(topicParts)
}
