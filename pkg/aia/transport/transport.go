// Package transport wraps the MQTT broker connection the engine publishes
// and subscribes through: one client, QoS 0 throughout, one publish path
// per topic built by pkg/aia/topic.
package transport

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler receives the raw payload bytes published to a subscribed topic
// path, exactly as they arrived on the wire (still encrypted/framed).
type Handler func(publishPath string, payload []byte)

// Client owns a single MQTT connection and lazily (re)connects it. It
// satisfies pkg/aia/regulator.Publisher.
type Client struct {
	mu      sync.Mutex
	opts    *mqtt.ClientOptions
	client  mqtt.Client
	onError func(error)
}

// Config describes how to reach the broker.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration

	// ConnectTimeout bounds the initial Connect attempt. Defaults to 10s
	// when zero. Subsequent drops are handled by paho's own auto-reconnect.
	ConnectTimeout time.Duration
}

// New returns a Client configured to connect lazily on first use.
func New(cfg Config, onError func(error)) *Client {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 10 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(cfg.KeepAlive)

	c := &Client{onError: onError}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.reportError(fmt.Errorf("transport: connection lost: %w", err))
	})
	c.opts = opts
	return c
}

func (c *Client) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

// connectLocked returns the live client, connecting it first if necessary.
// Caller must hold c.mu.
func (c *Client) connectLocked() (mqtt.Client, error) {
	if c.client != nil && c.client.IsConnected() {
		return c.client, nil
	}
	client := mqtt.NewClient(c.opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("transport: connecting to broker: %w", token.Error())
	}
	c.client = client
	return client, nil
}

// Publish sends payload to publishPath at QoS 0, connecting first if the
// client is not yet connected.
func (c *Client) Publish(publishPath string, payload []byte) error {
	c.mu.Lock()
	client, err := c.connectLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	token := client.Publish(publishPath, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("transport: publishing to %s: %w", publishPath, token.Error())
	}
	return nil
}

// Subscribe registers handler for every message arriving on publishPath at
// QoS 0, connecting first if necessary.
func (c *Client) Subscribe(publishPath string, handler Handler) error {
	c.mu.Lock()
	client, err := c.connectLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	token := client.Subscribe(publishPath, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("transport: subscribing to %s: %w", publishPath, token.Error())
	}
	return nil
}

// Close disconnects the underlying client, waiting up to 250ms for
// in-flight work to drain.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.client = nil
}
