// Package mqtt publishes detection pipeline events to an MQTT broker so
// downstream consumers (dashboards, alerting) can react without polling.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/errors"
	"github.com/tracewild/camtrap-go/internal/logging"
)

// connectTimeout bounds the initial broker handshake.
const connectTimeout = 30 * time.Second

// publishTimeout bounds a single publish token wait.
const publishTimeout = 10 * time.Second

// Client is a thin wrapper around the paho MQTT client carrying the
// application's connection policy.
type Client struct {
	settings *conf.MQTTSettings
	clientID string
	logger   *slog.Logger

	mu             sync.Mutex
	internalClient pahomqtt.Client
}

// NewClient creates an MQTT client from the application settings. The
// connection is established separately via Connect.
func NewClient(settings *conf.Settings) *Client {
	return &Client{
		settings: &settings.MQTT,
		clientID: settings.Main.Name,
		logger:   logging.ForService("mqtt"),
	}
}

// Connect establishes the broker connection. Hostname resolution happens
// first so DNS problems surface as such instead of a generic timeout.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := url.Parse(c.settings.Broker)
	if err != nil {
		return errors.New(fmt.Errorf("invalid broker URL: %w", err)).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(fmt.Errorf("resolving broker host %s: %w", host, err)).
				Component("mqtt").
				Category(errors.CategoryMQTTPublish).
				Build()
		}
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.settings.Broker)
	opts.SetClientID(c.clientID)
	opts.SetUsername(c.settings.Username)
	opts.SetPassword(c.settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		c.logger.Info("mqtt connected", "broker", c.settings.Broker)
	})

	c.internalClient = pahomqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.Newf("mqtt connection timeout after %v", connectTimeout).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(fmt.Errorf("mqtt connection failed: %w", err)).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	return nil
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(250)
	}
}

// publish marshals the payload as JSON and publishes it under the base topic.
func (c *Client) publish(ctx context.Context, subtopic string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient == nil || !c.internalClient.IsConnected() {
		return errors.NewStd("not connected to MQTT broker")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.New(fmt.Errorf("marshaling mqtt payload: %w", err)).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	topic := c.settings.Topic + "/" + subtopic
	token := c.internalClient.Publish(topic, 0, false, data)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !token.WaitTimeout(publishTimeout) {
		return errors.Newf("publish to %s timed out", topic).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Build()
	}
	return token.Error()
}
