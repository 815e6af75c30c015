// Package mqtt mirrors committed registry changes to an MQTT broker using
// the Venus dbus-mqtt topic layout:
//
//	N/<portal id>/pvinverter/<device instance><path>  {"value": <value>}
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jabba80/dbus-aurora-pvinverter/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("aurora_pvinverter_%d", rand.IntN(1000)))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	return opts
}

func CreateClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectionLostHandler func(mqtt.Client, error)) *Client {
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &Client{
		client:   mqtt.NewClient(opts),
		cfg:      cfg.MQTT,
		instance: cfg.Device.Instance,
	}
}

type Client struct {
	client   mqtt.Client
	cfg      config.MQTTConfig
	instance uint
}

// PathTopic maps a registry path to its mirror topic. The leading slash of
// the path keeps the topic segments aligned with the D-Bus object tree.
func (c *Client) PathTopic(path string) string {
	return fmt.Sprintf("%s/%s/pvinverter/%d%s", c.cfg.BaseTopic, c.cfg.PortalId, c.instance, path)
}

// ValuePayload renders the dbus-mqtt JSON payload for one value.
func ValuePayload(value any) (string, error) {
	payload, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (c *Client) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *Client) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *Client) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}
