package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Serial   SerialConfig  `mapstructure:"serial"`
	Device   DeviceConfig  `mapstructure:"device"`
	DBus     DBusConfig    `mapstructure:"dbus"`
	MQTT     MQTTConfig    `mapstructure:"mqtt"`
	Monitor  MonitorConfig `mapstructure:"monitor"`
	Port     uint          `mapstructure:"port"`
	HttpLog  bool          `mapstructure:"http_log"`
}

type SerialConfig struct {
	Port          string `mapstructure:"port"`
	Address       uint   `mapstructure:"address"`
	BaudRate      uint   `mapstructure:"baud_rate"`
	TimeoutMillis uint32 `mapstructure:"timeout_millis"`
}

type DeviceConfig struct {
	Instance    uint    `mapstructure:"instance"`
	ProductId   uint    `mapstructure:"product_id"`
	ProductName string  `mapstructure:"product_name"`
	Position    uint    `mapstructure:"position"`
	MaxPower    float64 `mapstructure:"max_power"`
}

type DBusConfig struct {
	// Bus is "system" on a Venus device, "session" for local development.
	Bus         string `mapstructure:"bus"`
	ServiceName string `mapstructure:"service_name"`
}

type MonitorConfig struct {
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
}

// MQTTConfig enables the optional dbus-mqtt style mirror when Host is set.
type MQTTConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	PortalId  string `mapstructure:"portal_id"`
	BaseTopic string `mapstructure:"base_topic"`
}

func (c MQTTConfig) Enabled() bool {
	return c.Host != ""
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
